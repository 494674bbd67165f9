// Package handlers exposes the REST endpoints of the API.
//
// Handlers are transport-thin: they read path, query and body input, call
// RelationshipService, and translate results and errors into JSON. Viewer
// identity comes from the Identity middleware.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/autopilot"
	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/relationship"
	"github.com/tbourn/go-auras-backend/internal/services"
	"github.com/tbourn/go-auras-backend/internal/utils"
)

// RelationshipService is the set of user actions the handlers call.
// *services.RelationshipService satisfies it.
//
// Implementations must be safe for concurrent use and honor ctx.
type RelationshipService interface {
	Browse(ctx context.Context) ([]domain.Profile, error)
	SearchProfiles(ctx context.Context, q string, k int) ([]services.SearchHit, error)
	Preferences(ctx context.Context) (domain.Preferences, error)
	SavePreferences(ctx context.Context, p domain.Preferences) error

	OpenChat(ctx context.Context, v services.Viewer, counterpartID string) (services.OpenedChat, error)
	Transcript(ctx context.Context, counterpartID string) ([]domain.ChatMessage, error)
	SendMessage(ctx context.Context, v services.Viewer, counterpartID, text string) (services.SentMessage, error)
	RequestMatch(ctx context.Context, counterpartID string) (domain.Match, error)
	StartRealChat(ctx context.Context, counterpartID string) (bool, error)
	RunAutopilot(ctx context.Context, v services.Viewer, counterpartID string) (services.AutopilotOutcome, error)
	DeleteChat(ctx context.Context, counterpartID string) error

	Pending(ctx context.Context) ([]domain.Match, error)
	AcceptMatch(ctx context.Context, matchID string) (domain.Match, error)
	DeclineMatch(ctx context.Context, matchID string) (domain.Match, error)
	Active(ctx context.Context) ([]domain.Match, error)
	OngoingAI(ctx context.Context) ([]relationship.OngoingChat, error)
	CurrentChat(ctx context.Context) (domain.Profile, bool, error)
}

// Handlers groups the API endpoints.
type Handlers struct {
	svc RelationshipService

	// RevealInterval paces autopilot playback on the stream endpoint.
	RevealInterval time.Duration

	// OriginPatterns are the hosts allowed to open the playback websocket
	// cross-origin. Empty means same-origin only.
	OriginPatterns []string
}

// New constructs Handlers bound to svc.
func New(svc RelationshipService) *Handlers {
	return &Handlers{svc: svc, RevealInterval: autopilot.DefaultRevealInterval}
}

// viewer builds the service-level viewer from the identity middleware.
func viewer(c *gin.Context) services.Viewer {
	return services.Viewer{ID: middleware.UserID(c), Name: middleware.UserName(c)}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

func newPagination(page, pageSize, total int) Pagination {
	pages := (total + pageSize - 1) / pageSize
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages, HasNext: page < pages}
}

// clampPagination reads page and page_size, defaulting to 1 and 50 and
// capping page_size at 200.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 50
		maxPageSize     = 200
	)
	return utils.NormalizePage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		defaultPageSize, maxPageSize,
	)
}

// ProfilesResponse lists counterpart profiles.
type ProfilesResponse struct {
	Profiles []domain.Profile `json:"profiles"`
}

// SearchResponse lists ranked browsable profiles.
type SearchResponse struct {
	Query   string               `json:"query"`
	Results []services.SearchHit `json:"results"`
}

// SendMessageRequest is the JSON payload for sending a chat message.
type SendMessageRequest struct {
	// Text is the message body; surrounding whitespace is trimmed.
	Text string `json:"text" binding:"required" example:"What's your favourite hiking trail?"`
}

// ListMessagesResponse wraps a page of a transcript.
type ListMessagesResponse struct {
	Messages   []domain.ChatMessage `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// MatchesResponse lists match records.
type MatchesResponse struct {
	Matches []domain.Match `json:"matches"`
}

// OngoingChatsResponse lists AI-only conversations.
type OngoingChatsResponse struct {
	Chats []relationship.OngoingChat `json:"chats"`
}

// RealChatResponse reports whether the switch happened on this call.
type RealChatResponse struct {
	Started bool `json:"started"`
}

// CurrentChatResponse carries the counterpart last opened, if any.
type CurrentChatResponse struct {
	Profile *domain.Profile `json:"profile"`
}
