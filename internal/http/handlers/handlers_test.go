package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/relationship"
	"github.com/tbourn/go-auras-backend/internal/services"
)

// fakeService implements RelationshipService. Unset hooks return zero values.
type fakeService struct {
	browse       func(context.Context) ([]domain.Profile, error)
	search       func(context.Context, string, int) ([]services.SearchHit, error)
	prefs        func(context.Context) (domain.Preferences, error)
	savePrefs    func(context.Context, domain.Preferences) error
	open         func(context.Context, services.Viewer, string) (services.OpenedChat, error)
	transcript   func(context.Context, string) ([]domain.ChatMessage, error)
	send         func(context.Context, services.Viewer, string, string) (services.SentMessage, error)
	requestMatch func(context.Context, string) (domain.Match, error)
	startReal    func(context.Context, string) (bool, error)
	autopilot    func(context.Context, services.Viewer, string) (services.AutopilotOutcome, error)
	deleteChat   func(context.Context, string) error
	pending      func(context.Context) ([]domain.Match, error)
	accept       func(context.Context, string) (domain.Match, error)
	decline      func(context.Context, string) (domain.Match, error)
	active       func(context.Context) ([]domain.Match, error)
	ongoing      func(context.Context) ([]relationship.OngoingChat, error)
	currentChat  func(context.Context) (domain.Profile, bool, error)
}

func (f *fakeService) Browse(ctx context.Context) ([]domain.Profile, error) {
	if f.browse != nil {
		return f.browse(ctx)
	}
	return nil, nil
}

func (f *fakeService) SearchProfiles(ctx context.Context, q string, k int) ([]services.SearchHit, error) {
	if f.search != nil {
		return f.search(ctx, q, k)
	}
	return nil, nil
}

func (f *fakeService) Preferences(ctx context.Context) (domain.Preferences, error) {
	if f.prefs != nil {
		return f.prefs(ctx)
	}
	return domain.DefaultPreferences(), nil
}

func (f *fakeService) SavePreferences(ctx context.Context, p domain.Preferences) error {
	if f.savePrefs != nil {
		return f.savePrefs(ctx, p)
	}
	return nil
}

func (f *fakeService) OpenChat(ctx context.Context, v services.Viewer, id string) (services.OpenedChat, error) {
	if f.open != nil {
		return f.open(ctx, v, id)
	}
	return services.OpenedChat{Profile: domain.Profile{ID: id}}, nil
}

func (f *fakeService) Transcript(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	if f.transcript != nil {
		return f.transcript(ctx, id)
	}
	return nil, nil
}

func (f *fakeService) SendMessage(ctx context.Context, v services.Viewer, id, text string) (services.SentMessage, error) {
	if f.send != nil {
		return f.send(ctx, v, id, text)
	}
	return services.SentMessage{Message: domain.ChatMessage{Content: text, Sender: domain.SenderUser}}, nil
}

func (f *fakeService) RequestMatch(ctx context.Context, id string) (domain.Match, error) {
	if f.requestMatch != nil {
		return f.requestMatch(ctx, id)
	}
	return domain.Match{ID: "match_" + id, Status: domain.MatchPending}, nil
}

func (f *fakeService) StartRealChat(ctx context.Context, id string) (bool, error) {
	if f.startReal != nil {
		return f.startReal(ctx, id)
	}
	return true, nil
}

func (f *fakeService) RunAutopilot(ctx context.Context, v services.Viewer, id string) (services.AutopilotOutcome, error) {
	if f.autopilot != nil {
		return f.autopilot(ctx, v, id)
	}
	return services.AutopilotOutcome{}, nil
}

func (f *fakeService) DeleteChat(ctx context.Context, id string) error {
	if f.deleteChat != nil {
		return f.deleteChat(ctx, id)
	}
	return nil
}

func (f *fakeService) Pending(ctx context.Context) ([]domain.Match, error) {
	if f.pending != nil {
		return f.pending(ctx)
	}
	return nil, nil
}

func (f *fakeService) AcceptMatch(ctx context.Context, id string) (domain.Match, error) {
	if f.accept != nil {
		return f.accept(ctx, id)
	}
	return domain.Match{ID: id, Status: domain.MatchMatched}, nil
}

func (f *fakeService) DeclineMatch(ctx context.Context, id string) (domain.Match, error) {
	if f.decline != nil {
		return f.decline(ctx, id)
	}
	return domain.Match{ID: id, Status: domain.MatchDeclined}, nil
}

func (f *fakeService) Active(ctx context.Context) ([]domain.Match, error) {
	if f.active != nil {
		return f.active(ctx)
	}
	return nil, nil
}

func (f *fakeService) OngoingAI(ctx context.Context) ([]relationship.OngoingChat, error) {
	if f.ongoing != nil {
		return f.ongoing(ctx)
	}
	return nil, nil
}

func (f *fakeService) CurrentChat(ctx context.Context) (domain.Profile, bool, error) {
	if f.currentChat != nil {
		return f.currentChat(ctx)
	}
	return domain.Profile{}, false, nil
}

// newTestRouter mounts every endpoint the same way the API router does,
// minus rate limiting and idempotency.
func newTestRouter(svc RelationshipService) (*gin.Engine, *Handlers) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())

	h := New(svc)
	r.GET("/profiles", h.BrowseProfiles)
	r.GET("/profiles/search", h.SearchProfiles)
	r.GET("/preferences", h.GetPreferences)
	r.PUT("/preferences", h.PutPreferences)

	r.POST("/counterparts/:id/open", h.OpenChat)
	r.GET("/counterparts/:id/messages", h.ListMessages)
	r.POST("/counterparts/:id/messages", h.PostMessage)
	r.POST("/counterparts/:id/match-requests", h.RequestMatch)
	r.POST("/counterparts/:id/real-chat", h.StartRealChat)
	r.POST("/counterparts/:id/autopilot", h.RunAutopilot)
	r.GET("/counterparts/:id/autopilot/stream", h.StreamAutopilot)
	r.DELETE("/counterparts/:id", h.DeleteChat)

	r.GET("/matches/pending", h.PendingMatches)
	r.POST("/matches/:id/accept", h.AcceptMatch)
	r.POST("/matches/:id/decline", h.DeclineMatch)
	r.GET("/chats", h.ActiveChats)
	r.GET("/chats/ongoing", h.OngoingChats)
	r.GET("/chats/current", h.CurrentChat)
	return r, h
}

func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func msgAt(id string, sender domain.Sender, ts time.Time) domain.ChatMessage {
	return domain.ChatMessage{ID: id, Content: "hi " + id, Sender: sender, Timestamp: ts}
}
