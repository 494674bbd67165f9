// Package services – RelationshipService
//
// This file implements RelationshipService, the application-level component
// behind every user action. It resolves counterparts from the profile
// catalog, keeps the relationship store consistent (greetings, transcripts,
// match records, real-chat flags), and asks the collaborators for persona
// replies and autopilot simulations.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry the counterpart or match identifier.
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auras-backend/internal/autopilot"
	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/llm"
	"github.com/tbourn/go-auras-backend/internal/observability"
	"github.com/tbourn/go-auras-backend/internal/relationship"
	"github.com/tbourn/go-auras-backend/internal/search"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanComponent = "RelationshipService"

	// GreetingID is the id of the AI persona's opening message.
	GreetingID = "1"

	// ReplyUnavailable is stored when the persona produced no reply.
	ReplyUnavailable = "Sorry, I'm having trouble connecting right now. What would you like to know about me?"

	defaultSearchK = 10
)

// Replier answers as a counterpart's AI persona. *llm.PersonaReplier
// satisfies it.
type Replier interface {
	Reply(ctx context.Context, req llm.ReplyRequest) string
}

// AutopilotRunner simulates a conversation between two profiles.
// *autopilot.Simulator satisfies it.
type AutopilotRunner interface {
	Run(ctx context.Context, initiator, counterpart domain.Profile, prior []domain.ChatMessage) (autopilot.Result, error)
}

// ProfileCatalog is the read-only set of counterparts. *catalog.Catalog
// satisfies it.
type ProfileCatalog interface {
	All() []domain.Profile
	Get(id string) (domain.Profile, bool)
}

// Rand draws compatibility scores.
type Rand interface {
	Intn(n int) int
}

// Viewer identifies the local user making a request. When ID names a
// catalog profile that profile is used as the viewer's own.
type Viewer struct {
	ID   string
	Name string
}

// RelationshipService coordinates the relationship store with the catalog
// and the text-generation collaborators.
type RelationshipService struct {
	// Store persists transcripts, flags, match records and preferences.
	Store *relationship.Store
	// Catalog resolves counterpart ids to profiles.
	Catalog ProfileCatalog
	// Replier produces persona replies. Nil uses a local-only replier.
	Replier Replier
	// Autopilot runs simulations. Nil uses a local-only simulator.
	Autopilot AutopilotRunner

	// MaxMessageRunes caps user messages; 0 disables the check.
	MaxMessageRunes int
	// SearchOptions tune the profile index built by SearchProfiles.
	SearchOptions []search.Option
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// Rand draws compatibility scores; nil means a time-seeded source.
	Rand Rand

	once   sync.Once
	randMu sync.Mutex
}

func (s *RelationshipService) init() {
	s.once.Do(func() {
		if s.Now == nil {
			s.Now = time.Now
		}
		if s.Rand == nil {
			s.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		if s.Replier == nil {
			s.Replier = llm.NewPersonaReplier(nil, nil)
		}
		if s.Autopilot == nil {
			s.Autopilot = autopilot.NewSimulator(nil)
		}
	})
}

func (s *RelationshipService) intn(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.Rand.Intn(n)
}

func (s *RelationshipService) now() time.Time {
	s.init()
	return s.Now().UTC()
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, spanComponent, op, attrs...)
}

func (s *RelationshipService) profile(id string) (domain.Profile, error) {
	p, ok := s.Catalog.Get(strings.TrimSpace(id))
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// viewerProfile resolves v to a profile. Unknown viewers get a profile that
// only carries their id and name.
func (s *RelationshipService) viewerProfile(v Viewer) domain.Profile {
	if v.ID != "" {
		if p, ok := s.Catalog.Get(v.ID); ok {
			return p
		}
	}
	return domain.Profile{ID: v.ID, Name: strings.TrimSpace(v.Name)}
}

// Browse returns the counterparts the user can still discover, filtered by
// the saved preferences.
func (s *RelationshipService) Browse(ctx context.Context) ([]domain.Profile, error) {
	ctx, span := startSpan(ctx, "Browse")
	defer span.End()

	prefs, err := s.Store.Preferences(ctx)
	if err != nil {
		return nil, err
	}
	return s.Store.BrowsableCandidates(ctx, s.Catalog.All(), prefs)
}

// SearchHit is a browsable counterpart ranked against a query.
type SearchHit struct {
	Profile domain.Profile `json:"profile"`
	Score   float64        `json:"score"`
}

// SearchProfiles ranks browsable counterparts against q. A blank query
// returns every candidate with a zero score, in browse order.
func (s *RelationshipService) SearchProfiles(ctx context.Context, q string, k int) ([]SearchHit, error) {
	ctx, span := startSpan(ctx, "SearchProfiles",
		attribute.String("query", q),
		attribute.Int("k", k),
	)
	defer span.End()

	if k <= 0 {
		k = defaultSearchK
	}
	candidates, err := s.Browse(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(candidates))
	if strings.TrimSpace(q) == "" {
		for i, p := range candidates {
			if i == k {
				break
			}
			hits = append(hits, SearchHit{Profile: p})
		}
		return hits, nil
	}

	byID := make(map[string]domain.Profile, len(candidates))
	for _, p := range candidates {
		byID[p.ID] = p
	}
	for _, r := range search.NewProfileIndex(candidates, s.SearchOptions...).TopK(q, k) {
		hits = append(hits, SearchHit{Profile: byID[r.ID], Score: r.Score})
	}
	return hits, nil
}

// Pending returns pending match requests, most recently active first.
func (s *RelationshipService) Pending(ctx context.Context) ([]domain.Match, error) {
	ctx, span := startSpan(ctx, "Pending")
	defer span.End()
	return s.Store.PendingMatchRequests(ctx)
}

// Active returns matched and real chats, most recently active first.
func (s *RelationshipService) Active(ctx context.Context) ([]domain.Match, error) {
	ctx, span := startSpan(ctx, "Active")
	defer span.End()
	return s.Store.ActiveChats(ctx, s.Catalog.All())
}

// OngoingAI returns conversations still held with AI personas.
func (s *RelationshipService) OngoingAI(ctx context.Context) ([]relationship.OngoingChat, error) {
	ctx, span := startSpan(ctx, "OngoingAI")
	defer span.End()
	return s.Store.OngoingAIChats(ctx, s.Catalog.All())
}

// Transcript returns the conversation with counterpartID.
func (s *RelationshipService) Transcript(ctx context.Context, counterpartID string) ([]domain.ChatMessage, error) {
	ctx, span := startSpan(ctx, "Transcript", attribute.String("counterpart.id", counterpartID))
	defer span.End()

	p, err := s.profile(counterpartID)
	if err != nil {
		return nil, err
	}
	return s.Store.Transcript(ctx, p.ID)
}

// Preferences returns the saved browse filters or the defaults.
func (s *RelationshipService) Preferences(ctx context.Context) (domain.Preferences, error) {
	ctx, span := startSpan(ctx, "Preferences")
	defer span.End()
	return s.Store.Preferences(ctx)
}

// SavePreferences validates and overwrites the browse filters.
func (s *RelationshipService) SavePreferences(ctx context.Context, p domain.Preferences) error {
	ctx, span := startSpan(ctx, "SavePreferences")
	defer span.End()
	return s.Store.SavePreferences(ctx, p)
}

// CurrentChat returns the counterpart the user last opened.
func (s *RelationshipService) CurrentChat(ctx context.Context) (domain.Profile, bool, error) {
	ctx, span := startSpan(ctx, "CurrentChat")
	defer span.End()
	return s.Store.CurrentChatUser(ctx)
}

// Greeting builds the AI persona's opening message for p. viewerName may be
// empty.
func Greeting(p domain.Profile, viewerName string, now time.Time) domain.ChatMessage {
	persona := p.Personality.AIPersona
	if utf8.RuneCountInString(persona) > 100 {
		persona = string([]rune(persona)[:100])
	}
	var content string
	if viewerName != "" {
		content = fmt.Sprintf("Hey %s! I'm %s's AI persona. %s... I saw your profile and you seem really interesting! What would you like to know about me?", viewerName, p.Name, persona)
	} else {
		content = fmt.Sprintf("Hey! I'm %s's AI persona. %s... What would you like to know about me?", p.Name, persona)
	}
	return domain.ChatMessage{ID: GreetingID, Content: content, Sender: domain.SenderAI, Timestamp: now}
}

// OpenedChat is the state of a conversation right after opening it.
type OpenedChat struct {
	Profile  domain.Profile       `json:"profile"`
	Messages []domain.ChatMessage `json:"messages"`
	RealChat bool                 `json:"realChat"`
	Greeted  bool                 `json:"greeted"`
}

// OpenChat makes counterpartID the current chat. The AI persona's greeting
// is stored only when there is no transcript yet and the conversation is not
// real; this is the only place greetings are created.
func (s *RelationshipService) OpenChat(ctx context.Context, v Viewer, counterpartID string) (OpenedChat, error) {
	ctx, span := startSpan(ctx, "OpenChat", attribute.String("counterpart.id", counterpartID))
	defer span.End()

	p, err := s.profile(counterpartID)
	if err != nil {
		return OpenedChat{}, err
	}
	if err := s.Store.SetCurrentChatUser(ctx, p); err != nil {
		return OpenedChat{}, err
	}
	greeted, err := s.Store.StartTranscript(ctx, p.ID, Greeting(p, s.viewerProfile(v).Name, s.now()))
	if err != nil {
		return OpenedChat{}, err
	}
	msgs, err := s.Store.Transcript(ctx, p.ID)
	if err != nil {
		return OpenedChat{}, err
	}
	isReal, err := s.Store.IsRealChat(ctx, p.ID)
	if err != nil {
		return OpenedChat{}, err
	}
	return OpenedChat{Profile: p, Messages: msgs, RealChat: isReal, Greeted: greeted}, nil
}

// SentMessage is the outcome of SendMessage. Reply is nil for real chats.
type SentMessage struct {
	Message domain.ChatMessage  `json:"message"`
	Reply   *domain.ChatMessage `json:"reply,omitempty"`
}

// SendMessage appends the user's text to the conversation with
// counterpartID. While the conversation is still with the AI persona, the
// persona's reply is generated and appended as well; a reply generated while
// the match is being accepted is dropped and Reply stays nil.
func (s *RelationshipService) SendMessage(ctx context.Context, v Viewer, counterpartID, text string) (SentMessage, error) {
	ctx, span := startSpan(ctx, "SendMessage", attribute.String("counterpart.id", counterpartID))
	defer span.End()
	s.init()

	text = strings.TrimSpace(text)
	if text == "" {
		return SentMessage{}, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return SentMessage{}, fmt.Errorf("%w: max %d characters", ErrMessageTooLong, s.MaxMessageRunes)
	}
	p, err := s.profile(counterpartID)
	if err != nil {
		return SentMessage{}, err
	}

	prior, err := s.Store.Transcript(ctx, p.ID)
	if err != nil {
		return SentMessage{}, err
	}
	isReal, err := s.Store.IsRealChat(ctx, p.ID)
	if err != nil {
		return SentMessage{}, err
	}

	out := SentMessage{Message: domain.ChatMessage{
		ID:        uuid.NewString(),
		Content:   text,
		Sender:    domain.SenderUser,
		Timestamp: s.now(),
	}}
	if err := s.Store.AppendMessages(ctx, p.ID, out.Message); err != nil {
		return SentMessage{}, err
	}
	if isReal {
		return out, nil
	}

	viewer := s.viewerProfile(v)
	content := strings.TrimSpace(s.Replier.Reply(ctx, llm.ReplyRequest{
		Persona: p,
		Viewer:  &viewer,
		Message: text,
		History: prior,
	}))
	if content == "" {
		content = ReplyUnavailable
	}
	reply := domain.ChatMessage{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    domain.SenderAI,
		Timestamp: s.now(),
	}
	appended, err := s.Store.AppendPersonaReply(ctx, p.ID, reply)
	if err != nil {
		return SentMessage{}, err
	}
	if appended {
		out.Reply = &reply
	}
	return out, nil
}

// RequestMatch records a pending match request with counterpartID, carrying
// a snapshot of the conversation so far.
func (s *RelationshipService) RequestMatch(ctx context.Context, counterpartID string) (domain.Match, error) {
	ctx, span := startSpan(ctx, "RequestMatch", attribute.String("counterpart.id", counterpartID))
	defer span.End()
	s.init()

	p, err := s.profile(counterpartID)
	if err != nil {
		return domain.Match{}, err
	}
	history, err := s.Store.Transcript(ctx, p.ID)
	if err != nil {
		return domain.Match{}, err
	}
	m, err := s.Store.UpsertMatch(ctx, domain.Match{
		User:          p,
		Compatibility: 85 + s.intn(15),
		ChatHistory:   history,
		Status:        domain.MatchPending,
	})
	if errors.Is(err, relationship.ErrInvalidTransition) {
		if existing, ok, ferr := s.matchFor(ctx, p.ID); ferr == nil && ok && existing.Status == domain.MatchMatched {
			return domain.Match{}, ErrAlreadyMatched
		}
	}
	return m, err
}

func (s *RelationshipService) matchFor(ctx context.Context, counterpartID string) (domain.Match, bool, error) {
	list, err := s.Store.Matches(ctx)
	if err != nil {
		return domain.Match{}, false, err
	}
	for _, m := range list {
		if m.User.ID == counterpartID {
			return m, true, nil
		}
	}
	return domain.Match{}, false, nil
}

// AcceptMatch accepts a pending request: the record becomes matched and the
// conversation switches to the real person.
func (s *RelationshipService) AcceptMatch(ctx context.Context, matchID string) (domain.Match, error) {
	ctx, span := startSpan(ctx, "AcceptMatch", attribute.String("match.id", matchID))
	defer span.End()

	m, err := s.Store.AcceptMatch(ctx, matchID)
	if errors.Is(err, relationship.ErrNotFound) {
		return domain.Match{}, ErrMatchNotFound
	}
	return m, err
}

// DeclineMatch declines a pending request.
func (s *RelationshipService) DeclineMatch(ctx context.Context, matchID string) (domain.Match, error) {
	ctx, span := startSpan(ctx, "DeclineMatch", attribute.String("match.id", matchID))
	defer span.End()

	m, err := s.Store.DeclineMatch(ctx, matchID)
	if errors.Is(err, relationship.ErrNotFound) {
		return domain.Match{}, ErrMatchNotFound
	}
	return m, err
}

// StartRealChat switches the conversation with counterpartID to the real
// person. started is false when it already was.
func (s *RelationshipService) StartRealChat(ctx context.Context, counterpartID string) (started bool, err error) {
	ctx, span := startSpan(ctx, "StartRealChat", attribute.String("counterpart.id", counterpartID))
	defer span.End()

	p, err := s.profile(counterpartID)
	if err != nil {
		return false, err
	}
	return s.Store.StartRealChat(ctx, p)
}

// DeleteChat forgets everything stored about counterpartID, returning them
// to the browse view.
func (s *RelationshipService) DeleteChat(ctx context.Context, counterpartID string) error {
	ctx, span := startSpan(ctx, "DeleteChat", attribute.String("counterpart.id", counterpartID))
	defer span.End()

	err := s.Store.DeleteChat(ctx, counterpartID)
	if errors.Is(err, relationship.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// AutopilotOutcome is a finished autopilot run. Match is the pending record
// created for a positive verdict, or nil.
type AutopilotOutcome struct {
	Result autopilot.Result `json:"result"`
	Match  *domain.Match    `json:"match,omitempty"`
}

// RunAutopilot simulates a conversation between the viewer and
// counterpartID, appends it to the transcript, and records a pending match
// request when the verdict is positive. An existing matched or declined
// record is left alone.
func (s *RelationshipService) RunAutopilot(ctx context.Context, v Viewer, counterpartID string) (AutopilotOutcome, error) {
	ctx, span := startSpan(ctx, "RunAutopilot", attribute.String("counterpart.id", counterpartID))
	defer span.End()
	s.init()

	p, err := s.profile(counterpartID)
	if err != nil {
		return AutopilotOutcome{}, err
	}
	isReal, err := s.Store.IsRealChat(ctx, p.ID)
	if err != nil {
		return AutopilotOutcome{}, err
	}
	if isReal {
		return AutopilotOutcome{}, ErrRealChatOnly
	}
	prior, err := s.Store.Transcript(ctx, p.ID)
	if err != nil {
		return AutopilotOutcome{}, err
	}

	initiator := s.viewerProfile(v)
	if initiator.Name == "" {
		initiator.Name = "You"
	}
	res, err := s.Autopilot.Run(ctx, initiator, p, prior)
	if err != nil {
		return AutopilotOutcome{}, err
	}
	span.SetAttributes(
		attribute.Bool("autopilot.is_match", res.IsMatch),
		attribute.Bool("autopilot.fallback", res.Fallback),
	)

	var pending *domain.Match
	if res.IsMatch {
		history := make([]domain.ChatMessage, 0, len(prior)+len(res.Messages))
		history = append(append(history, prior...), res.Messages...)
		pending = &domain.Match{
			User:          p,
			Compatibility: 90 + s.intn(10),
			ChatHistory:   history,
			Status:        domain.MatchPending,
		}
	}

	recorded, err := s.Store.CompleteAutopilot(ctx, p, res.Messages, pending)
	if err != nil {
		return AutopilotOutcome{}, err
	}
	out := AutopilotOutcome{Result: res}
	if recorded {
		m, ok, err := s.matchFor(ctx, p.ID)
		if err != nil {
			return AutopilotOutcome{}, err
		}
		if ok {
			out.Match = &m
		}
	} else if res.IsMatch {
		log.Debug().Str("counterpart_id", p.ID).Msg("autopilot verdict positive but match already settled")
	}
	return out, nil
}
