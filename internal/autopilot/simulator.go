// Package autopilot runs simulated conversations between the local user and
// a counterpart and decides whether they would match. The heavy lifting is
// delegated to a text-generation collaborator; when that fails a short
// templated conversation and a rule-based verdict are produced instead.
package autopilot

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/llm"
)

// Collaborator generates a conversation and verdict for two profiles.
// *llm.AutopilotCollaborator satisfies it.
type Collaborator interface {
	Simulate(ctx context.Context, initiator, counterpart domain.Profile, prior []domain.ChatMessage) (llm.Simulation, error)
}

// Rand is the random source for the fallback verdict.
type Rand interface {
	Float64() float64
}

// Result is the outcome of one autopilot run.
type Result struct {
	Messages  []domain.ChatMessage `json:"messages"`
	IsMatch   bool                 `json:"isMatch"`
	Reasoning string               `json:"reasoning"`
	Fallback  bool                 `json:"fallback"`
}

// Simulator runs autopilot turns.
type Simulator struct {
	collab Collaborator
	now    func() time.Time
	logger zerolog.Logger

	mu  sync.Mutex
	rnd Rand
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithRand injects the random source used by the fallback verdict.
func WithRand(r Rand) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithClock overrides the time source for fallback message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSimulator builds a Simulator. collab may be nil, in which case every
// run uses the fallback.
func NewSimulator(collab Collaborator, opts ...Option) *Simulator {
	s := &Simulator{
		collab: collab,
		now:    time.Now,
		logger: log.Logger.With().Str("component", "autopilot").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run simulates a conversation between initiator and counterpart. The
// collaborator's output is returned verbatim when it succeeds; any failure
// yields the deterministic fallback. Only a cancelled ctx is reported as an
// error.
func (s *Simulator) Run(ctx context.Context, initiator, counterpart domain.Profile, prior []domain.ChatMessage) (Result, error) {
	if s.collab != nil {
		sim, err := s.collab.Simulate(ctx, initiator, counterpart, prior)
		if err == nil && len(sim.Messages) > 0 {
			return Result{Messages: sim.Messages, IsMatch: sim.IsMatch, Reasoning: sim.Reasoning}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		s.logger.Warn().Err(err).Str("counterpart_id", counterpart.ID).Msg("autopilot collaborator failed, using fallback")
	}
	return s.Fallback(initiator, counterpart), nil
}

// Fallback builds the templated six-line conversation and the rule-based
// verdict: a match when the profiles share an interest, when their
// extraversion scores differ by less than 40, or when a random draw exceeds
// 0.3.
func (s *Simulator) Fallback(initiator, counterpart domain.Profile) Result {
	msgs := FallbackConversation(initiator, counterpart, s.now())

	shared := SharedInterests(initiator, counterpart)
	isMatch := len(shared) > 0 ||
		abs(initiator.Personality.Extraversion-counterpart.Personality.Extraversion) < 40 ||
		s.draw() > 0.3

	var reasoning string
	switch {
	case isMatch && len(shared) > 0:
		reasoning = fmt.Sprintf("You both share a love for %s and seem to have great chemistry in your conversation. Your personalities complement each other well!", shared[0])
	case isMatch:
		reasoning = "Even though you have different interests, your conversation flows naturally and you both seem genuinely interested in getting to know each other better."
	default:
		reasoning = "While you're both interesting people, your conversation suggests you might be looking for different things or have different communication styles."
	}
	return Result{Messages: msgs, IsMatch: isMatch, Reasoning: reasoning, Fallback: true}
}

func (s *Simulator) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// SharedInterests returns a's interests that b also lists, in a's order.
func SharedInterests(a, b domain.Profile) []string {
	set := make(map[string]bool, len(b.Interests))
	for _, i := range b.Interests {
		set[i] = true
	}
	var out []string
	for _, i := range a.Interests {
		if set[i] {
			out = append(out, i)
		}
	}
	return out
}

func interestAt(p domain.Profile, i int, def string) string {
	if i < len(p.Interests) && p.Interests[i] != "" {
		return p.Interests[i]
	}
	return def
}

// FallbackConversation is the templated exchange used when no collaborator
// output is available. Messages alternate user/ai, one second apart.
func FallbackConversation(u1, u2 domain.Profile, start time.Time) []domain.ChatMessage {
	hobby := "keeps me active"
	if strings.Contains(interestAt(u1, 0, ""), "Travel") {
		hobby = "lets me explore new places"
	}
	belief := "being authentic"
	if strings.Contains(u2.Bio, "adventure") {
		belief = "living life to the fullest"
	}
	bioWords := strings.Fields(u2.Bio)
	if len(bioWords) > 3 {
		bioWords = bioWords[:3]
	}

	lines := []string{
		fmt.Sprintf("Hey %s! I saw your profile and loved that you're into %s. What got you started with that?", u2.Name, interestAt(u2, 0, "interesting things")),
		fmt.Sprintf("Hi %s! Thanks for reaching out! I've been into %s for a while now. I noticed you're into %s too - that's awesome!", u1.Name, interestAt(u2, 0, "that"), interestAt(u1, 0, "cool stuff")),
		fmt.Sprintf("Yeah! I love how it %s. Your bio mentioned %s... - that really resonates with me!", hobby, strings.Join(bioWords, " ")),
		fmt.Sprintf("That's so sweet of you to say! I really believe in %s. What's something you're really passionate about lately?", belief),
		fmt.Sprintf("Honestly, I've been really into %s recently. There's something about it that just makes me feel alive, you know?", interestAt(u1, 1, "exploring new things")),
		"I totally get that! You seem like someone who really goes after what they want. I find that really attractive in a person. 😊",
	}

	out := make([]domain.ChatMessage, len(lines))
	for i, l := range lines {
		sender := domain.SenderUser
		if i%2 == 1 {
			sender = domain.SenderAI
		}
		out[i] = domain.ChatMessage{
			ID:        fmt.Sprintf("fallback_%d", i+1),
			Content:   l,
			Sender:    sender,
			Timestamp: start.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
