package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

// ErrMalformedOutput is returned when the provider's answer is not the
// requested JSON shape.
var ErrMalformedOutput = errors.New("llm: malformed model output")

const (
	analysisMatchReasoning   = "Based on your shared interests and compatible personalities, you two seem like you'd have great chemistry together!"
	analysisNoMatchReasoning = "While you both seem like great people, your communication styles and interests don't quite align for a romantic connection."

	priorContextLimit = 10
)

// Simulation is a generated conversation plus a match verdict.
type Simulation struct {
	Messages  []domain.ChatMessage
	IsMatch   bool
	Reasoning string
}

// AutopilotCollaborator asks the provider to play out a conversation between
// two profiles and then to judge it. Any failure to obtain the conversation
// is returned as an error; a failed judgement falls back to a weighted coin.
type AutopilotCollaborator struct {
	completer Completer
	now       func() time.Time
	rnd       Rand
	logger    zerolog.Logger
}

// NewAutopilotCollaborator wires a collaborator. r may be nil.
func NewAutopilotCollaborator(completer Completer, r Rand) *AutopilotCollaborator {
	return &AutopilotCollaborator{
		completer: completer,
		now:       time.Now,
		rnd:       newRand(r),
		logger:    log.Logger.With().Str("component", "autopilot_collaborator").Logger(),
	}
}

// WithClock returns a copy using now for message timestamps.
func (a *AutopilotCollaborator) WithClock(now func() time.Time) *AutopilotCollaborator {
	cp := *a
	cp.now = now
	return &cp
}

type convoLine struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type verdict struct {
	IsMatch   *bool  `json:"isMatch"`
	Reasoning string `json:"reasoning"`
}

// Simulate generates the conversation between initiator (the local user,
// sender "user") and counterpart (sender "ai").
func (a *AutopilotCollaborator) Simulate(ctx context.Context, initiator, counterpart domain.Profile, prior []domain.ChatMessage) (Simulation, error) {
	if a.completer == nil {
		return Simulation{}, ErrNoAPIKey
	}

	raw, err := a.completer.Chat(ctx, []Message{{Role: "user", Content: conversationPrompt(initiator, counterpart, prior)}},
		ChatOptions{Temperature: 0.8, MaxTokens: 1000})
	if err != nil {
		return Simulation{}, err
	}
	var lines []convoLine
	if err := json.Unmarshal([]byte(extractJSON(raw, '[', ']')), &lines); err != nil {
		return Simulation{}, fmt.Errorf("%w: conversation: %v", ErrMalformedOutput, err)
	}

	start := a.now()
	msgs := make([]domain.ChatMessage, 0, len(lines))
	for i, l := range lines {
		content := strings.TrimSpace(l.Content)
		if content == "" {
			continue
		}
		sender := domain.SenderAI
		if l.Sender == initiator.Name {
			sender = domain.SenderUser
		}
		msgs = append(msgs, domain.ChatMessage{
			ID:        fmt.Sprintf("autopilot_%d", i),
			Content:   content,
			Sender:    sender,
			Timestamp: start.Add(time.Duration(i) * time.Second),
		})
	}
	if len(msgs) == 0 {
		return Simulation{}, fmt.Errorf("%w: empty conversation", ErrMalformedOutput)
	}

	sim := Simulation{Messages: msgs}
	sim.IsMatch, sim.Reasoning = a.analyze(ctx, initiator, counterpart, msgs)
	return sim, nil
}

func (a *AutopilotCollaborator) analyze(ctx context.Context, initiator, counterpart domain.Profile, msgs []domain.ChatMessage) (bool, string) {
	raw, err := a.completer.Chat(ctx, []Message{{Role: "user", Content: analysisPrompt(initiator, counterpart, msgs)}},
		ChatOptions{Temperature: 0.3, MaxTokens: 200})
	if err == nil {
		var v verdict
		err = json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &v)
		if err == nil && v.IsMatch != nil && strings.TrimSpace(v.Reasoning) != "" {
			return *v.IsMatch, strings.TrimSpace(v.Reasoning)
		}
		if err == nil {
			err = fmt.Errorf("%w: incomplete verdict", ErrMalformedOutput)
		}
	}

	a.logger.Warn().Err(err).Str("counterpart_id", counterpart.ID).Msg("match analysis failed, using weighted fallback")
	if a.rnd.Float64() > 0.4 {
		return true, analysisMatchReasoning
	}
	return false, analysisNoMatchReasoning
}

// extractJSON trims code fences and chatter around the outermost first/last
// delimiter pair in s.
func extractJSON(s string, first, last byte) string {
	i := strings.IndexByte(s, first)
	j := strings.LastIndexByte(s, last)
	if i < 0 || j < i {
		return strings.TrimSpace(s)
	}
	return s[i : j+1]
}

func describe(b *strings.Builder, label string, p domain.Profile) {
	fmt.Fprintf(b, "%s (%s):\n", label, p.Name)
	fmt.Fprintf(b, "- Age: %d\n", p.Age)
	fmt.Fprintf(b, "- Bio: %q\n", p.Bio)
	fmt.Fprintf(b, "- Interests: %s\n", strings.Join(p.Interests, ", "))
}

func conversationPrompt(u1, u2 domain.Profile, prior []domain.ChatMessage) string {
	var b strings.Builder
	b.WriteString("You are simulating a dating app conversation between two people. Generate a realistic 8-10 message conversation (alternating between them) that shows their personalities and compatibility.\n\n")
	describe(&b, "PERSON 1", u1)
	fmt.Fprintf(&b, "- Personality: %s\n\n", u1.Personality.AIPersona)
	describe(&b, "PERSON 2", u2)
	fmt.Fprintf(&b, "- Personality: %s\n\n", u2.Personality.AIPersona)

	if len(prior) > 0 {
		b.WriteString("THEY HAVE ALREADY EXCHANGED:\n")
		if len(prior) > priorContextLimit {
			prior = prior[len(prior)-priorContextLimit:]
		}
		for _, m := range prior {
			if m.Sender == domain.SenderSystem {
				continue
			}
			who := u2.Name
			if m.Sender == domain.SenderUser {
				who = u1.Name
			}
			fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
		}
		b.WriteString("Continue naturally from there.\n\n")
	}

	fmt.Fprintf(&b, `INSTRUCTIONS:
- Start with %[1]s sending the first message
- Alternate between them naturally
- Keep messages realistic and conversational (1-3 sentences each)
- Show their personalities through their communication style
- Reference their interests and bios naturally
- Generate exactly 8-10 messages total

Format your response as a JSON array like this:
[
  {"sender": "%[1]s", "content": "Hey! I saw your profile and..."},
  {"sender": "%[2]s", "content": "Hi! Thanks for reaching out..."}
]

IMPORTANT: Only return the JSON array, no other text.`, u1.Name, u2.Name)
	return b.String()
}

func traitLine(p domain.Profile) string {
	t := p.Personality
	return fmt.Sprintf("- Personality traits: Openness %d/100, Extraversion %d/100, Conscientiousness %d/100, Agreeableness %d/100, Emotional Stability %d/100\n",
		t.Openness, t.Extraversion, t.Conscientiousness, t.Agreeableness, 100-t.Neuroticism)
}

func analysisPrompt(u1, u2 domain.Profile, msgs []domain.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Analyze this dating app conversation and determine if these two people would be a good match.\n\n")
	describe(&b, "PERSON 1", u1)
	b.WriteString(traitLine(u1))
	b.WriteString("\n")
	describe(&b, "PERSON 2", u2)
	b.WriteString(traitLine(u2))
	b.WriteString("\nCONVERSATION:\n")
	for _, m := range msgs {
		who := u2.Name
		if m.Sender == domain.SenderUser {
			who = u1.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	b.WriteString(`
ANALYSIS CRITERIA:
- Shared interests and values
- Personality compatibility
- Communication style compatibility
- Mutual interest and engagement in the conversation

Respond with a JSON object in this exact format:
{
  "isMatch": true/false,
  "reasoning": "A 2-3 sentence explanation of why they are or aren't a match"
}

IMPORTANT: Only return the JSON object, no other text.`)
	return b.String()
}
