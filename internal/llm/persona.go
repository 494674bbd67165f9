package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

// Rand is the random source used for template selection and fallback
// verdicts. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// lockedRand serialises access to a Rand shared across goroutines.
type lockedRand struct {
	mu sync.Mutex
	r  Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func newRand(r Rand) Rand {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &lockedRand{r: r}
}

// ReplyRequest is the input to PersonaReplier.Reply.
//
//   - Persona: the counterpart the AI speaks as.
//   - Viewer: the local user's profile; optional, may only carry a name.
//   - Message: the user's new message.
//   - History: the transcript before Message was sent.
type ReplyRequest struct {
	Persona domain.Profile
	Viewer  *domain.Profile
	Message string
	History []domain.ChatMessage
}

// PersonaReplier answers as a counterpart's AI persona. Reply never fails:
// without a provider, or when the provider errors, a local templated reply
// is returned instead.
type PersonaReplier struct {
	completer Completer
	rnd       Rand
	logger    zerolog.Logger
}

// NewPersonaReplier wires a replier. completer may be nil for local-only
// replies; r may be nil for a time-seeded source.
func NewPersonaReplier(completer Completer, r Rand) *PersonaReplier {
	return &PersonaReplier{
		completer: completer,
		rnd:       newRand(r),
		logger:    log.Logger.With().Str("component", "persona_replier").Logger(),
	}
}

// Reply returns the persona's answer to req.Message.
func (p *PersonaReplier) Reply(ctx context.Context, req ReplyRequest) string {
	if p.completer == nil {
		return p.fallback(req)
	}
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: "system", Content: personaSystemPrompt(req.Persona.Personality.DetailedPrompt, req.Viewer)})
	for _, m := range req.History {
		role := "assistant"
		if m.Sender == domain.SenderUser {
			role = "user"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.Message})

	out, err := p.completer.Chat(ctx, msgs, ChatOptions{Temperature: 0.8, MaxTokens: 200})
	if err != nil {
		if !errors.Is(err, ErrNoAPIKey) {
			p.logger.Warn().Err(err).Str("counterpart_id", req.Persona.ID).Msg("persona reply failed, using fallback")
		}
		return p.fallback(req)
	}
	return strings.TrimSpace(out)
}

func viewerTraits(v *domain.Profile) []string {
	var traits []string
	pers := v.Personality
	switch {
	case pers.Openness > 70:
		traits = append(traits, "very open to new experiences")
	case pers.Openness < 40:
		traits = append(traits, "prefers familiar routines")
	}
	switch {
	case pers.Extraversion > 70:
		traits = append(traits, "outgoing and social")
	case pers.Extraversion < 40:
		traits = append(traits, "more introverted and thoughtful")
	}
	switch {
	case pers.Conscientiousness > 70:
		traits = append(traits, "organized and planned")
	case pers.Conscientiousness < 40:
		traits = append(traits, "spontaneous and flexible")
	}
	return traits
}

func personaSystemPrompt(personaPrompt string, viewer *domain.Profile) string {
	var b strings.Builder
	b.WriteString(personaPrompt)
	b.WriteString("\n\n")

	if viewer != nil && viewer.Name != "" {
		b.WriteString("ABOUT THE PERSON YOU'RE CHATTING WITH:\n")
		if viewer.Age > 0 {
			fmt.Fprintf(&b, "- Name: %s, %d years old\n", viewer.Name, viewer.Age)
		} else {
			fmt.Fprintf(&b, "- Name: %s\n", viewer.Name)
		}
		if viewer.Bio != "" {
			fmt.Fprintf(&b, "- Bio: %q\n", viewer.Bio)
		}
		if len(viewer.Interests) > 0 {
			fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(viewer.Interests, ", "))
		}
		if traits := viewerTraits(viewer); len(traits) > 0 && viewer.Personality != (domain.Personality{}) {
			fmt.Fprintf(&b, "- Personality: They seem %s\n", strings.Join(traits, ", "))
		}
		if viewer.Personality.AIPersona != "" {
			fmt.Fprintf(&b, "- Their AI persona says: %q\n", viewer.Personality.AIPersona)
		}
		b.WriteString(`
Use this information to:
- Reference their interests naturally in conversation
- Find common ground between your interests and theirs
- Ask follow-up questions about their bio or interests
- Make personalized remarks that show you're paying attention to who they are

`)
	}

	b.WriteString(`IMPORTANT INSTRUCTIONS:
- You are roleplaying as this person in a dating app conversation
- Respond naturally and authentically as this character would
- Keep responses conversational and engaging (1-3 sentences typically)
- Stay true to your personality traits and interests
- Don't break character or mention that you're an AI
- Be flirty and charming when appropriate, but respectful
- Ask follow-up questions to keep the conversation flowing
- Remember and reference things from earlier in the conversation`)
	return b.String()
}

func hasAny(list []string, want ...string) bool {
	for _, l := range list {
		for _, w := range want {
			if l == w {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// fallbackCandidates lists every templated reply that fits req.
func fallbackCandidates(req ReplyRequest) []string {
	prompt := strings.ToLower(req.Persona.Personality.DetailedPrompt)
	adventurous := containsAny(prompt, "adventure", "travel")
	creative := containsAny(prompt, "creative", "art", "music")
	fitness := containsAny(prompt, "fitness", "gym")
	intellectual := containsAny(prompt, "book", "deep", "psychology")

	var out []string
	if v := req.Viewer; v != nil && v.Name != "" {
		name := v.Name
		var common []string
		if adventurous && hasAny(v.Interests, "Travel", "Hiking") {
			common = append(common, "adventure")
		}
		if creative && hasAny(v.Interests, "Art", "Music", "Photography") {
			common = append(common, "creativity")
		}
		if fitness && hasAny(v.Interests, "Fitness", "Running") {
			common = append(common, "fitness")
		}
		if len(common) > 0 {
			first := v.FirstInterest()
			out = append(out,
				fmt.Sprintf("%s, I love that we both are into %s! What got you started with that?", name, common[0]),
				fmt.Sprintf("It's so cool that you're into %s - I can already tell we'd have amazing conversations about that!", first),
				fmt.Sprintf("I noticed you mentioned %s in your profile, %s. That's actually something I'm really passionate about too!", first, name),
			)
		}
		if v.Bio != "" {
			out = append(out,
				fmt.Sprintf("Your bio really caught my attention, %s. You seem like such a genuine person!", name),
				fmt.Sprintf("I love your perspective on life, %s. There's something really attractive about someone who knows what they want.", name),
				fmt.Sprintf("%s, you have such interesting hobbies! I'd love to hear more about what drives your passions.", name),
			)
		}
		if v.Personality.Openness > 70 && adventurous {
			out = append(out,
				fmt.Sprintf("%s, I can tell you're someone who's up for anything - that's exactly the kind of energy I'm drawn to!", name),
				fmt.Sprintf("You seem like the type who'd say yes to a spontaneous adventure, %s. I find that incredibly attractive.", name),
			)
		}
		if v.Personality.Extraversion > 70 && strings.Contains(prompt, "social") {
			out = append(out,
				fmt.Sprintf("%s, I love how outgoing you seem! I bet you're the life of the party.", name),
				fmt.Sprintf("You have such great social energy, %s. I can already imagine us having the best time together.", name),
			)
		}
	}

	if adventurous {
		out = append(out,
			"That sounds amazing! I'm always up for new experiences. What's the most spontaneous thing you've done recently?",
			"I love that energy! Speaking of adventures, have you ever done anything that completely pushed you out of your comfort zone?",
			"You seem like someone who'd be fun to explore new places with! What's on your travel bucket list?",
		)
	}
	if creative {
		out = append(out,
			"That's so interesting! I'm really drawn to creative people. What inspires you most in your daily life?",
			"I love how you think! There's something beautiful about finding creativity in unexpected places, don't you think?",
			"You have such a unique perspective! I'd love to hear more about what you're passionate about.",
		)
	}
	if fitness {
		out = append(out,
			"That's awesome! I'm all about that growth mindset. What goals are you working toward right now?",
			"I love meeting people who are driven! There's something attractive about someone who pushes themselves to be better.",
			"You sound like someone who knows what they want! What motivates you to keep pushing forward?",
		)
	}
	if intellectual {
		out = append(out,
			"That's such a thoughtful way to look at it. I find myself drawn to people who think deeply about things.",
			"I really appreciate conversations like this. What's something you've been pondering lately?",
			"You have such an interesting mind! I'd love to know what books or ideas have shaped your perspective recently.",
		)
	}

	return append(out,
		"That's really cool! Tell me more about that.",
		"I love your perspective on that! What drew you to feel that way?",
		"You seem like such a genuine person. What's something that always makes you smile?",
		"That's fascinating! I feel like we could have some really great conversations.",
		"I'm really enjoying getting to know you! What's something you're excited about lately?",
	)
}

func (p *PersonaReplier) fallback(req ReplyRequest) string {
	c := fallbackCandidates(req)
	return c[p.rnd.Intn(len(c))]
}
