// Package domain defines the relationship data model shared by the store,
// the services, and the HTTP layer: counterpart profiles, chat messages,
// match records, and user preferences. JSON tags mirror the layout the
// browser client persisted so existing dumps can be read back unchanged.
package domain

import (
	"encoding/json"
	"time"
)

// Gender is a counterpart's self-described gender.
type Gender string

const (
	GenderMale      Gender = "male"
	GenderFemale    Gender = "female"
	GenderNonBinary Gender = "non-binary"
)

// Valid reports whether g is one of the known gender values.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderNonBinary:
		return true
	}
	return false
}

// Personality is the generated persona descriptor attached to a profile.
//
// Fields:
//   - Openness..Neuroticism: trait scores in [0,100].
//   - Summary: one-line description shown on cards.
//   - AIPersona: short blurb used in greetings.
//   - DetailedPrompt: system prompt used when the AI speaks as this person.
type Personality struct {
	Openness          int    `json:"openness"          yaml:"openness"`
	Conscientiousness int    `json:"conscientiousness" yaml:"conscientiousness"`
	Extraversion      int    `json:"extraversion"      yaml:"extraversion"`
	Agreeableness     int    `json:"agreeableness"     yaml:"agreeableness"`
	Neuroticism       int    `json:"neuroticism"       yaml:"neuroticism"`
	Summary           string `json:"summary"           yaml:"summary"`
	AIPersona         string `json:"aiPersona"         yaml:"aiPersona"`
	DetailedPrompt    string `json:"detailedPrompt"    yaml:"detailedPrompt"`
}

// Profile describes a prospective match (a counterpart). Profiles come from
// seed data and are never mutated by the relationship store.
type Profile struct {
	ID          string      `json:"id"                 yaml:"id"`
	Name        string      `json:"name"               yaml:"name"`
	Age         int         `json:"age"                yaml:"age"`
	Gender      Gender      `json:"gender"             yaml:"gender"`
	Bio         string      `json:"bio"                yaml:"bio"`
	Interests   []string    `json:"interests"          yaml:"interests"`
	Personality Personality `json:"personality"        yaml:"personality"`
	Photos      []string    `json:"photos"             yaml:"photos"`
	AuraColor   string      `json:"auraColor"          yaml:"auraColor"`
	Location    string      `json:"location,omitempty" yaml:"location,omitempty"`
	AgentID     string      `json:"agentID,omitempty"  yaml:"agentID,omitempty"`
}

// FirstInterest returns the first interest tag or an empty string.
func (p Profile) FirstInterest() string {
	if len(p.Interests) == 0 {
		return ""
	}
	return p.Interests[0]
}

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// TimestampLayout is the ISO-8601 form written for message timestamps
// (millisecond precision, UTC, "Z" suffix).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ChatMessage is one turn in a transcript. IDs only need to be unique within
// their transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type chatMessageJSON struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Sender    Sender `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON writes the timestamp as a millisecond ISO string in UTC.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatMessageJSON{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp.UTC().Format(TimestampLayout),
	})
}

// UnmarshalJSON parses the ISO timestamp into a real instant.
func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var raw chatMessageJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var ts time.Time
	if raw.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return err
		}
		ts = parsed
	}
	*m = ChatMessage{ID: raw.ID, Content: raw.Content, Sender: raw.Sender, Timestamp: ts}
	return nil
}

// MatchStatus is the lifecycle state of a match record.
type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchMatched  MatchStatus = "matched"
	MatchDeclined MatchStatus = "declined"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchMatched, MatchDeclined:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from one status to another.
// Only pending records move, and only to matched or declined.
func CanTransition(from, to MatchStatus) bool {
	return from == MatchPending && (to == MatchMatched || to == MatchDeclined)
}

// Match is a match record for one counterpart.
//
// Fields:
//   - ID: generated per action (e.g. "match_<counterpart>_<unix ms>").
//   - User: the counterpart's profile snapshot.
//   - Compatibility: informational percentage in [0,100].
//   - ChatHistory: transcript snapshot taken when the record was created.
//   - Status: pending, matched, or declined.
type Match struct {
	ID            string        `json:"id"`
	User          Profile       `json:"user"`
	Compatibility int           `json:"compatibility"`
	ChatHistory   []ChatMessage `json:"chatHistory"`
	Status        MatchStatus   `json:"status"`
}

// AgeRange is an inclusive age bound.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether age lies within the inclusive range.
func (r AgeRange) Contains(age int) bool { return age >= r.Min && age <= r.Max }

// Preferences are the browse filters saved by the local user.
type Preferences struct {
	AgeRange         AgeRange `json:"ageRange"`
	GenderPreference []Gender `json:"genderPreference"`
	MaxDistance      int      `json:"maxDistance"`
}

// Accepts reports whether g is among the preferred genders.
func (p Preferences) Accepts(g Gender) bool {
	for _, want := range p.GenderPreference {
		if want == g {
			return true
		}
	}
	return false
}

// DefaultPreferences returns the filters used when none have been saved.
func DefaultPreferences() Preferences {
	return Preferences{
		AgeRange:         AgeRange{Min: 18, Max: 35},
		GenderPreference: []Gender{GenderMale, GenderFemale, GenderNonBinary},
		MaxDistance:      50,
	}
}
