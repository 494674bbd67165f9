package relationship

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

// Snapshot is a point-in-time read of the whole relationship state.
type Snapshot struct {
	Transcripts map[string][]domain.ChatMessage
	RealChats   map[string]bool
	Matches     []domain.Match
}

// Snapshot reads every transcript, real-chat flag and match record.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Transcripts: map[string][]domain.ChatMessage{},
		RealChats:   map[string]bool{},
	}

	keys, err := s.backend.Keys(ctx, TranscriptPrefix)
	if err != nil {
		return snap, err
	}
	for _, k := range keys {
		id, ok := counterpartFromKey(k, TranscriptPrefix)
		if !ok {
			continue
		}
		t, err := s.Transcript(ctx, id)
		if err != nil {
			return snap, err
		}
		snap.Transcripts[id] = t
	}

	keys, err = s.backend.Keys(ctx, RealChatPrefix)
	if err != nil {
		return snap, err
	}
	for _, k := range keys {
		id, ok := counterpartFromKey(k, RealChatPrefix)
		if !ok {
			continue
		}
		real, err := s.IsRealChat(ctx, id)
		if err != nil {
			return snap, err
		}
		if real {
			snap.RealChats[id] = true
		}
	}

	snap.Matches, err = s.Matches(ctx)
	return snap, err
}

// InteractedIDs returns the counterparts the user has interacted with: any
// match record regardless of status, plus every meaningful transcript.
func (snap Snapshot) InteractedIDs() map[string]bool {
	ids := make(map[string]bool, len(snap.Matches)+len(snap.Transcripts))
	for _, m := range snap.Matches {
		ids[m.User.ID] = true
	}
	for id, t := range snap.Transcripts {
		if IsMeaningful(t) {
			ids[id] = true
		}
	}
	return ids
}

// InteractedIDs reads the current state and returns the interacted set.
func (s *Store) InteractedIDs(ctx context.Context) (map[string]bool, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.InteractedIDs(), nil
}

// BrowsableCandidates filters profiles down to those matching prefs that
// the user has not interacted with yet. Input order is preserved.
func (s *Store) BrowsableCandidates(ctx context.Context, profiles []domain.Profile, prefs domain.Preferences) ([]domain.Profile, error) {
	interacted, err := s.InteractedIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		if !prefs.AgeRange.Contains(p.Age) || !prefs.Accepts(p.Gender) {
			continue
		}
		if interacted[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PendingMatchRequests returns pending records, most recent conversation
// first. Records whose transcript has no non-system message sort last.
func (s *Store) PendingMatchRequests(ctx context.Context) ([]domain.Match, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0)
	for _, m := range snap.Matches {
		if m.Status == domain.MatchPending {
			out = append(out, m)
		}
	}
	sortByActivity(out, snap.Transcripts)
	return out, nil
}

// ActiveChats returns the conversations with real people: every matched
// record, plus a synthesized matched entry for each real, meaningful
// transcript no matched record covers. Synthesized entries need a profile
// in profiles; unknown counterparts are skipped.
func (s *Store) ActiveChats(ctx context.Context, profiles []domain.Profile) ([]domain.Match, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Match, 0)
	covered := map[string]bool{}
	for _, m := range snap.Matches {
		if m.Status == domain.MatchMatched {
			out = append(out, m)
			covered[m.User.ID] = true
		}
	}

	byID := profileIndex(profiles)
	for _, id := range sortedIDs(snap.Transcripts) {
		t := snap.Transcripts[id]
		if covered[id] || !snap.RealChats[id] || !IsMeaningful(t) {
			continue
		}
		p, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, domain.Match{
			ID:            "chat_" + id + "_" + strconv.FormatInt(s.now().UnixMilli(), 10),
			User:          p,
			Compatibility: 75 + s.intn(25),
			ChatHistory:   t,
			Status:        domain.MatchMatched,
		})
	}

	sortByActivity(out, snap.Transcripts)
	return out, nil
}

// OngoingChat is a conversation with a counterpart's AI persona that has not
// become a match request or a real chat yet.
type OngoingChat struct {
	User         domain.Profile       `json:"user"`
	ChatHistory  []domain.ChatMessage `json:"chatHistory"`
	LastActivity time.Time            `json:"lastActivity"`
}

// OngoingAIChats lists meaningful, non-real transcripts with no match
// record, most recent first. Counterparts missing from profiles are skipped.
func (s *Store) OngoingAIChats(ctx context.Context, profiles []domain.Profile) ([]OngoingChat, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	withRecord := map[string]bool{}
	for _, m := range snap.Matches {
		withRecord[m.User.ID] = true
	}

	byID := profileIndex(profiles)
	out := make([]OngoingChat, 0)
	for _, id := range sortedIDs(snap.Transcripts) {
		t := snap.Transcripts[id]
		if withRecord[id] || snap.RealChats[id] || !IsMeaningful(t) {
			continue
		}
		p, ok := byID[id]
		if !ok {
			continue
		}
		last, _ := LastActivity(t)
		out = append(out, OngoingChat{User: p, ChatHistory: t, LastActivity: last})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// sortByActivity orders matches by the last non-system message of each
// counterpart's stored transcript, newest first, with no activity last.
func sortByActivity(list []domain.Match, transcripts map[string][]domain.ChatMessage) {
	type key struct {
		at  time.Time
		has bool
	}
	keys := make(map[string]key, len(list))
	for _, m := range list {
		at, has := LastActivity(transcripts[m.User.ID])
		keys[m.User.ID] = key{at, has}
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := keys[list[i].User.ID], keys[list[j].User.ID]
		if a.has != b.has {
			return a.has
		}
		return a.at.After(b.at)
	})
}

func profileIndex(profiles []domain.Profile) map[string]domain.Profile {
	m := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return m
}

func sortedIDs(m map[string][]domain.ChatMessage) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
