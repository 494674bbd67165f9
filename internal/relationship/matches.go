package relationship

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/kv"
)

// MatchID builds the id given to a new match record for counterpartID.
func (s *Store) MatchID(counterpartID string) string {
	return "match_" + counterpartID + "_" + strconv.FormatInt(s.now().UnixMilli(), 10)
}

// Matches returns every match record in stored order. A missing or
// malformed list yields an empty, non-nil slice.
func (s *Store) Matches(ctx context.Context) ([]domain.Match, error) {
	return s.matches(ctx, s.backend)
}

func (s *Store) matches(ctx context.Context, b kv.Backend) ([]domain.Match, error) {
	var list []domain.Match
	if _, err := s.readJSON(ctx, b, KeyMatches, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.Match{}
	}
	return list, nil
}

func indexByCounterpart(list []domain.Match, counterpartID string) int {
	for i := range list {
		if list[i].User.ID == counterpartID {
			return i
		}
	}
	return -1
}

func indexByID(list []domain.Match, matchID string) int {
	for i := range list {
		if list[i].ID == matchID {
			return i
		}
	}
	return -1
}

// UpsertMatch inserts m or replaces the record for the same counterpart.
// A replaced record keeps its id and list position, and its status may only
// stay the same or move along a valid transition. An id already used by
// another counterpart's record is rejected with ErrConflict. The stored
// record is returned.
func (s *Store) UpsertMatch(ctx context.Context, m domain.Match) (domain.Match, error) {
	if !m.Status.Valid() {
		return domain.Match{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, m.Status)
	}
	var stored domain.Match
	err := s.serialize(ctx, "upsert_match", m.User.ID, func(ctx context.Context) error {
		return s.withMatches(ctx, func(tx kv.Backend, list []domain.Match) ([]domain.Match, error) {
			var err error
			stored, list, err = s.upsert(list, m)
			return list, err
		})
	})
	return stored, err
}

func (s *Store) upsert(list []domain.Match, m domain.Match) (domain.Match, []domain.Match, error) {
	if m.ChatHistory == nil {
		m.ChatHistory = []domain.ChatMessage{}
	}
	if m.ID != "" {
		if j := indexByID(list, m.ID); j >= 0 && list[j].User.ID != m.User.ID {
			return domain.Match{}, list, fmt.Errorf("%w: %q is %s's", ErrConflict, m.ID, list[j].User.ID)
		}
	}
	if i := indexByCounterpart(list, m.User.ID); i >= 0 {
		prev := list[i]
		if prev.Status != m.Status && !domain.CanTransition(prev.Status, m.Status) {
			return domain.Match{}, list, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, m.Status)
		}
		m.ID = prev.ID
		list[i] = m
		return m, list, nil
	}
	if m.ID == "" {
		m.ID = s.MatchID(m.User.ID)
	}
	return m, append(list, m), nil
}

// withMatches runs a read-modify-write of the match list inside one
// backend batch. fn returns the list to persist.
func (s *Store) withMatches(ctx context.Context, fn func(tx kv.Backend, list []domain.Match) ([]domain.Match, error)) error {
	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
		list, err := s.matches(ctx, tx)
		if err != nil {
			return err
		}
		list, err = fn(tx, list)
		if err != nil {
			return err
		}
		return writeJSON(ctx, tx, KeyMatches, list)
	}))
}

// SetMatchStatus moves the record with matchID to status. Only
// pending→matched and pending→declined are allowed.
func (s *Store) SetMatchStatus(ctx context.Context, matchID string, status domain.MatchStatus) (domain.Match, error) {
	return s.transition(ctx, "set_match_status", matchID, status, nil)
}

// DeclineMatch moves a pending record to declined.
func (s *Store) DeclineMatch(ctx context.Context, matchID string) (domain.Match, error) {
	return s.transition(ctx, "decline_match", matchID, domain.MatchDeclined, nil)
}

// AcceptMatch moves a pending record to matched and switches the
// conversation to the real person in the same batch: the real-chat flag is
// set and a separator is appended to the transcript.
func (s *Store) AcceptMatch(ctx context.Context, matchID string) (domain.Match, error) {
	return s.transition(ctx, "accept_match", matchID, domain.MatchMatched, func(ctx context.Context, tx kv.Backend, m domain.Match) error {
		if err := tx.Set(ctx, RealChatKey(m.User.ID), realChatValue); err != nil {
			return err
		}
		return s.appendTx(ctx, tx, m.User.ID, []domain.ChatMessage{Separator(m.User.Name, s.now())})
	})
}

func (s *Store) transition(ctx context.Context, op, matchID string, to domain.MatchStatus, also func(context.Context, kv.Backend, domain.Match) error) (domain.Match, error) {
	// Resolve the counterpart first so the write runs on its shard.
	list, err := s.Matches(ctx)
	if err != nil {
		return domain.Match{}, err
	}
	i := indexByID(list, matchID)
	if i < 0 {
		storeOps.WithLabelValues(op, "not_found").Inc()
		return domain.Match{}, fmt.Errorf("%w: match %q", ErrNotFound, matchID)
	}

	var updated domain.Match
	err = s.serialize(ctx, op, list[i].User.ID, func(ctx context.Context) error {
		return s.withMatches(ctx, func(tx kv.Backend, list []domain.Match) ([]domain.Match, error) {
			i := indexByID(list, matchID)
			if i < 0 {
				return nil, fmt.Errorf("%w: match %q", ErrNotFound, matchID)
			}
			if !domain.CanTransition(list[i].Status, to) {
				return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, list[i].Status, to)
			}
			list[i].Status = to
			updated = list[i]
			if also != nil {
				if err := also(ctx, tx, updated); err != nil {
					return nil, err
				}
			}
			return list, nil
		})
	})
	return updated, err
}

// CompleteAutopilot stores the simulated conversation with p and, when
// match is non-nil, records it as a pending match request. An existing
// matched or declined record for p is never overwritten; recorded reports
// whether the match was stored.
func (s *Store) CompleteAutopilot(ctx context.Context, p domain.Profile, msgs []domain.ChatMessage, match *domain.Match) (recorded bool, err error) {
	err = s.serialize(ctx, "complete_autopilot", p.ID, func(ctx context.Context) error {
		recorded = false
		if match == nil {
			if len(msgs) == 0 {
				return nil
			}
			return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
				return s.appendTx(ctx, tx, p.ID, msgs)
			}))
		}
		return s.withMatches(ctx, func(tx kv.Backend, list []domain.Match) ([]domain.Match, error) {
			if len(msgs) > 0 {
				if err := s.appendTx(ctx, tx, p.ID, msgs); err != nil {
					return nil, err
				}
			}
			if i := indexByCounterpart(list, p.ID); i >= 0 && list[i].Status != domain.MatchPending {
				return list, nil
			}
			m := *match
			m.User = p
			m.Status = domain.MatchPending
			_, list, err := s.upsert(list, m)
			if err != nil {
				return nil, err
			}
			recorded = true
			return list, nil
		})
	})
	return recorded, err
}
