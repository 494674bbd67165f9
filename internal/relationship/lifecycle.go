package relationship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/kv"
	"github.com/tbourn/go-auras-backend/internal/shardqueue"
)

// DeleteChat forgets the counterpart entirely: its match records, its
// transcript and its real-chat flag are removed in one batch, after which
// the counterpart is browsable again. ErrNotFound is returned when none of
// them existed.
func (s *Store) DeleteChat(ctx context.Context, counterpartID string) error {
	return s.serialize(ctx, "delete_chat", counterpartID, func(ctx context.Context) error {
		existed := false
		err := s.withMatches(ctx, func(tx kv.Backend, list []domain.Match) ([]domain.Match, error) {
			kept := list[:0:0]
			for _, m := range list {
				if m.User.ID == counterpartID {
					existed = true
					continue
				}
				kept = append(kept, m)
			}
			for _, k := range []string{TranscriptKey(counterpartID), RealChatKey(counterpartID)} {
				_, err := tx.Get(ctx, k)
				switch {
				case err == nil:
					existed = true
				case !errors.Is(err, kv.ErrNotFound):
					return nil, err
				}
			}
			if !existed {
				return nil, fmt.Errorf("%w: counterpart %q", ErrNotFound, counterpartID)
			}
			if err := tx.Delete(ctx, TranscriptKey(counterpartID), RealChatKey(counterpartID)); err != nil {
				return nil, err
			}
			return kept, nil
		})
		return err
	})
}

// Preferences returns the saved browse filters, or the defaults when none
// are saved or the saved value is malformed.
func (s *Store) Preferences(ctx context.Context) (domain.Preferences, error) {
	var p domain.Preferences
	found, err := s.readJSON(ctx, s.backend, KeyPreferences, &p)
	if err != nil {
		return domain.Preferences{}, err
	}
	if !found {
		return domain.DefaultPreferences(), nil
	}
	return p, nil
}

// ValidatePreferences rejects filters no profile could ever satisfy.
func ValidatePreferences(p domain.Preferences) error {
	switch {
	case p.AgeRange.Min < 18:
		return fmt.Errorf("%w: minimum age must be at least 18", ErrInvalidPreferences)
	case p.AgeRange.Max < p.AgeRange.Min:
		return fmt.Errorf("%w: age range %d-%d is empty", ErrInvalidPreferences, p.AgeRange.Min, p.AgeRange.Max)
	case len(p.GenderPreference) == 0:
		return fmt.Errorf("%w: at least one gender is required", ErrInvalidPreferences)
	case p.MaxDistance < 0:
		return fmt.Errorf("%w: max distance must not be negative", ErrInvalidPreferences)
	}
	for _, g := range p.GenderPreference {
		if !g.Valid() {
			return fmt.Errorf("%w: unknown gender %q", ErrInvalidPreferences, g)
		}
	}
	return nil
}

// SavePreferences validates and persists p.
func (s *Store) SavePreferences(ctx context.Context, p domain.Preferences) error {
	if err := ValidatePreferences(p); err != nil {
		storeOps.WithLabelValues("save_preferences", "invalid").Inc()
		return err
	}
	return s.serialize(ctx, "save_preferences", KeyPreferences, func(ctx context.Context) error {
		return backendErr(writeJSON(ctx, s.backend, KeyPreferences, p))
	})
}

// CurrentChatUser returns the profile last opened for chatting. ok is false
// when none is recorded. It waits for a handoff still in the queue.
func (s *Store) CurrentChatUser(ctx context.Context) (p domain.Profile, ok bool, err error) {
	if err := s.settle(ctx); err != nil {
		return p, false, err
	}
	ok, err = s.readJSON(ctx, s.backend, KeyCurrentChatUser, &p)
	return p, ok, err
}

// SetCurrentChatUser queues p as the profile currently open for chatting and
// returns without waiting for the write. The handoff outlives ctx; write
// failures go to the executor's error handler.
func (s *Store) SetCurrentChatUser(ctx context.Context, p domain.Profile) error {
	job := shardqueue.JobFunc(func(ctx context.Context) error {
		return backendErr(writeJSON(ctx, s.backend, KeyCurrentChatUser, p))
	})
	if err := s.exec.Submit(context.WithoutCancel(ctx), KeyCurrentChatUser, job); err != nil {
		storeOps.WithLabelValues("set_current_chat_user", "error").Inc()
		return err
	}
	storeOps.WithLabelValues("set_current_chat_user", "queued").Inc()
	return nil
}

// Reset removes every key the store owns.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.settle(ctx); err != nil {
		return err
	}
	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	err := s.backend.Atomic(ctx, func(tx kv.Backend) error {
		keys, err := ownedKeys(ctx, tx)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return tx.Delete(ctx, keys...)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOps.WithLabelValues("reset", outcome).Inc()
	return err
}

// settle waits for a queued current-chat handoff so bulk operations see it.
func (s *Store) settle(ctx context.Context) error {
	return s.exec.Barrier(ctx, KeyCurrentChatUser)
}

func ownedKeys(ctx context.Context, b kv.Backend) ([]string, error) {
	var keys []string
	for _, prefix := range []string{TranscriptPrefix, RealChatPrefix} {
		ks, err := b.Keys(ctx, prefix)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ks...)
	}
	for _, k := range []string{KeyMatches, KeyPreferences, KeyCurrentChatUser} {
		_, err := b.Get(ctx, k)
		switch {
		case err == nil:
			keys = append(keys, k)
		case !errors.Is(err, kv.ErrNotFound):
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ExportLegacy returns the owned keys as the flat string map the browser
// client kept in local storage.
func (s *Store) ExportLegacy(ctx context.Context) (map[string]string, error) {
	if err := s.settle(ctx); err != nil {
		return nil, err
	}
	keys, err := ownedKeys(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.backend.Get(ctx, k)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ImportReport summarises an ImportLegacy run.
type ImportReport struct {
	Transcripts int      `json:"transcripts"`
	RealChats   int      `json:"realChats"`
	Matches     int      `json:"matches"`
	Preferences bool     `json:"preferences"`
	Skipped     []string `json:"skipped"`
}

// ImportLegacy loads a local-storage dump. Unknown keys and values that do
// not decode are skipped and listed in the report. Match records are
// deduplicated by counterpart, keeping the last occurrence. When replace is
// set, existing state is cleared first; everything is written in one batch.
func (s *Store) ImportLegacy(ctx context.Context, dump map[string]string, replace bool) (ImportReport, error) {
	rep := ImportReport{Skipped: []string{}}
	if err := s.settle(ctx); err != nil {
		return rep, err
	}
	writes := map[string]string{}

	keys := make([]string, 0, len(dump))
	for k := range dump {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := dump[k]
		switch {
		case k == KeyMatches:
			var list []domain.Match
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				rep.Skipped = append(rep.Skipped, k)
				continue
			}
			list = dedupeMatches(list)
			raw, err := json.Marshal(list)
			if err != nil {
				return rep, err
			}
			writes[k] = string(raw)
			rep.Matches = len(list)

		case k == KeyPreferences:
			var p domain.Preferences
			if err := json.Unmarshal([]byte(v), &p); err != nil || ValidatePreferences(p) != nil {
				rep.Skipped = append(rep.Skipped, k)
				continue
			}
			writes[k] = v
			rep.Preferences = true

		case k == KeyCurrentChatUser:
			var p domain.Profile
			if err := json.Unmarshal([]byte(v), &p); err != nil {
				rep.Skipped = append(rep.Skipped, k)
				continue
			}
			writes[k] = v

		case strings.HasPrefix(k, TranscriptPrefix):
			var t []domain.ChatMessage
			if _, ok := counterpartFromKey(k, TranscriptPrefix); !ok || json.Unmarshal([]byte(v), &t) != nil {
				rep.Skipped = append(rep.Skipped, k)
				continue
			}
			writes[k] = v
			rep.Transcripts++

		case strings.HasPrefix(k, RealChatPrefix):
			if _, ok := counterpartFromKey(k, RealChatPrefix); !ok || v != realChatValue {
				rep.Skipped = append(rep.Skipped, k)
				continue
			}
			writes[k] = v
			rep.RealChats++

		default:
			rep.Skipped = append(rep.Skipped, k)
		}
	}

	s.matchesMu.Lock()
	defer s.matchesMu.Unlock()
	err := s.backend.Atomic(ctx, func(tx kv.Backend) error {
		if replace {
			existing, err := ownedKeys(ctx, tx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				if err := tx.Delete(ctx, existing...); err != nil {
					return err
				}
			}
		}
		for _, k := range sortedKeys(writes) {
			if err := tx.Set(ctx, k, writes[k]); err != nil {
				return err
			}
		}
		return nil
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOps.WithLabelValues("import_legacy", outcome).Inc()
	return rep, err
}

func dedupeMatches(list []domain.Match) []domain.Match {
	last := map[string]int{}
	for i, m := range list {
		last[m.User.ID] = i
	}
	out := make([]domain.Match, 0, len(last))
	for i, m := range list {
		if last[m.User.ID] == i {
			if m.ChatHistory == nil {
				m.ChatHistory = []domain.ChatMessage{}
			}
			out = append(out, m)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
