package relationship

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/kv"
)

// Transcript returns the stored transcript for counterpartID in append
// order. A missing or malformed transcript yields an empty, non-nil slice.
func (s *Store) Transcript(ctx context.Context, counterpartID string) ([]domain.ChatMessage, error) {
	return s.transcript(ctx, s.backend, counterpartID)
}

func (s *Store) transcript(ctx context.Context, b kv.Backend, counterpartID string) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	if _, err := s.readJSON(ctx, b, TranscriptKey(counterpartID), &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// AppendMessages appends msgs to the counterpart's transcript, preserving
// order. Appending nothing is a no-op.
func (s *Store) AppendMessages(ctx context.Context, counterpartID string, msgs ...domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.serialize(ctx, "append_messages", counterpartID, func(ctx context.Context) error {
		return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
			return s.appendTx(ctx, tx, counterpartID, msgs)
		}))
	})
}

// AppendPersonaReply appends an AI persona message unless the conversation
// has switched to the real person in the meantime. The flag is checked on
// the counterpart's shard, so a reply never lands after the separator.
func (s *Store) AppendPersonaReply(ctx context.Context, counterpartID string, reply domain.ChatMessage) (appended bool, err error) {
	err = s.serialize(ctx, "append_persona_reply", counterpartID, func(ctx context.Context) error {
		appended = false
		return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
			isReal, err := s.isRealChat(ctx, tx, counterpartID)
			if err != nil || isReal {
				return err
			}
			if err := s.appendTx(ctx, tx, counterpartID, []domain.ChatMessage{reply}); err != nil {
				return err
			}
			appended = true
			return nil
		}))
	})
	return appended, err
}

func (s *Store) appendTx(ctx context.Context, tx kv.Backend, counterpartID string, msgs []domain.ChatMessage) error {
	current, err := s.transcript(ctx, tx, counterpartID)
	if err != nil {
		return err
	}
	return writeJSON(ctx, tx, TranscriptKey(counterpartID), append(current, msgs...))
}

// IsMeaningful reports whether a transcript counts as an interaction. A
// transcript holding only the AI's opening greeting does not.
func IsMeaningful(t []domain.ChatMessage) bool {
	if len(t) == 0 {
		return false
	}
	return !(len(t) == 1 && t[0].Sender == domain.SenderAI)
}

// LastActivity returns the timestamp of the last non-system message in t.
// ok is false when there is none.
func LastActivity(t []domain.ChatMessage) (time.Time, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Sender != domain.SenderSystem {
			return t[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// MarkRealChat flags the counterpart's conversation as a real-person chat.
func (s *Store) MarkRealChat(ctx context.Context, counterpartID string) error {
	return s.serialize(ctx, "mark_real_chat", counterpartID, func(ctx context.Context) error {
		return backendErr(s.backend.Set(ctx, RealChatKey(counterpartID), realChatValue))
	})
}

// IsRealChat reports whether the counterpart's flag is set. Any value other
// than "true" counts as unset.
func (s *Store) IsRealChat(ctx context.Context, counterpartID string) (bool, error) {
	return s.isRealChat(ctx, s.backend, counterpartID)
}

func (s *Store) isRealChat(ctx context.Context, b kv.Backend, counterpartID string) (bool, error) {
	v, err := b.Get(ctx, RealChatKey(counterpartID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == realChatValue, nil
}

// Separator builds the system message inserted when a conversation switches
// from the AI persona to the real person.
func Separator(name string, now time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        "separator_" + strconv.FormatInt(now.UnixMilli(), 10),
		Content:   fmt.Sprintf("Now chatting with %s", name),
		Sender:    domain.SenderSystem,
		Timestamp: now,
	}
}

// StartRealChat switches the conversation with p to the real person: it sets
// the real-chat flag and appends a separator. A conversation that is already
// real is left untouched and started reports false.
func (s *Store) StartRealChat(ctx context.Context, p domain.Profile) (started bool, err error) {
	err = s.serialize(ctx, "start_real_chat", p.ID, func(ctx context.Context) error {
		return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
			real, err := s.isRealChat(ctx, tx, p.ID)
			if err != nil || real {
				return err
			}
			if err := tx.Set(ctx, RealChatKey(p.ID), realChatValue); err != nil {
				return err
			}
			started = true
			return s.appendTx(ctx, tx, p.ID, []domain.ChatMessage{Separator(p.Name, s.now())})
		}))
	})
	return started, err
}

// StartTranscript stores greeting as the first message when the
// counterpart has no transcript and the conversation is not real. It
// reports whether the greeting was stored.
func (s *Store) StartTranscript(ctx context.Context, counterpartID string, greeting domain.ChatMessage) (created bool, err error) {
	err = s.serialize(ctx, "start_transcript", counterpartID, func(ctx context.Context) error {
		return backendErr(s.backend.Atomic(ctx, func(tx kv.Backend) error {
			isReal, err := s.isRealChat(ctx, tx, counterpartID)
			if err != nil || isReal {
				return err
			}
			current, err := s.transcript(ctx, tx, counterpartID)
			if err != nil || len(current) > 0 {
				return err
			}
			created = true
			return writeJSON(ctx, tx, TranscriptKey(counterpartID), []domain.ChatMessage{greeting})
		}))
	})
	return created, err
}
