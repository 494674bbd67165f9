// Package relationship implements the relationship state store: per
// counterpart transcripts and real-chat flags, the match record list, and
// user preferences, plus the derived views (browsable candidates, pending
// match requests, active chats, ongoing AI chats) and the state transitions
// triggered by user actions.
//
// All writes for one counterpart run through a single-writer shard queue,
// so concurrent callers in one process never lose each other's appends.
// Writes that span several keys are applied in one kv.Backend batch.
package relationship

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auras-backend/internal/kv"
	"github.com/tbourn/go-auras-backend/internal/shardqueue"
)

var storeOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "auras",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Relationship store mutations by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

// Rand is the random source used for synthesized compatibility scores.
// *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Store is the relationship state store. It is safe for concurrent use.
type Store struct {
	backend  kv.Backend
	exec     *shardqueue.ShardExecutor
	ownsExec bool
	now      func() time.Time
	logger   zerolog.Logger

	randMu sync.Mutex
	rnd    Rand

	// matchesMu guards read-modify-write of the shared userMatches key,
	// which every counterpart's shard may touch.
	matchesMu sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithExecutor routes writes through an existing shard executor. The store
// does not stop executors it did not create.
func WithExecutor(e *shardqueue.ShardExecutor) Option {
	return func(s *Store) {
		if e != nil {
			s.exec = e
			s.ownsExec = false
		}
	}
}

// WithClock overrides the time source used for separators and synthesized ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand overrides the random source used for synthesized compatibility.
func WithRand(r Rand) Option {
	return func(s *Store) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithLogger sets the logger used for malformed-data warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds a Store over backend.
func New(backend kv.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  log.Logger.With().Str("component", "relationship").Logger(),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	if s.exec == nil {
		s.exec = shardqueue.New(shardqueue.Config{})
		s.ownsExec = true
	}
	return s
}

// Close stops the store's own shard executor after draining queued writes.
func (s *Store) Close() error {
	if s.ownsExec {
		return s.exec.Close()
	}
	return nil
}

func (s *Store) intn(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rnd.Intn(n)
}

// serialize runs fn on the counterpart's shard and records the outcome.
func (s *Store) serialize(ctx context.Context, op, counterpartID string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(counterpartID) == "" {
		storeOps.WithLabelValues(op, "invalid").Inc()
		return ErrEmptyCounterpartID
	}
	err := s.exec.Do(ctx, counterpartID, fn)
	switch {
	case err == nil:
		storeOps.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrNotFound):
		storeOps.WithLabelValues(op, "not_found").Inc()
	case errors.Is(err, ErrInvalidTransition):
		storeOps.WithLabelValues(op, "invalid_transition").Inc()
	case errors.Is(err, ErrConflict):
		storeOps.WithLabelValues(op, "conflict").Inc()
	default:
		storeOps.WithLabelValues(op, "error").Inc()
	}
	return err
}

// backendErr marks backend failures as retryable for the shard worker.
// Domain errors and cancellations are returned as-is.
func backendErr(err error) error {
	switch {
	case err == nil,
		errors.Is(err, kv.ErrNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidPreferences),
		errors.Is(err, ErrEmptyCounterpartID),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return shardqueue.Retryable(err)
}

// readJSON decodes key into v. found is false when the key is absent or its
// value is malformed; malformed values are logged and otherwise ignored.
func (s *Store) readJSON(ctx context.Context, b kv.Backend, key string, v any) (found bool, err error) {
	raw, err := b.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("ignoring malformed persisted value")
		return false, nil
	}
	return true, nil
}

func writeJSON(ctx context.Context, b kv.Backend, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(ctx, key, string(raw))
}
