// Package shardqueue provides a sharded work queue that runs jobs for the
// same key one at a time, in submission order, while jobs for different keys
// may run in parallel on other shards. The relationship store routes every
// mutation for a counterpart through it so that concurrent writers in one
// process never lose each other's updates.
package shardqueue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Config tunes a ShardExecutor. Zero values fall back to defaults.
type Config struct {
	Shards         int           // default 4
	QueueSize      int           // per shard, default 128
	EnqueueTimeout time.Duration // default 100ms
	MaxAttempts    int           // for retryable errors, default 5
	BaseBackoff    time.Duration // default 50ms
	MaxInterval    time.Duration // default 2s

	// ErrorHandler receives failures of jobs submitted with Submit (Do returns
	// them to the caller instead). Optional.
	ErrorHandler func(key string, err error)
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	return c
}

type queuedJob struct {
	ctx    context.Context
	key    string
	job    Job
	result chan error // nil for fire-and-forget submissions
}

// ShardExecutor executes jobs on worker goroutines partitioned by a stable
// hash of the key.
type ShardExecutor struct {
	cfg    Config
	queues []chan queuedJob

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// New constructs the executor and starts one worker per shard.
func New(cfg Config) *ShardExecutor {
	cfg = cfg.withDefaults()
	p := &ShardExecutor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job on the shard for key without waiting for it to run.
//
//   - ErrExecutorClosed if the executor is stopped.
//   - *QueueFullError (errors.Is ErrQueueFull) if the shard stays full for
//     EnqueueTimeout.
//   - ctx.Err() if ctx ends first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	return p.enqueue(ctx, queuedJob{ctx: ctx, key: key, job: job})
}

// Do enqueues fn on the shard for key and waits for its result. Jobs for
// the same key never overlap, so fn may read-modify-write that key's state.
func (p *ShardExecutor) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	res := make(chan error, 1)
	if err := p.enqueue(ctx, queuedJob{ctx: ctx, key: key, job: JobFunc(fn), result: res}); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Barrier waits until every job submitted for key before the call has run.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	return p.Do(ctx, key, func(context.Context) error { return nil })
}

// Stop lets every worker drain its queue, then returns. It is idempotent.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	log.Debug().Int("shards", p.cfg.Shards).Msg("shardqueue: draining")
	close(p.done)
	p.wg.Wait()
	log.Debug().Msg("shardqueue: stopped")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

func (p *ShardExecutor) enqueue(ctx context.Context, qj queuedJob) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(qj.key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			p.finish(qj, p.execute(label, qj, true))
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			// Drain in FIFO order without retries, then exit.
			for {
				select {
				case qj := <-ch:
					p.finish(qj, p.execute(label, qj, false))
				default:
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// execute runs one job, retrying retryable errors with exponential backoff
// while the executor is running.
func (p *ShardExecutor) execute(label string, qj queuedJob, retry bool) error {
	if qj.job == nil {
		return nil
	}
	if err := qj.ctx.Err(); err != nil {
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := runSafely(qj.ctx, qj.job)
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

		if err == nil || !retry || !IsRetryable(err) || attempt >= p.cfg.MaxAttempts {
			return err
		}

		retriesTotal.WithLabelValues(label).Inc()
		log.Debug().Err(err).Str("key", qj.key).Int("attempt", attempt).Msg("shardqueue: retrying job")

		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			return err
		case <-qj.ctx.Done():
			return qj.ctx.Err()
		}
	}
}

func (p *ShardExecutor) finish(qj queuedJob, err error) {
	if qj.result != nil {
		qj.result <- err
		return
	}
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("shardqueue: error handler panic")
		}
	}()
	p.cfg.ErrorHandler(qj.key, err)
}

func runSafely(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("shardqueue: job panic")
			err = &PanicError{Value: r}
		}
	}()
	return j.Run(ctx)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
