package shardqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig() Config {
	return Config{
		Shards:         4,
		QueueSize:      16,
		EnqueueTimeout: 50 * time.Millisecond,
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxInterval:    5 * time.Millisecond,
	}
}

func TestDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, 4, c.Shards)
	assert.Equal(t, 128, c.QueueSize)
	assert.Equal(t, 100*time.Millisecond, c.EnqueueTimeout)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, c.BaseBackoff)
	assert.Equal(t, 2*time.Second, c.MaxInterval)
}

func TestFIFOPerKey(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	var (
		mu  sync.Mutex
		got []int
	)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, p.Submit(ctx, "chat_1", JobFunc(func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})))
	}
	require.NoError(t, p.Barrier(ctx, "chat_1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDoSerializesReadModifyWrite(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	counter := 0 // intentionally unsynchronised: Do must serialise access
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), "counterpart-7", func(context.Context) error {
				v := counter
				time.Sleep(100 * time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 40, counter)
}

func TestDoReturnsJobError(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	boom := errors.New("boom")
	err := p.Do(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetryableErrorsAreRetried(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	var calls int32
	err := p.Do(context.Background(), "k", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	var calls int32
	transient := errors.New("still down")
	err := p.Do(context.Background(), "k", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Retryable(transient)
	})
	assert.ErrorIs(t, err, transient)
	assert.True(t, IsRetryable(err))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	p := New(fastConfig())
	defer p.Stop()

	var calls int32
	err := p.Do(context.Background(), "k", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("invalid transition")
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	p := New(Config{Shards: 1, QueueSize: 4, BaseBackoff: time.Millisecond})
	defer p.Stop()

	err := p.Do(context.Background(), "k", func(context.Context) error { panic("kaboom") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	// The same shard keeps serving work.
	assert.NoError(t, p.Do(context.Background(), "k", func(context.Context) error { return nil }))
}

func TestQueueFull(t *testing.T) {
	p := New(Config{Shards: 1, QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, "k", JobFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started
	require.NoError(t, p.Submit(ctx, "k", JobFunc(func(context.Context) error { return nil })))

	err := p.Submit(ctx, "k", JobFunc(func(context.Context) error { return nil }))
	var qf *QueueFullError
	require.ErrorAs(t, err, &qf)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, qf.Capacity)
	close(release)
}

func TestCancelledJobIsSkipped(t *testing.T) {
	var (
		mu     sync.Mutex
		errs   []error
		ranJob int32
	)
	p := New(Config{
		Shards:    1,
		QueueSize: 4,
		ErrorHandler: func(key string, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "a", JobFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Submit(ctx, "a", JobFunc(func(context.Context) error {
		atomic.StoreInt32(&ranJob, 1)
		return nil
	})))
	cancel()
	close(release)
	require.NoError(t, p.Barrier(context.Background(), "a"))
	p.Stop()

	assert.EqualValues(t, 0, atomic.LoadInt32(&ranJob))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestStopDrainsAndRejects(t *testing.T) {
	p := New(Config{Shards: 2, QueueSize: 64})

	var ran int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), "k", JobFunc(func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})))
	}
	p.Stop()
	p.Stop() // idempotent
	assert.EqualValues(t, 20, atomic.LoadInt32(&ran))

	err := p.Submit(context.Background(), "k", JobFunc(func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrExecutorClosed)
	assert.ErrorIs(t, p.Do(context.Background(), "k", func(context.Context) error { return nil }), ErrExecutorClosed)
	assert.NoError(t, p.Close())
}

func TestShardForIsStable(t *testing.T) {
	p := New(Config{Shards: 8})
	defer p.Stop()
	for _, k := range []string{"1", "2", "chat_abc", ""} {
		s := p.shardFor(k)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
		assert.Equal(t, s, p.shardFor(k))
	}
}

func TestRetryableNil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.False(t, IsRetryable(errors.New("x")))
}
