package autopilot

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-auras-backend/internal/domain"
)

// DefaultRevealInterval is the pause between revealed messages.
const DefaultRevealInterval = 2500 * time.Millisecond

// State is the playback lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateComplete State = "complete"
)

// Playback reveals already-generated messages one per interval.
//
// Pause and Stop are best effort: a message whose tick has already fired may
// still be delivered after the call returns.
type Playback struct {
	msgs     []domain.ChatMessage
	interval time.Duration

	mu       sync.Mutex
	state    State
	revealed int
	out      chan domain.ChatMessage
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPlayback prepares playback of msgs. A non-positive interval uses
// DefaultRevealInterval.
func NewPlayback(msgs []domain.ChatMessage, interval time.Duration) *Playback {
	if interval <= 0 {
		interval = DefaultRevealInterval
	}
	return &Playback{
		msgs:     msgs,
		interval: interval,
		state:    StateIdle,
		stop:     make(chan struct{}),
	}
}

// Start begins revealing messages on the returned channel, which is closed
// when playback completes, is stopped, or ctx ends. Calling Start again
// returns the same channel.
func (p *Playback) Start(ctx context.Context) <-chan domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		return p.out
	}
	p.out = make(chan domain.ChatMessage)
	if len(p.msgs) == 0 {
		p.state = StateComplete
		close(p.out)
		return p.out
	}
	p.state = StateRunning
	go p.run(ctx, p.out)
	return p.out
}

func (p *Playback) run(ctx context.Context, out chan<- domain.ChatMessage) {
	defer close(out)
	defer p.setState(StateComplete)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-t.C:
		}

		p.mu.Lock()
		if p.state == StatePaused {
			p.mu.Unlock()
			continue
		}
		msg := p.msgs[p.revealed]
		p.revealed++
		last := p.revealed == len(p.msgs)
		p.mu.Unlock()

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
		if last {
			return
		}
	}
}

func (p *Playback) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Pause holds further reveals until Resume.
func (p *Playback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		p.state = StatePaused
	}
}

// Resume continues a paused playback.
func (p *Playback) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StateRunning
	}
}

// Stop ends playback. It is safe to call more than once.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// State reports the current state.
func (p *Playback) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Revealed reports how many messages have been handed out so far.
func (p *Playback) Revealed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revealed
}

// Total reports how many messages the playback holds.
func (p *Playback) Total() int { return len(p.msgs) }
