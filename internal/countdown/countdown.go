// Package countdown keeps the remaining time of a live session. Remaining
// time is derived from a baseline (value, taken at) on the injected clock,
// so missed ticks never slow the countdown down.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
)

// DefaultCheckpointInterval is the wall-clock gap between checkpoints.
const DefaultCheckpointInterval = 30 * time.Second

// TickInterval is how often Run re-evaluates the remaining time.
const TickInterval = time.Second

// Options configures a Countdown. All callbacks are optional.
type Options struct {
	// CheckpointInterval defaults to DefaultCheckpointInterval.
	CheckpointInterval time.Duration
	// Checkpoint persists the current remaining seconds.
	Checkpoint func(ctx context.Context, remaining int) error
	// OnTick receives the remaining seconds after every tick.
	OnTick func(remaining int)
	// OnTimeUp fires once when the remaining time reaches zero.
	OnTimeUp func()
	// OnCheckpointError receives failed checkpoint writes.
	OnCheckpointError func(err error)
}

// Countdown is safe for concurrent use.
type Countdown struct {
	clock clock.Clock
	opts  Options

	mu             sync.Mutex
	baseline       int
	baselineAt     time.Time
	lastCheckpoint time.Time
	expired        bool
	stopped        bool
}

// New starts a countdown from remaining seconds at the current clock time.
func New(c clock.Clock, remaining int, opts Options) *Countdown {
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	now := c.Now()
	return &Countdown{
		clock:          c,
		opts:           opts,
		baseline:       remaining,
		baselineAt:     now,
		lastCheckpoint: now,
	}
}

// Remaining returns the seconds left, never below zero.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.clock.Now())
}

func (c *Countdown) remainingLocked(now time.Time) int {
	elapsed := int(now.Sub(c.baselineAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	r := c.baseline - elapsed
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the time-up callback has fired.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Override replaces the remaining value and restarts the tick baseline.
// It has no effect once time is up.
func (c *Countdown) Override(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired {
		return
	}
	c.baseline = remaining
	c.baselineAt = c.clock.Now()
}

// Stop ends ticking without firing the time-up callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Tick evaluates the countdown once. It returns the remaining seconds and
// whether the countdown is still running.
func (c *Countdown) Tick(ctx context.Context) (int, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	if c.expired || c.stopped {
		c.mu.Unlock()
		return c.remainingLocked(now), false
	}
	remaining := c.remainingLocked(now)
	fire := remaining <= 0
	if fire {
		c.expired = true
	}
	checkpoint := !fire && c.opts.Checkpoint != nil && now.Sub(c.lastCheckpoint) >= c.opts.CheckpointInterval
	if checkpoint {
		c.lastCheckpoint = now
	}
	c.mu.Unlock()

	if c.opts.OnTick != nil {
		c.opts.OnTick(remaining)
	}
	if checkpoint {
		if err := c.opts.Checkpoint(ctx, remaining); err != nil && c.opts.OnCheckpointError != nil {
			c.opts.OnCheckpointError(err)
		}
	}
	if fire {
		if c.opts.OnTimeUp != nil {
			c.opts.OnTimeUp()
		}
		return 0, false
	}
	return remaining, true
}

// Run ticks every TickInterval until time is up, Stop is called or ctx ends.
func (c *Countdown) Run(ctx context.Context) {
	if _, running := c.Tick(ctx); !running {
		return
	}
	t := c.clock.NewTicker(TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, running := c.Tick(ctx); !running {
				return
			}
		}
	}
}
