package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Countdown is the advisory hold timer shown to the user.  The server
// enforces expiry on its own; the countdown only triggers the client's
// release-and-exit once.
type Countdown struct {
	expiresAt time.Time
	tick      time.Duration
	now       func() time.Time
	onTick    func(remaining time.Duration)
	onExpire  func()

	mu      sync.Mutex
	stopped bool
	fired   bool
	stop    chan struct{}
}

// NewCountdown builds a timer for expiresAt.  onTick runs every tick with
// the remaining time and may be nil.  onExpire runs at most once.
func NewCountdown(expiresAt time.Time, tick time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	return &Countdown{
		expiresAt: expiresAt,
		tick:      tick,
		now:       time.Now,
		onTick:    onTick,
		onExpire:  onExpire,
		stop:      make(chan struct{}),
	}
}

// Start runs the countdown in the background.  Cancelling ctx stops it
// without firing.
func (c *Countdown) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Countdown) run(ctx context.Context) {
	for {
		remaining := c.expiresAt.Sub(c.now())
		if remaining <= 0 {
			c.expire()
			return
		}
		if c.onTick != nil {
			c.onTick(remaining)
		}
		t := time.NewTimer(min(c.tick, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-c.stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Countdown) expire() {
	c.mu.Lock()
	if c.stopped || c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	c.mu.Unlock()
	if c.onExpire != nil {
		c.onExpire()
	}
}

// Stop cancels the countdown.  onExpire does not run after Stop unless it
// had already started.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
}

// Remaining returns the time left, never negative.
func (c *Countdown) Remaining() time.Duration {
	return max(c.expiresAt.Sub(c.now()), 0)
}

// FormatRemaining renders d as m:ss, rounding partial seconds up.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
