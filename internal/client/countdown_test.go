package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		10 * time.Minute:        "10:00",
		65 * time.Second:        "1:05",
		1500 * time.Millisecond: "0:02",
		time.Second:             "0:01",
		0:                       "0:00",
		-3 * time.Second:        "0:00",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatRemaining(d), d.String())
	}
}

func TestCountdownFiresOnce(t *testing.T) {
	var fired, ticks atomic.Int32
	cd := NewCountdown(time.Now().Add(60*time.Millisecond), 10*time.Millisecond,
		func(time.Duration) { ticks.Add(1) },
		func() { fired.Add(1) })
	cd.Start(testContext(t))

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.Positive(t, ticks.Load())
	assert.Zero(t, cd.Remaining())

	cd.Stop()
	cd.Stop()
}

func TestCountdownStopPreventsRelease(t *testing.T) {
	var fired atomic.Int32
	cd := NewCountdown(time.Now().Add(80*time.Millisecond), 10*time.Millisecond, nil, func() { fired.Add(1) })
	cd.Start(testContext(t))
	cd.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestCountdownCancelledContext(t *testing.T) {
	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cd := NewCountdown(time.Now().Add(80*time.Millisecond), 10*time.Millisecond, nil, func() { fired.Add(1) })
	cd.Start(ctx)
	cancel()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestCountdownAlreadyExpired(t *testing.T) {
	done := make(chan struct{})
	cd := NewCountdown(time.Now().Add(-time.Second), 0, nil, func() { close(done) })
	cd.Start(testContext(t))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown did not fire")
	}
}
