package client

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

func quiet(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(io.Discard)
	return l
}

type fakeSource struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeSource) Seats(context.Context, uint64) ([]model.SeatState, error) {
	n := f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("connection refused")
	}
	st := model.SeatAvailable
	if n > 1 {
		st = model.SeatHeld
	}
	return []model.SeatState{{SeatID: "A1", State: st, Status: st.Code()}}, nil
}

func next(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "poller closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	return Update{}
}

func TestPollerReportsDroppedSeats(t *testing.T) {
	src := &fakeSource{}
	layout := testLayout()
	sel := Selection{CategoryID: 1, SeatIDs: []string{"A1"}}
	apply := func(seats []model.SeatState) Update {
		vm, dropped := Reconcile(seats, layout, sel)
		sel.Remove(dropped...)
		return Update{View: vm, Dropped: dropped}
	}
	p := NewPoller(src, 9, 10*time.Millisecond, apply, quiet("poller"))
	ch := p.Run(testContext(t))

	first := next(t, ch)
	assert.Equal(t, []string{"A1"}, first.View.Selected)
	assert.Empty(t, first.Dropped)

	second := next(t, ch)
	assert.Equal(t, []string{"A1"}, second.Dropped)
	assert.Empty(t, second.View.Selected)

	p.Stop()
	p.Stop()
	for range ch {
	}
}

func TestPollerKeepsGoingOnError(t *testing.T) {
	src := &fakeSource{}
	src.fail.Store(true)
	p := NewPoller(src, 9, 10*time.Millisecond, func([]model.SeatState) Update { return Update{} }, quiet("poller"))
	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Run(ctx)

	assert.Error(t, next(t, ch).Err)
	assert.Error(t, next(t, ch).Err)

	cancel()
	select {
	case <-waitClosed(ch):
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}

func waitClosed(ch <-chan Update) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}
