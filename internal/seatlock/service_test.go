package seatlock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	key string
	ev  queue.HoldEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, _ := event.(queue.HoldEvent)
	p.events = append(p.events, recordedEvent{key: key, ev: ev})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.key)
	}
	return out
}

func layout() model.Layout {
	row := func(prefix string, n int, t model.SeatType) []model.LayoutCell {
		cells := make([]model.LayoutCell, 0, n)
		for i := 1; i <= n; i++ {
			cells = append(cells, model.LayoutCell{SeatID: fmt.Sprintf("%s%d", prefix, i), Type: t})
		}
		return cells
	}
	return model.Layout{
		ShowID: 1,
		Categories: []model.LayoutCategory{
			{Category: model.Category{ID: 1, Name: "STANDARD", PriceCents: 1000, Currency: "USD"}, Rows: 1, Columns: 12, Cells: row("A", 12, model.SeatTypeStandard)},
			{Category: model.Category{ID: 2, Name: "PREMIUM", PriceCents: 1800, Currency: "USD"}, Rows: 1, Columns: 4, Cells: row("P", 4, model.SeatTypePremium)},
		},
	}
}

type fixture struct {
	svc   *Service
	store *repository.MemoryStore
	pub   *recordingPublisher
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New("test")
	logger.SetOutput(io.Discard)
	f := &fixture{
		store: repository.NewMemoryStore(),
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
	}
	f.svc = New(f.store, f.pub, logger, Config{HoldTTL: 10 * time.Minute, Now: f.clock.Now})
	require.NoError(t, f.svc.RegisterLayout(context.Background(), layout()))
	return f
}

func (f *fixture) states(t *testing.T) map[string]model.SeatState {
	t.Helper()
	seats, err := f.svc.GetAvailableSeats(context.Background(), 1)
	require.NoError(t, err)
	out := make(map[string]model.SeatState, len(seats))
	for _, s := range seats {
		out[s.SeatID] = s
	}
	return out
}

func TestLockSeats_GrantsHold(t *testing.T) {
	f := newFixture(t)
	h, err := f.svc.LockSeats(context.Background(), LockRequest{ShowID: 1, UserID: "u1", CategoryID: 1, SeatIDs: []string{"A1", "A2", "A1"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"A1", "A2"}, h.SeatIDs)
	assert.Equal(t, int64(2000), h.TotalCents)
	assert.Equal(t, model.HoldActive, h.Status)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), h.ExpiresAt)

	st := f.states(t)
	assert.Equal(t, 0, st["A1"].Status)
	assert.Equal(t, model.SeatHeld, st["A1"].State)
	assert.Equal(t, 1, st["A3"].Status)
	assert.Equal(t, []string{queue.KeyHoldCreated}, f.pub.keys())
}

func TestLockSeats_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1"})
	assert.ErrorIs(t, err, repository.ErrInvalidRequest)

	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, SeatIDs: []string{"A1"}})
	assert.ErrorIs(t, err, repository.ErrInvalidRequest)

	eleven := []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "A9", "A10", "A11"}
	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: eleven})
	assert.ErrorIs(t, err, repository.ErrTooManySeats)

	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: eleven[:10]})
	assert.NoError(t, err)

	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 99, UserID: "u1", SeatIDs: []string{"A1"}})
	assert.ErrorIs(t, err, repository.ErrShowNotFound)
}

func TestLockSeats_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A3"}})
	require.NoError(t, err)

	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u2", SeatIDs: []string{"A2", "A3", "A4"}})
	var conflict *repository.SeatConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"A3"}, conflict.SeatIDs)

	st := f.states(t)
	assert.Equal(t, model.SeatAvailable, st["A2"].State)
	assert.Equal(t, model.SeatAvailable, st["A4"].State)
}

// S1: U1 holds A1,A2; U2 is refused A2,A3 and gets A2 after U1's hold lapses.
func TestLockSeats_ContendedSeatFreedByExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h1, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "U1", SeatIDs: []string{"A1", "A2"}})
	require.NoError(t, err)

	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "U2", SeatIDs: []string{"A2", "A3"}})
	var conflict *repository.SeatConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"A2"}, conflict.SeatIDs)

	f.clock.Advance(10 * time.Minute)

	h2, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "U2", SeatIDs: []string{"A2", "A3"}})
	require.NoError(t, err)
	assert.NotEqual(t, h1.Ref, h2.Ref)

	old, err := f.svc.GetHold(ctx, h1.Ref, "U1")
	require.NoError(t, err)
	assert.Equal(t, model.HoldExpired, old.Status)
	assert.Equal(t, model.SeatAvailable, f.states(t)["A1"].State)
	assert.Contains(t, f.pub.keys(), queue.KeyHoldExpired)
}

func TestLockSeats_NoDoubleHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// two requests overlapping on A3, raced many times
	sets := [][]string{{"A1", "A2", "A3"}, {"A3", "A4", "A5"}}
	const n = 50
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: fmt.Sprintf("u%d", i), SeatIDs: sets[i%2]})
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "second winner u%d", i)
			winner = i
		}
	}
	require.NotEqual(t, -1, winner)

	won := sets[winner%2]
	for i, err := range errs {
		if i == winner {
			continue
		}
		var conflict *repository.SeatConflictError
		require.ErrorAs(t, err, &conflict, "u%d", i)
		if i%2 == winner%2 {
			assert.Equal(t, won, conflict.SeatIDs, "u%d", i)
		} else {
			assert.Equal(t, []string{"A3"}, conflict.SeatIDs, "u%d", i)
		}
	}

	st := f.states(t)
	for _, id := range []string{"A1", "A2", "A3", "A4", "A5"} {
		want := model.SeatAvailable
		if slices.Contains(won, id) {
			want = model.SeatHeld
		}
		assert.Equal(t, want, st[id].State, id)
	}
}

func TestSeatsFreedAtExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A5"}})
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute - time.Nanosecond)
	assert.Equal(t, model.SeatHeld, f.states(t)["A5"].State)

	f.clock.Advance(time.Nanosecond)
	assert.Equal(t, model.SeatAvailable, f.states(t)["A5"].State)
}

func TestReleaseSeats_ByRefIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A1", "A2"}})
	require.NoError(t, err)

	res, err := f.svc.ReleaseSeats(ctx, ReleaseRequest{BookingRef: h.Ref, UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Released, 1)
	assert.Equal(t, "seats released", res.Message)

	res, err = f.svc.ReleaseSeats(ctx, ReleaseRequest{BookingRef: h.Ref, UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Released)
	assert.Equal(t, "nothing to release", res.Message)

	assert.Equal(t, model.SeatAvailable, f.states(t)["A1"].State)
	assert.Equal(t, []string{queue.KeyHoldCreated, queue.KeyHoldReleased}, f.pub.keys())
}

func TestReleaseSeats_OthersHoldIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A1"}})
	require.NoError(t, err)

	_, err = f.svc.ReleaseSeats(ctx, ReleaseRequest{BookingRef: h.Ref, UserID: "u2"})
	assert.ErrorIs(t, err, repository.ErrForbidden)
	assert.Equal(t, model.SeatHeld, f.states(t)["A1"].State)

	_, err = f.svc.ReleaseSeats(ctx, ReleaseRequest{BookingRef: "unknown", UserID: "u1"})
	assert.ErrorIs(t, err, repository.ErrHoldNotFound)
}

func TestReleaseSeats_BySeatSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A1", "A2"}})
	require.NoError(t, err)
	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A5"}})
	require.NoError(t, err)
	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u2", SeatIDs: []string{"A7"}})
	require.NoError(t, err)

	// naming one seat releases its whole hold
	res, err := f.svc.ReleaseSeats(ctx, ReleaseRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A2", "A7"}})
	require.NoError(t, err)
	require.Len(t, res.Released, 1)
	st := f.states(t)
	assert.Equal(t, model.SeatAvailable, st["A1"].State)
	assert.Equal(t, model.SeatHeld, st["A5"].State)
	assert.Equal(t, model.SeatHeld, st["A7"].State)

	res, err = f.svc.ReleaseSeats(ctx, ReleaseRequest{ShowID: 1, UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Released, 1)
	assert.Equal(t, model.SeatAvailable, f.states(t)["A5"].State)
}

func TestExpireDue_PublishesOncePerHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A1"}})
	require.NoError(t, err)
	_, err = f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u2", SeatIDs: []string{"A2"}})
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	n, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var expired int
	for _, k := range f.pub.keys() {
		if k == queue.KeyHoldExpired {
			expired++
		}
	}
	assert.Equal(t, 2, expired)
}

func TestRegisterLayout_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := layout()
	bad.Categories[0].Cells = bad.Categories[0].Cells[:3]
	assert.ErrorIs(t, f.svc.RegisterLayout(ctx, bad), repository.ErrInvalidRequest)

	dup := layout()
	dup.ShowID = 2
	dup.Categories[1].Cells[0].SeatID = "A1"
	assert.ErrorIs(t, f.svc.RegisterLayout(ctx, dup), repository.ErrInvalidRequest)

	// re-registering while seats are held is refused
	_, err := f.svc.LockSeats(ctx, LockRequest{ShowID: 1, UserID: "u1", SeatIDs: []string{"A1"}})
	require.NoError(t, err)
	err = f.svc.RegisterLayout(ctx, layout())
	assert.ErrorIs(t, err, repository.ErrConflict)
}
