package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

var t0 = time.Date(2026, 6, 1, 19, 30, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentEvent struct {
	key   string
	event any
}

type recorder struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, sentEvent{key, event})
	return nil
}

type env struct {
	e     *echo.Echo
	clock *clock
	store *repository.MemoryStore
	seats *seatlock.Service
	coord *booking.Coordinator
}

func quiet(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(io.Discard)
	return l
}

// newEnv registers show 5 with a STANDARD row S1..S6 at 12.00 and a
// PREMIUM row V1..V2 at 20.00.
func newEnv(t *testing.T) *env {
	t.Helper()
	clk := &clock{now: t0}
	store := repository.NewMemoryStore()
	seats := seatlock.New(store, nil, quiet("seatlock"), seatlock.Config{HoldTTL: 10 * time.Minute, Now: clk.Now})
	coord := booking.NewCoordinator(store, booking.MockGateway{BaseURL: "http://test"}, nil, nil, quiet("booking"), booking.Config{Now: clk.Now})
	require.NoError(t, seats.RegisterLayout(context.Background(), showLayout()))

	e := echo.New()
	e.Validator = NewValidator()
	e.Logger.SetOutput(io.Discard)
	return &env{e: e, clock: clk, store: store, seats: seats, coord: coord}
}

func showLayout() model.Layout {
	std := make([]model.LayoutCell, 0, 6)
	for _, id := range []string{"S1", "S2", "S3", "S4", "S5", "S6"} {
		std = append(std, model.LayoutCell{SeatID: id, Type: model.SeatTypeStandard})
	}
	return model.Layout{
		ShowID: 5,
		Categories: []model.LayoutCategory{
			{Category: model.Category{ID: 1, Name: "STANDARD", PriceCents: 1200, Currency: "usd"}, Rows: 1, Columns: 6, Cells: std},
			{Category: model.Category{ID: 2, Name: "PREMIUM", PriceCents: 2000, Currency: "usd"}, Rows: 1, Columns: 2, Cells: []model.LayoutCell{
				{SeatID: "V1", Type: model.SeatTypePremium},
				{SeatID: "V2", Type: model.SeatTypePremium},
			}},
		},
	}
}

type call struct {
	method string
	target string
	body   string
	user   string
	role   string
	names  []string
	values []string
}

func (en *env) do(t *testing.T, h echo.HandlerFunc, cl call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if cl.body != "" {
		body = strings.NewReader(cl.body)
	}
	req := httptest.NewRequest(cl.method, cl.target, body)
	if cl.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := en.e.NewContext(req, rec)
	if len(cl.names) > 0 {
		c.SetParamNames(cl.names...)
		c.SetParamValues(cl.values...)
	}
	if cl.user != "" {
		c.Set("user_id", cl.user)
		c.Set("role", cl.role)
	}
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (en *env) seatState(t *testing.T, id string) model.SeatStatus {
	t.Helper()
	seats, err := en.seats.GetAvailableSeats(context.Background(), 5)
	require.NoError(t, err)
	for _, s := range seats {
		if s.SeatID == id {
			return s.State
		}
	}
	t.Fatalf("seat %s missing", id)
	return ""
}

func (en *env) lock(t *testing.T, user string, seats ...string) string {
	t.Helper()
	h, err := en.seats.LockSeats(context.Background(), seatlock.LockRequest{ShowID: 5, UserID: user, SeatIDs: seats})
	require.NoError(t, err)
	return h.Ref
}
