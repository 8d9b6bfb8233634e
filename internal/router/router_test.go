package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/config"
	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
	"github.com/iliyamo/cinema-seat-lock/internal/utils"
)

const secret = "router-secret"

const inventory = `{"categories":[
	{"categoryId":1,"name":"STANDARD","priceCents":900,"currency":"USD","rows":1,"columns":3,
	 "seats":[{"seatId":"A1","type":1},{"type":0},{"seatId":"A3","type":1}]},
	{"categoryId":2,"name":"DIAMOND","priceCents":2500,"currency":"USD","rows":1,"columns":1,
	 "seats":[{"seatId":"D1","type":3}]}
]}`

type app struct {
	e *echo.Echo
}

func quiet(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(io.Discard)
	return l
}

func newApp(t *testing.T, mockPSP bool) *app {
	t.Helper()
	store := repository.NewMemoryStore()
	seats := seatlock.New(store, nil, quiet("seatlock"), seatlock.Config{HoldTTL: time.Minute})
	coord := booking.NewCoordinator(store, booking.MockGateway{BaseURL: "http://example.test"}, nil, nil, quiet("booking"), booking.Config{})
	cfg := config.Config{JWTSecret: secret, AccessTTLMin: 5, BcryptCost: bcrypt.MinCost}

	e := echo.New()
	e.Validator = handler.NewValidator()
	e.Logger.SetOutput(io.Discard)
	Register(e, Handlers{
		Auth:     handler.NewAuthHandler(cfg, repository.NewMemoryUserStore()),
		Seats:    handler.NewSeatHandler(seats),
		Holds:    handler.NewHoldHandler(seats, queue.Discard{}),
		Payments: handler.NewPaymentHandler(coord, nil),
		Owner:    handler.NewOwnerHandler(seats, coord, nil),
	}, Options{JWTSecret: secret, MockPSP: mockPSP})
	return &app{e: e}
}

func token(t *testing.T, uid uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, uid, role, 5)
	require.NoError(t, err)
	return tok.Token
}

func (a *app) send(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (a *app) seats(t *testing.T, show string) map[string]float64 {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/shows/"+show+"/seats", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		SeatID string  `json:"seatId"`
		Status float64 `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	out := make(map[string]float64, len(list))
	for _, s := range list {
		out[s.SeatID] = s.Status
	}
	return out
}

func TestHoldToBookingFlow(t *testing.T) {
	a := newApp(t, true)
	owner := token(t, 1, "OWNER")
	alice := token(t, 21, "CUSTOMER")
	bob := token(t, 22, "CUSTOMER")

	code, _ := a.send(t, http.MethodPut, "/v1/owner/shows/9/inventory", owner, inventory)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]float64{"A1": 1, "A3": 1, "D1": 1}, a.seats(t, "9"))

	code, hold := a.send(t, http.MethodPost, "/v1/holds", alice, `{"showId":9,"seatIds":["A1","D1"]}`)
	require.Equal(t, http.StatusCreated, code)
	ref := hold["bookingRef"].(string)
	assert.Equal(t, 34.0, hold["totalPrice"])
	assert.Equal(t, map[string]float64{"A1": 0, "A3": 1, "D1": 0}, a.seats(t, "9"))

	code, body := a.send(t, http.MethodPost, "/v1/holds", bob, `{"showId":9,"seatIds":["A3","D1"]}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, []any{"D1"}, body["unavailable"])

	code, _ = a.send(t, http.MethodGet, "/v1/holds/"+ref, bob, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, sess := a.send(t, http.MethodPost, "/v1/payments", alice, `{"bookingRef":"`+ref+`"}`)
	require.Equal(t, http.StatusOK, code)
	u, err := url.Parse(sess["paymentURL"].(string))
	require.NoError(t, err)

	code, page := a.send(t, http.MethodGet, "/mock-psp?"+u.RawQuery, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ref, page["booking_ref"])

	confirm := `{"transaction_id":"` + u.Query().Get("transaction_id") + `","booking_ref":"` + ref + `","status":"succeeded"}`
	code, _ = a.send(t, http.MethodPost, "/mock-psp", "", confirm)
	require.Equal(t, http.StatusOK, code)

	code, b := a.send(t, http.MethodGet, "/v1/bookings/"+ref, alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "CONFIRMED", b["bookingStatus"])

	code, list := a.send(t, http.MethodGet, "/v1/owner/shows/9/bookings", owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, list["count"])

	code, _ = a.send(t, http.MethodPut, "/v1/owner/shows/9/inventory", owner, inventory)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAccessControl(t *testing.T) {
	a := newApp(t, true)
	customer := token(t, 21, "CUSTOMER")
	owner := token(t, 1, "OWNER")

	code, _ := a.send(t, http.MethodPost, "/v1/holds", "", `{"showId":9,"seatIds":["A1"]}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.send(t, http.MethodPost, "/v1/holds", "garbage", `{"showId":9,"seatIds":["A1"]}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.send(t, http.MethodPut, "/v1/owner/shows/9/inventory", customer, inventory)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = a.send(t, http.MethodPost, "/v1/holds", owner, `{"showId":9,"seatIds":["A1"]}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, me := a.send(t, http.MethodGet, "/v1/me", owner, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", me["user_id"])

	code, _ = a.send(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRegisterThenUseToken(t *testing.T) {
	a := newApp(t, true)
	code, out := a.send(t, http.MethodPost, "/v1/auth/register", "", `{"email":"dee@example.com","password":"hunter22"}`)
	require.Equal(t, http.StatusCreated, code)
	tok := out["access"].(map[string]any)["token"].(string)

	code, me := a.send(t, http.MethodGet, "/v1/me", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dee@example.com", me["email"])
	assert.Equal(t, "CUSTOMER", me["role"])
}

func TestMockPSPOnlyWithMockGateway(t *testing.T) {
	a := newApp(t, false)
	code, _ := a.send(t, http.MethodPost, "/mock-psp", "", `{"transaction_id":"x","booking_ref":"y","status":"succeeded"}`)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = a.send(t, http.MethodGet, "/mock-psp?transaction_id=x", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestForgedConfirmationDoesNotBook(t *testing.T) {
	a := newApp(t, true)
	owner := token(t, 1, "OWNER")
	alice := token(t, 21, "CUSTOMER")

	code, _ := a.send(t, http.MethodPut, "/v1/owner/shows/9/inventory", owner, inventory)
	require.Equal(t, http.StatusOK, code)
	code, hold := a.send(t, http.MethodPost, "/v1/holds", alice, `{"showId":9,"seatIds":["A1","D1"]}`)
	require.Equal(t, http.StatusCreated, code)
	ref := hold["bookingRef"].(string)

	// no payment was started for the hold
	forged := `{"transaction_id":"forged-1","booking_ref":"` + ref + `","status":"succeeded"}`
	code, _ = a.send(t, http.MethodPost, "/mock-psp", "", forged)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]float64{"A1": 0, "A3": 1, "D1": 0}, a.seats(t, "9"))

	code, _ = a.send(t, http.MethodGet, "/v1/bookings/"+ref, alice, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, h := a.send(t, http.MethodGet, "/v1/holds/"+ref, alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ACTIVE", h["status"])
}
