package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// Errors an APIError matches by status code.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("seats unavailable")
	ErrSessionExpired = errors.New("session expired")
	ErrPaymentFailed  = errors.New("payment declined")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status      int
	Message     string
	Unavailable []string
}

func (e *APIError) Error() string {
	if len(e.Unavailable) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Unavailable, ","))
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusConflict:
		return target == ErrConflict
	case http.StatusGone:
		return target == ErrSessionExpired
	case http.StatusPaymentRequired:
		return target == ErrPaymentFailed
	}
	return false
}

func apiError(status int, body []byte) error {
	e := &APIError{Status: status, Message: gjson.GetBytes(body, "error").String()}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	for _, id := range gjson.GetBytes(body, "unavailable").Array() {
		e.Unavailable = append(e.Unavailable, id.String())
	}
	return e
}

// Hold is the server's view of a seat hold.
type Hold struct {
	BookingRef       string              `json:"bookingRef"`
	ShowID           uint64              `json:"showId"`
	UserID           string              `json:"userId"`
	SeatIDs          []string            `json:"seatIds"`
	Status           model.HoldStatus    `json:"status"`
	PaymentStatus    model.PaymentStatus `json:"paymentStatus"`
	ExpiresAt        time.Time           `json:"expiresAt"`
	RemainingSeconds int64               `json:"remainingSeconds"`
	TotalPrice       float64             `json:"totalPrice"`
	TotalPriceCents  int64               `json:"totalPriceCents"`
	Message          string              `json:"message"`
}

// Booking is a confirmed booking.
type Booking struct {
	model.Booking
	TotalPrice float64 `json:"totalPrice"`
}

// ShowLayout is the seat map of a show with its booking limit.
type ShowLayout struct {
	ShowID          uint64                 `json:"showId"`
	Categories      []model.LayoutCategory `json:"categories"`
	MaxSeatsPerHold int                    `json:"maxSeatsPerHold"`
}

// Layout converts to the model layout used by Reconcile.
func (l ShowLayout) Layout() model.Layout {
	return model.Layout{ShowID: l.ShowID, Categories: l.Categories}
}

// API calls the seat hold HTTP service.
type API struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges credentials for an access token and keeps it for later
// calls.  It returns the user id.
func (a *API) Login(ctx context.Context, email, password string) (uint64, error) {
	var out struct {
		User struct {
			ID uint64 `json:"id"`
		} `json:"user"`
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": password}, &out); err != nil {
		return 0, err
	}
	a.Token = out.Access.Token
	return out.User.ID, nil
}

// Seats returns the availability snapshot of a show.
func (a *API) Seats(ctx context.Context, showID uint64) ([]model.SeatState, error) {
	var out []model.SeatState
	err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v1/shows/%d/seats", showID), nil, &out)
	return out, err
}

// Layout returns the seat map and prices of a show.
func (a *API) Layout(ctx context.Context, showID uint64) (*ShowLayout, error) {
	var out ShowLayout
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v1/shows/%d/layout", showID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lock requests one hold over seatIDs.
func (a *API) Lock(ctx context.Context, showID uint64, categoryID int, seatIDs []string) (*Hold, error) {
	in := map[string]any{"showId": showID, "categoryId": categoryID, "seatIds": seatIDs}
	var out Hold
	if err := a.do(ctx, http.MethodPost, "/v1/holds", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Hold reads a hold.
func (a *API) Hold(ctx context.Context, ref string) (*Hold, error) {
	var out Hold
	if err := a.do(ctx, http.MethodGet, "/v1/holds/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Release frees a hold.  Releasing twice succeeds.
func (a *API) Release(ctx context.Context, ref string) error {
	return a.do(ctx, http.MethodPost, "/v1/holds/release", map[string]string{"bookingRef": ref}, nil)
}

// Abandon asks the server to release a hold in the background.
func (a *API) Abandon(ctx context.Context, ref string) error {
	return a.do(ctx, http.MethodPost, "/v1/holds/"+url.PathEscape(ref)+"/abandon", nil, nil)
}

// Pay starts payment for a hold.
func (a *API) Pay(ctx context.Context, ref, paymentMethodID string) (*booking.PaymentSession, error) {
	in := map[string]string{"bookingRef": ref, "paymentMethodId": paymentMethodID}
	var out booking.PaymentSession
	if err := a.do(ctx, http.MethodPost, "/v1/payments", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmMock plays the mock PSP and reports the payment outcome.
func (a *API) ConfirmMock(ctx context.Context, conf booking.Confirmation) (*Booking, error) {
	var out struct {
		Booking Booking `json:"booking"`
	}
	if err := a.do(ctx, http.MethodPost, "/mock-psp", conf, &out); err != nil {
		return nil, err
	}
	return &out.Booking, nil
}

// Booking reads a confirmed booking.
func (a *API) Booking(ctx context.Context, id string) (*Booking, error) {
	var out Booking
	if err := a.do(ctx, http.MethodGet, "/v1/bookings/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
