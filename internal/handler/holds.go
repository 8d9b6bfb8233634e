package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
)

// HoldHandler exposes seat locking and release to customers.
type HoldHandler struct {
	Seats *seatlock.Service
	// Releases receives abandon requests.  When nil or failing, the
	// release runs in a background goroutine instead.
	Releases queue.Publisher
}

func NewHoldHandler(seats *seatlock.Service, releases queue.Publisher) *HoldHandler {
	return &HoldHandler{Seats: seats, Releases: releases}
}

type lockReq struct {
	ShowID     uint64   `json:"showId" validate:"required"`
	CategoryID int      `json:"categoryId" validate:"gte=0"`
	SeatIDs    []string `json:"seatIds" validate:"required,min=1,dive,seatid"`
}

type releaseReq struct {
	BookingRef string   `json:"bookingRef"`
	ShowID     uint64   `json:"showId" validate:"required_without=BookingRef"`
	SeatIDs    []string `json:"seatIds" validate:"dive,seatid"`
}

type holdResp struct {
	Success          bool                `json:"success"`
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
	Message          string              `json:"message,omitempty"`
}

func toHoldResp(h *model.Hold, now time.Time) holdResp {
	remaining := int64(0)
	if h.Status == model.HoldActive && now.Before(h.ExpiresAt) {
		remaining = int64(h.ExpiresAt.Sub(now).Seconds())
	}
	return holdResp{
		Success:          true,
		BookingRef:       h.Ref,
		ShowID:           h.ShowID,
		UserID:           h.UserID,
		SeatIDs:          h.SeatIDs,
		Status:           h.Status,
		PaymentStatus:    h.PaymentStatus,
		ExpiresAt:        h.ExpiresAt,
		RemainingSeconds: remaining,
		TotalPrice:       majorUnits(h.TotalCents),
		TotalPriceCents:  h.TotalCents,
	}
}

// Lock handles POST /v1/holds.  All requested seats are held together or
// the request fails with 409 listing the unavailable seats.
func (h *HoldHandler) Lock(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req lockReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	hold, err := h.Seats.LockSeats(c.Request().Context(), seatlock.LockRequest{
		ShowID:     req.ShowID,
		UserID:     uid,
		CategoryID: req.CategoryID,
		SeatIDs:    req.SeatIDs,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	resp := toHoldResp(hold, h.Seats.Now())
	resp.Message = "seats locked"
	return c.JSON(http.StatusCreated, resp)
}

// Get handles GET /v1/holds/:ref, the source of the client countdown.
func (h *HoldHandler) Get(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	hold, err := h.Seats.GetHold(c.Request().Context(), c.Param("ref"), uid)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toHoldResp(hold, h.Seats.Now()))
}

// Release handles POST /v1/holds/release.  Releasing something that is no
// longer held still answers reply=true.
func (h *HoldHandler) Release(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req releaseReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	res, err := h.Seats.ReleaseSeats(c.Request().Context(), seatlock.ReleaseRequest{
		BookingRef: req.BookingRef,
		ShowID:     req.ShowID,
		UserID:     uid,
		SeatIDs:    req.SeatIDs,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	refs := make([]string, 0, len(res.Released))
	for _, r := range res.Released {
		refs = append(refs, r.Ref)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reply":    true,
		"message":  res.Message,
		"released": refs,
	})
}

// Abandon handles POST /v1/holds/:ref/abandon, sent when a client leaves
// the flow.  It answers 202 at once and releases asynchronously.
func (h *HoldHandler) Abandon(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ref := c.Param("ref")
	if ref == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "booking reference required"})
	}
	ctx := c.Request().Context()
	req := queue.ReleaseRequest{
		BookingRef:  ref,
		UserID:      uid,
		RequestedAt: h.Seats.Now().UTC().Format(time.RFC3339),
	}
	if h.Releases == nil || h.Releases.Publish(ctx, queue.KeyReleaseRequested, req) != nil {
		go h.releaseLater(ref, uid, c.Logger())
	}
	return c.JSON(http.StatusAccepted, echo.Map{"accepted": true, "bookingRef": ref})
}

func (h *HoldHandler) releaseLater(ref, uid string, logger echo.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Seats.ReleaseByRef(ctx, ref, uid); err != nil {
		logger.Warnf("abandon %s: %v", ref, err)
	}
}
