package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// maxWebhookBytes bounds the body read from a PSP webhook.
const maxWebhookBytes = 64 << 10

// WebhookParser verifies a PSP webhook and extracts its confirmation.  A
// nil confirmation means the event is irrelevant.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*booking.Confirmation, error)
}

// PaymentHandler exposes payment initiation, PSP confirmations and
// booking details.
type PaymentHandler struct {
	Bookings *booking.Coordinator
	Webhooks WebhookParser
}

func NewPaymentHandler(coord *booking.Coordinator, webhooks WebhookParser) *PaymentHandler {
	return &PaymentHandler{Bookings: coord, Webhooks: webhooks}
}

type paymentReq struct {
	BookingRef      string `json:"bookingRef" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId"`
}

type bookingResp struct {
	model.Booking
	TotalPrice float64 `json:"totalPrice"`
}

func toBookingResp(b *model.Booking) bookingResp {
	return bookingResp{Booking: *b, TotalPrice: majorUnits(b.TotalCents)}
}

// Pay handles POST /v1/payments.  It is only accepted while the hold is
// ACTIVE and unexpired; otherwise the answer is 410 "session expired".
func (h *PaymentHandler) Pay(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req paymentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	sess, err := h.Bookings.InitiatePayment(c.Request().Context(), booking.PaymentRequest{
		BookingRef:      req.BookingRef,
		UserID:          uid,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// MockPSPPage handles GET /mock-psp, the payment URL handed out by the mock
// gateway.  It echoes what must be posted back to complete the payment.
func (h *PaymentHandler) MockPSPPage(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"transaction_id": c.QueryParam("transaction_id"),
		"booking_ref":    c.QueryParam("booking_ref"),
		"confirm":        "POST /mock-psp with status succeeded or failed",
	})
}

// MockPSP handles POST /mock-psp: a simulated PSP confirmation
// {transaction_id, booking_ref, status}.
func (h *PaymentHandler) MockPSP(c echo.Context) error {
	var conf booking.Confirmation
	if err := c.Bind(&conf); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.Bookings.ConfirmPayment(c.Request().Context(), conf)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "booking confirmed",
		"booking": toBookingResp(b),
	})
}

// StripeWebhook handles POST /v1/webhooks/stripe.  Outcomes the PSP cannot
// fix by retrying (late or declined payments) are acknowledged with 200.
func (h *PaymentHandler) StripeWebhook(c echo.Context) error {
	if h.Webhooks == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhooks not configured"})
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "read body failed"})
	}
	conf, err := h.Webhooks.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if conf == nil {
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}
	_, err = h.Bookings.ConfirmPayment(c.Request().Context(), *conf)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": "confirmed"})
	case errors.Is(err, repository.ErrHoldExpired),
		errors.Is(err, repository.ErrPaymentDeclined),
		errors.Is(err, repository.ErrPaymentMismatch),
		errors.Is(err, repository.ErrHoldNotFound):
		c.Logger().Warnf("stripe %s for %s: %v", conf.TransactionID, conf.BookingRef, err)
		return c.JSON(http.StatusOK, echo.Map{"received": true, "status": err.Error()})
	}
	return errorResponse(c, err)
}

// GetBooking handles GET /v1/bookings/:id for the booking owner.
func (h *PaymentHandler) GetBooking(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.Bookings.GetBooking(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResp(b))
}
