// Package booking takes payment for ACTIVE holds and converts them into
// bookings.  Confirmations arrive from outside (the mock PSP or Stripe
// webhooks) and are validated against the hold before anything changes.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// Confirmation statuses accepted from a PSP.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// PaymentRequest starts payment for a hold.
type PaymentRequest struct {
	BookingRef      string
	UserID          string
	PaymentMethodID string
}

// PaymentSession is returned to the client to complete the payment.
type PaymentSession struct {
	BookingID    string    `json:"bookingID"`
	PaymentURL   string    `json:"paymentURL,omitempty"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	Message      string    `json:"message"`
	AmountCents  int64     `json:"amountCents"`
	Currency     string    `json:"currency"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Confirmation is an untrusted payment outcome reported by a PSP.
type Confirmation struct {
	TransactionID string `json:"transaction_id"`
	BookingRef    string `json:"booking_ref"`
	Status        string `json:"status"`
}

// Config tunes the coordinator.
type Config struct {
	Currency string
	Now      func() time.Time
}

// Coordinator drives the payment half of the hold lifecycle.
type Coordinator struct {
	store    repository.Store
	gateway  Gateway
	dedupe   Deduper
	pub      queue.Publisher
	log      *log.Logger
	currency string
	now      func() time.Time
}

// NewCoordinator builds a Coordinator.  A nil deduper falls back to an
// in-process one and a nil publisher discards events.
func NewCoordinator(store repository.Store, gateway Gateway, dedupe Deduper, pub queue.Publisher, logger *log.Logger, cfg Config) *Coordinator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper(time.Hour)
	}
	if pub == nil {
		pub = queue.Discard{}
	}
	if logger == nil {
		logger = log.New("booking")
	}
	return &Coordinator{
		store:    store,
		gateway:  gateway,
		dedupe:   dedupe,
		pub:      pub,
		log:      logger,
		currency: strings.ToLower(cfg.Currency),
		now:      cfg.Now,
	}
}

// InitiatePayment opens a payment session for a payable hold owned by the
// caller.  A gateway decline leaves the hold ACTIVE so the user may retry
// before it expires.
func (c *Coordinator) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if req.BookingRef == "" || req.UserID == "" {
		return nil, repository.ErrInvalidRequest
	}
	now := c.now()
	h, err := c.store.GetHold(ctx, req.BookingRef, now)
	if err != nil {
		return nil, err
	}
	if h.UserID != req.UserID {
		return nil, repository.ErrForbidden
	}
	if h.Status == model.HoldConverted {
		return &PaymentSession{BookingID: h.Ref, Message: "already confirmed", AmountCents: h.TotalCents, Currency: c.currency}, nil
	}
	if !h.Payable(now) {
		return nil, repository.ErrHoldExpired
	}

	intent, err := c.gateway.CreatePayment(ctx, ChargeRequest{
		BookingRef:      h.Ref,
		UserID:          h.UserID,
		AmountCents:     h.TotalCents,
		Currency:        c.currency,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrPaymentDeclined) {
			c.log.Infof("payment for %s declined: %v", h.Ref, err)
			return nil, err
		}
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	h, err = c.store.MarkPaymentPending(ctx, h.Ref, intent.ID, c.now())
	if err != nil {
		return nil, err
	}
	c.log.Infof("payment %s started for hold %s (%d %s)", intent.ID, h.Ref, h.TotalCents, c.currency)
	return &PaymentSession{
		BookingID:    h.Ref,
		PaymentURL:   intent.PaymentURL,
		ClientSecret: intent.ClientSecret,
		Message:      "payment initiated",
		AmountCents:  h.TotalCents,
		Currency:     c.currency,
		ExpiresAt:    h.ExpiresAt,
	}, nil
}

// ConfirmPayment applies a PSP confirmation.  Only the hold's pending
// payment session can settle it: a success for that transaction converts
// an ACTIVE, unexpired hold into a booking and its failure releases the
// hold.  A success that cannot be applied (hold no longer payable, or a
// transaction other than the pending one) is reported as orphaned so it
// can be refunded; a failure for another transaction is ignored with
// ErrPaymentMismatch.  Redelivery of the same transaction id is
// answered from the current state without side effects.
func (c *Coordinator) ConfirmPayment(ctx context.Context, conf Confirmation) (*model.Booking, error) {
	conf.Status = strings.ToLower(strings.TrimSpace(conf.Status))
	if conf.TransactionID == "" || conf.BookingRef == "" {
		return nil, repository.ErrInvalidRequest
	}
	if conf.Status != StatusSucceeded && conf.Status != StatusFailed {
		return nil, fmt.Errorf("%w: unknown status %q", repository.ErrInvalidRequest, conf.Status)
	}

	first, err := c.dedupe.Claim(ctx, conf.TransactionID)
	if err != nil {
		c.log.Warnf("dedupe unavailable for %s: %v", conf.TransactionID, err)
		first = true
	}
	if !first {
		if b, done, err := c.replay(ctx, conf); done {
			return b, err
		}
	}

	if conf.Status == StatusFailed {
		h, changed, err := c.store.FailHold(ctx, conf.BookingRef, conf.TransactionID, c.now())
		if errors.Is(err, repository.ErrPaymentMismatch) {
			// an older or unknown payment; the pending one still decides
			c.log.Warnf("ignoring failed payment %s for %s: not the pending payment", conf.TransactionID, conf.BookingRef)
			return nil, err
		}
		if err != nil {
			c.unclaim(ctx, conf.TransactionID)
			return nil, err
		}
		if changed {
			c.log.Infof("payment %s failed; hold %s released", conf.TransactionID, h.Ref)
			c.publish(ctx, queue.KeyHoldReleased, holdEvent(*h, c.now()))
		}
		if h.Status == model.HoldConverted {
			b, err := c.store.GetBooking(ctx, h.Ref)
			return b, err
		}
		return nil, repository.ErrPaymentDeclined
	}

	b, created, err := c.store.ConvertHold(ctx, conf.BookingRef, conf.TransactionID, c.now())
	if errors.Is(err, repository.ErrHoldExpired) || errors.Is(err, repository.ErrPaymentMismatch) {
		c.orphaned(ctx, conf)
		return nil, err
	}
	if err != nil {
		c.unclaim(ctx, conf.TransactionID)
		return nil, err
	}
	if !created {
		if b.TransactionID != conf.TransactionID {
			// a second payment for a booking that is already paid
			c.orphaned(ctx, conf)
		}
		return b, nil
	}
	c.log.Infof("booking %s confirmed: show=%d user=%s seats=%v transaction=%s",
		b.ID, b.ShowID, b.UserID, b.SeatIDs, b.TransactionID)
	c.publish(ctx, queue.KeyBookingConfirmed, queue.BookingConfirmedEvent{
		BookingID:        b.ID,
		UserID:           b.UserID,
		ShowID:           b.ShowID,
		SeatLabels:       b.SeatIDs,
		TotalAmountCents: b.TotalCents,
		TransactionID:    b.TransactionID,
		ConfirmedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
	})
	return b, nil
}

// replay answers a duplicate delivery.  done=false means the first
// delivery has not settled the hold and this one should be processed.
func (c *Coordinator) replay(ctx context.Context, conf Confirmation) (*model.Booking, bool, error) {
	h, err := c.store.GetHold(ctx, conf.BookingRef, c.now())
	if err != nil {
		return nil, true, err
	}
	switch h.Status {
	case model.HoldConverted:
		b, err := c.store.GetBooking(ctx, h.Ref)
		return b, true, err
	case model.HoldActive:
		return nil, false, nil
	}
	if conf.Status == StatusFailed {
		return nil, true, repository.ErrPaymentDeclined
	}
	return nil, true, repository.ErrHoldExpired
}

func (c *Coordinator) orphaned(ctx context.Context, conf Confirmation) {
	status := "UNKNOWN"
	if h, err := c.store.GetHold(ctx, conf.BookingRef, c.now()); err == nil {
		status = string(h.Status)
	}
	c.log.Warnf("payment %s for %s arrived with hold %s; flagged for refund", conf.TransactionID, conf.BookingRef, status)
	c.publish(ctx, queue.KeyPaymentOrphaned, queue.PaymentOrphanedEvent{
		BookingRef:    conf.BookingRef,
		TransactionID: conf.TransactionID,
		HoldStatus:    status,
		ReceivedAt:    c.now().UTC().Format(time.RFC3339),
	})
}

func (c *Coordinator) unclaim(ctx context.Context, txID string) {
	if err := c.dedupe.Forget(ctx, txID); err != nil {
		c.log.Warnf("dedupe forget %s: %v", txID, err)
	}
}

// GetBooking returns a booking owned by userID.  An empty userID skips the
// ownership check.
func (c *Coordinator) GetBooking(ctx context.Context, id, userID string) (*model.Booking, error) {
	b, err := c.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && b.UserID != userID {
		return nil, repository.ErrForbidden
	}
	return b, nil
}

// ListBookingsForShow returns every booking of a show, newest first.
func (c *Coordinator) ListBookingsForShow(ctx context.Context, showID uint64) ([]model.Booking, error) {
	return c.store.BookingsForShow(ctx, showID)
}

func (c *Coordinator) publish(ctx context.Context, key string, event any) {
	if err := c.pub.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		c.log.Debugf("publish %s: %v", key, err)
	}
}

func holdEvent(h model.Hold, now time.Time) queue.HoldEvent {
	return queue.HoldEvent{
		BookingRef: h.Ref,
		ShowID:     h.ShowID,
		UserID:     h.UserID,
		SeatIDs:    h.SeatIDs,
		Status:     string(h.Status),
		ExpiresAt:  h.ExpiresAt.UTC().Format(time.RFC3339),
		OccurredAt: now.UTC().Format(time.RFC3339),
	}
}
