package model

import "time"

// HoldStatus is the lifecycle state of a hold.
type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"    // seats are HELD for the owner
	HoldExpired   HoldStatus = "EXPIRED"   // TTL passed before payment; seats freed
	HoldReleased  HoldStatus = "RELEASED"  // cancelled or payment failed; seats freed
	HoldConverted HoldStatus = "CONVERTED" // paid; a Booking exists with the same seats
)

// Terminal reports whether no further transition is possible.
func (s HoldStatus) Terminal() bool { return s != HoldActive }

// PaymentStatus tracks the payment attached to a hold or booking.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "NONE"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Hold is a time bounded, exclusive claim on a set of seats of one show
// by one user.  Its seat set never changes after creation; to change the
// selection a client releases the hold and locks again.
//
// Fields:
//  Ref           - opaque booking reference returned to the client.
//  ShowID        - show the seats belong to.
//  UserID        - owner of the hold.
//  SeatIDs       - held seats, immutable.
//  CategoryID    - category the client selected from.
//  TotalCents    - sum of the per-seat category prices.
//  Status        - lifecycle state.
//  PaymentStatus - state of the payment session, if any.
//  PaymentRef    - gateway reference of the payment session.
//  CreatedAt     - when the hold was granted.
//  ExpiresAt     - CreatedAt plus the hold TTL.
//  UpdatedAt     - last transition.
type Hold struct {
	Ref           string
	ShowID        uint64
	UserID        string
	SeatIDs       []string
	CategoryID    int
	TotalCents    int64
	Status        HoldStatus
	PaymentStatus PaymentStatus
	PaymentRef    string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

// ExpiredAt reports whether the hold's TTL has elapsed at now.  A hold
// whose expiry equals now is already expired.
func (h *Hold) ExpiredAt(now time.Time) bool { return !now.Before(h.ExpiresAt) }

// Payable reports whether a payment may still be taken against the hold.
func (h *Hold) Payable(now time.Time) bool {
	return h.Status == HoldActive && !h.ExpiredAt(now)
}

// PendingPayment reports whether transactionID is the payment session
// currently pending on the hold.
func (h *Hold) PendingPayment(transactionID string) bool {
	return h.PaymentStatus == PaymentPending && transactionID != "" && h.PaymentRef == transactionID
}

// Clone returns a deep copy so callers cannot mutate store state.
func (h *Hold) Clone() *Hold {
	if h == nil {
		return nil
	}
	c := *h
	c.SeatIDs = append([]string(nil), h.SeatIDs...)
	return &c
}
