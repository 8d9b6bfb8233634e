// Package queue defines message payloads exchanged over the message broker.
package queue

// Exchange is the topic exchange every domain event is published to.
const Exchange = "seatlock.events"

// Routing keys.
const (
	KeyHoldCreated      = "hold.created"
	KeyHoldReleased     = "hold.released"
	KeyHoldExpired      = "hold.expired"
	KeyReleaseRequested = "hold.release_requested"
	KeyBookingConfirmed = "booking.confirmed"
	KeyPaymentOrphaned  = "payment.orphaned"
)

// HoldEvent is published for every hold state change.
type HoldEvent struct {
	BookingRef string   `json:"booking_ref"`
	ShowID     uint64   `json:"show_id"`
	UserID     string   `json:"user_id"`
	SeatIDs    []string `json:"seats"`
	Status     string   `json:"status"`
	ExpiresAt  string   `json:"expires_at"`
	OccurredAt string   `json:"occurred_at"`
}

// BookingConfirmedEvent is published when a hold is converted into a booking.
// It contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        string   `json:"booking_id"`
	UserID           string   `json:"user_id"`
	ShowID           uint64   `json:"show_id"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents int64    `json:"total_amount_cents"`
	TransactionID    string   `json:"transaction_id"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// ReleaseRequest asks the release worker to free a hold on behalf of a
// client that is leaving the flow and will not wait for the answer.
type ReleaseRequest struct {
	BookingRef  string `json:"booking_ref"`
	UserID      string `json:"user_id"`
	RequestedAt string `json:"requested_at"`
}

// PaymentOrphanedEvent reports a successful payment that arrived after its
// hold was no longer payable.  Downstream consumers refund it.
type PaymentOrphanedEvent struct {
	BookingRef    string `json:"booking_ref"`
	TransactionID string `json:"transaction_id"`
	HoldStatus    string `json:"hold_status"`
	ReceivedAt    string `json:"received_at"`
}
