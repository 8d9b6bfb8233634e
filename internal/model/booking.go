package model

import "time"

// BookingStatus is the state of a confirmed booking.  Cancellation and
// refunds are handled outside this service.
type BookingStatus string

const BookingConfirmed BookingStatus = "CONFIRMED"

// Booking is the permanent record created when an ACTIVE hold is paid.
// Its ID is the hold reference so the client keeps one identifier for
// the whole flow.
type Booking struct {
	ID            string        `json:"bookingId"`
	ShowID        uint64        `json:"showId"`
	UserID        string        `json:"userId"`
	SeatIDs       []string      `json:"seatIds"`
	TotalCents    int64         `json:"totalPriceCents"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Status        BookingStatus `json:"bookingStatus"`
	TransactionID string        `json:"transactionId"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
