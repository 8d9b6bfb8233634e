// Package repository defines the persistence layer and the error values
// that are reused across repositories and services.  These sentinel values
// allow higher layers such as handlers to distinguish between different
// failure scenarios.  For example, ErrForbidden indicates that the current
// user is not allowed to act on a hold owned by someone else, while a
// SeatConflictError signals that some requested seats are no longer
// available.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is the category of every seat conflict.  SeatConflictError
// matches it with errors.Is so callers that do not care about the seat
// list can still test for it.
var ErrConflict = errors.New("conflict")

// ErrShowNotFound indicates that no seats are registered for the show.
var ErrShowNotFound = errors.New("show not found")

// ErrHoldNotFound indicates that the booking reference is unknown.
var ErrHoldNotFound = errors.New("hold not found")

// ErrBookingNotFound indicates that no booking exists for the id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrHoldExpired is returned when an operation needs an ACTIVE hold but the
// hold has expired or was released.  Clients must restart seat selection.
var ErrHoldExpired = errors.New("session expired")

// ErrPaymentMismatch is returned when a payment confirmation does not
// belong to the hold's pending payment session.
var ErrPaymentMismatch = errors.New("payment does not match the hold's payment session")

// ErrCategoryNotFound is returned when a lock names a category that the
// show does not price.
var ErrCategoryNotFound = errors.New("category not found")

// ErrUserExists is returned on registration with a taken email.
var ErrUserExists = errors.New("user already exists")

// ErrUserNotFound is returned when a login email is unknown.
var ErrUserNotFound = errors.New("user not found")

// SeatConflictError lists the seats that were not available when a lock
// was attempted.  No seat changed state.
type SeatConflictError struct {
	SeatIDs []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.SeatIDs, ","))
}

// Is makes errors.Is(err, ErrConflict) true for seat conflicts.
func (e *SeatConflictError) Is(target error) bool { return target == ErrConflict }

// UnknownSeatsError lists seat ids that do not exist for the show.
type UnknownSeatsError struct {
	SeatIDs []string
}

func (e *UnknownSeatsError) Error() string {
	return fmt.Sprintf("unknown seats: %s", strings.Join(e.SeatIDs, ","))
}

// ErrInvalidRequest is returned for malformed input such as an empty seat
// list or a missing user.
var ErrInvalidRequest = errors.New("invalid request")

// ErrTooManySeats is returned when a lock names more seats than allowed.
var ErrTooManySeats = errors.New("too many seats")

// ErrPaymentDeclined is returned when the gateway refuses a payment or a
// confirmation reports failure.
var ErrPaymentDeclined = errors.New("payment declined")
