package client

import (
	"errors"
	"slices"
)

// DefaultMaxSeats matches the server's per-hold limit.
const DefaultMaxSeats = 10

var (
	ErrNotASeat        = errors.New("not a seat")
	ErrSeatUnavailable = errors.New("seat is not available")
	ErrSelectionFull   = errors.New("selection is full")
	ErrEmptySelection  = errors.New("no seats selected")
)

// Selection is the set of seats picked locally but not yet locked.  All
// seats belong to one category.
type Selection struct {
	CategoryID int
	SeatIDs    []string
	Max        int
}

func (s *Selection) max() int {
	if s.Max <= 0 {
		return DefaultMaxSeats
	}
	return s.Max
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool { return slices.Contains(s.SeatIDs, id) }

// Len returns the number of selected seats.
func (s *Selection) Len() int { return len(s.SeatIDs) }

// Toggle applies a click on seat.  A selected seat is deselected.  A seat
// from another category clears the selection and starts over in that
// category; cleared reports when that happened.
func (s *Selection) Toggle(seat SeatView) (cleared bool, err error) {
	if seat.State == ViewGap || seat.SeatID == "" {
		return false, ErrNotASeat
	}
	if s.Contains(seat.SeatID) {
		s.Remove(seat.SeatID)
		return false, nil
	}
	if !seat.Selectable() {
		return false, ErrSeatUnavailable
	}
	if len(s.SeatIDs) > 0 && seat.CategoryID != s.CategoryID {
		s.SeatIDs = nil
		cleared = true
	}
	if len(s.SeatIDs) >= s.max() {
		return cleared, ErrSelectionFull
	}
	s.CategoryID = seat.CategoryID
	s.SeatIDs = append(s.SeatIDs, seat.SeatID)
	return cleared, nil
}

// Remove deselects ids.
func (s *Selection) Remove(ids ...string) {
	s.SeatIDs = slices.DeleteFunc(s.SeatIDs, func(id string) bool { return slices.Contains(ids, id) })
	if len(s.SeatIDs) == 0 {
		s.CategoryID = 0
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.SeatIDs = nil
	s.CategoryID = 0
}
