package repository

import (
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// checkHoldable verifies that every requested seat exists and is AVAILABLE.
// Unknown seats win over conflicts because the request itself is invalid.
// The returned seat lists keep the request order.
func checkHoldable(seats map[string]model.ShowSeat, requested []string) error {
	var unknown, taken []string
	for _, id := range requested {
		s, ok := seats[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if s.Status != model.SeatAvailable {
			taken = append(taken, id)
		}
	}
	if len(unknown) > 0 {
		return &UnknownSeatsError{SeatIDs: unknown}
	}
	if len(taken) > 0 {
		return &SeatConflictError{SeatIDs: taken}
	}
	return nil
}

// priceSeats sums the category price of each requested seat.  When the
// hold names a category it must be priced for the show; seats of other
// categories are charged at their own price.
func priceSeats(seats map[string]model.ShowSeat, categories map[int]model.Category, categoryID int, requested []string) (int64, error) {
	if categoryID != 0 {
		if _, ok := categories[categoryID]; !ok {
			return 0, ErrCategoryNotFound
		}
	}
	var total int64
	for _, id := range requested {
		cat, ok := categories[seats[id].CategoryID]
		if !ok {
			return 0, ErrCategoryNotFound
		}
		total += cat.PriceCents
	}
	return total, nil
}
