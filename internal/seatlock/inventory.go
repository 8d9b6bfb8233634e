package seatlock

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// RegisterLayout stores the seat map and prices of a show.  The layout is
// produced by the screen builder owned by another system; it is validated
// here because every later lock relies on it.
func (s *Service) RegisterLayout(ctx context.Context, layout model.Layout) error {
	if err := validateLayout(layout); err != nil {
		return err
	}
	for i := range layout.Categories {
		layout.Categories[i].ShowID = layout.ShowID
		layout.Categories[i].Currency = strings.ToLower(layout.Categories[i].Currency)
	}
	if err := s.store.SaveLayout(ctx, layout, s.cfg.Now()); err != nil {
		return err
	}
	s.log.Infof("layout registered: show=%d categories=%d seats=%d", layout.ShowID, len(layout.Categories), len(layout.Seats()))
	return nil
}

func validateLayout(l model.Layout) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", repository.ErrInvalidRequest, fmt.Sprintf(format, args...))
	}
	if l.ShowID == 0 {
		return invalid("show id is required")
	}
	if len(l.Categories) == 0 {
		return invalid("at least one category is required")
	}
	cats := make(map[int]struct{}, len(l.Categories))
	seats := make(map[string]struct{})
	for _, c := range l.Categories {
		if c.ID <= 0 {
			return invalid("category id must be positive")
		}
		if _, dup := cats[c.ID]; dup {
			return invalid("duplicate category %d", c.ID)
		}
		cats[c.ID] = struct{}{}
		if c.PriceCents < 0 {
			return invalid("category %d has a negative price", c.ID)
		}
		if c.Rows <= 0 || c.Columns <= 0 || len(c.Cells) != c.Rows*c.Columns {
			return invalid("category %d grid must have rows*columns cells", c.ID)
		}
		for _, cell := range c.Cells {
			if cell.Type == model.SeatTypeGap {
				continue
			}
			if !cell.Type.IsSeat() {
				return invalid("unknown seat type %d", cell.Type)
			}
			if cell.SeatID == "" {
				return invalid("seat without id in category %d", c.ID)
			}
			if _, dup := seats[cell.SeatID]; dup {
				return invalid("duplicate seat %s", cell.SeatID)
			}
			seats[cell.SeatID] = struct{}{}
		}
	}
	if len(seats) == 0 {
		return invalid("layout has no seats")
	}
	return nil
}
