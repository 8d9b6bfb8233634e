package model

// Category is a price tier of a show, for example STANDARD or PREMIUM.
// Prices are stored in minor currency units.
type Category struct {
	ID         int    `json:"categoryId"`
	ShowID     uint64 `json:"showId"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

// LayoutCell is one cell of a category grid.  Gap cells carry no seat id.
type LayoutCell struct {
	SeatID string   `json:"seatId,omitempty"`
	Type   SeatType `json:"type"`
}

// LayoutCategory is a rectangular block of seats sharing one category.
// Cells are stored row by row; len(Cells) == Rows*Columns.
type LayoutCategory struct {
	Category
	Rows    int          `json:"rows"`
	Columns int          `json:"columns"`
	Cells   []LayoutCell `json:"seats"`
}

// Layout is the seat map of a show as produced by the screen builder.
type Layout struct {
	ShowID     uint64           `json:"showId"`
	Categories []LayoutCategory `json:"categories"`
}

// Seats flattens the layout into show seats, skipping gaps.
func (l Layout) Seats() []ShowSeat {
	var out []ShowSeat
	for _, cat := range l.Categories {
		for _, cell := range cat.Cells {
			if !cell.Type.IsSeat() || cell.SeatID == "" {
				continue
			}
			out = append(out, ShowSeat{
				ShowID:     l.ShowID,
				SeatID:     cell.SeatID,
				CategoryID: cat.ID,
				SeatType:   cell.Type,
				Status:     SeatAvailable,
			})
		}
	}
	return out
}
