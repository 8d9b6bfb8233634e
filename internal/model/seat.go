package model

import "time"

// SeatStatus is the availability of one seat for one show.  It is the
// explicit enumeration used at the service boundary; the legacy integer
// code sent to older clients is derived from it by Code.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE" // free to be held
	SeatHeld      SeatStatus = "HELD"      // owned by exactly one ACTIVE hold
	SeatBooked    SeatStatus = "BOOKED"    // sold, terminal
)

// Code returns the legacy wire code: 1 for an available seat and 0 for a
// seat that cannot be selected (held or booked).
func (s SeatStatus) Code() int {
	if s == SeatAvailable {
		return 1
	}
	return 0
}

// SeatType mirrors the seat type codes produced by the screen layout
// builder.  Gaps only exist in layouts and are never stored as seats.
type SeatType int

const (
	SeatTypeGap      SeatType = 0
	SeatTypeStandard SeatType = 1
	SeatTypePremium  SeatType = 2
	SeatTypeDiamond  SeatType = 3
)

// IsSeat reports whether the layout cell is a bookable seat.
func (t SeatType) IsSeat() bool { return t >= SeatTypeStandard && t <= SeatTypeDiamond }

// ShowSeat is a seat scoped to a single show.  The same physical seat in
// another show time is a different ShowSeat.
//
// Fields:
//  ShowID     - show the seat belongs to.
//  SeatID     - layout seat identifier such as "A1".
//  CategoryID - price tier of the seat.
//  SeatType   - layout seat type (standard, premium, diamond).
//  Status     - current availability.
//  HoldRef    - reference of the ACTIVE hold while the seat is HELD.
//  UpdatedAt  - last status change.
type ShowSeat struct {
	ShowID     uint64     // show_seats.show_id
	SeatID     string     // show_seats.seat_id
	CategoryID int        // show_seats.category_id
	SeatType   SeatType   // show_seats.seat_type
	Status     SeatStatus // show_seats.status
	HoldRef    string     // show_seats.hold_ref (empty unless HELD)
	UpdatedAt  time.Time  // show_seats.updated_at
}

// SeatState is the read projection returned by availability queries.
type SeatState struct {
	SeatID     string     `json:"seatId"`
	Status     int        `json:"status"`
	State      SeatStatus `json:"state"`
	CategoryID int        `json:"categoryId"`
}

// StateOf builds the read projection of a show seat.
func StateOf(s ShowSeat) SeatState {
	return SeatState{SeatID: s.SeatID, Status: s.Status.Code(), State: s.Status, CategoryID: s.CategoryID}
}
