// Package client is the end-user side of the seat hold flow: it talks to
// the HTTP API, keeps the local seat selection and reconciles it with the
// server's availability snapshots while the seat map is open.
package client

import (
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// ViewState is how a seat is drawn on the seat map.
type ViewState string

const (
	ViewAvailable ViewState = "available"
	ViewHeld      ViewState = "held"
	ViewBooked    ViewState = "booked"
	ViewSelected  ViewState = "selected"
	ViewGap       ViewState = "gap"
)

// SeatView is one cell of the rendered seat map.
type SeatView struct {
	SeatID     string
	CategoryID int
	Type       model.SeatType
	State      ViewState
	PriceCents int64
}

// Selectable reports whether a click may add the seat to a selection.
func (s SeatView) Selectable() bool { return s.State == ViewAvailable || s.State == ViewSelected }

// CategoryView is one category grid, row by row.
type CategoryView struct {
	Category model.Category
	Rows     int
	Columns  int
	Cells    []SeatView
}

// ViewModel is the seat map after merging server state with the local
// selection.
type ViewModel struct {
	ShowID     uint64
	Categories []CategoryView
	Selected   []string
	CategoryID int
	TotalCents int64
}

// Seat finds a seat by id.
func (v ViewModel) Seat(id string) (SeatView, bool) {
	for _, c := range v.Categories {
		for _, cell := range c.Cells {
			if cell.SeatID == id && cell.State != ViewGap {
				return cell, true
			}
		}
	}
	return SeatView{}, false
}

// Reconcile merges a server snapshot with the pending local selection.
// Selected seats that the snapshot no longer reports as available, or that
// vanished from the show, are returned in dropped and left out of the
// view's selection and total.  Reconcile has no side effects.
func Reconcile(snapshot []model.SeatState, layout model.Layout, sel Selection) (ViewModel, []string) {
	states := make(map[string]ViewState, len(snapshot))
	for _, s := range snapshot {
		states[s.SeatID] = stateOf(s)
	}
	picked := make(map[string]bool, len(sel.SeatIDs))
	for _, id := range sel.SeatIDs {
		picked[id] = true
	}

	vm := ViewModel{ShowID: layout.ShowID, CategoryID: sel.CategoryID}
	kept := make(map[string]bool, len(sel.SeatIDs))
	for _, cat := range layout.Categories {
		cv := CategoryView{Category: cat.Category, Rows: cat.Rows, Columns: cat.Columns, Cells: make([]SeatView, 0, len(cat.Cells))}
		for _, cell := range cat.Cells {
			sv := SeatView{SeatID: cell.SeatID, CategoryID: cat.ID, Type: cell.Type, PriceCents: cat.PriceCents}
			if !cell.Type.IsSeat() || cell.SeatID == "" {
				sv.State = ViewGap
				cv.Cells = append(cv.Cells, sv)
				continue
			}
			st, known := states[cell.SeatID]
			switch {
			case !known:
				sv.State = ViewBooked
			case st == ViewAvailable && picked[cell.SeatID]:
				sv.State = ViewSelected
				kept[cell.SeatID] = true
				vm.TotalCents += cat.PriceCents
			default:
				sv.State = st
			}
			cv.Cells = append(cv.Cells, sv)
		}
		vm.Categories = append(vm.Categories, cv)
	}

	var dropped []string
	for _, id := range sel.SeatIDs {
		if kept[id] {
			vm.Selected = append(vm.Selected, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	if len(vm.Selected) == 0 {
		vm.CategoryID = 0
	}
	return vm, dropped
}

// stateOf prefers the explicit state and falls back to the legacy code,
// where 1 is available and 0 is taken.
func stateOf(s model.SeatState) ViewState {
	switch s.State {
	case model.SeatAvailable:
		return ViewAvailable
	case model.SeatHeld:
		return ViewHeld
	case model.SeatBooked:
		return ViewBooked
	}
	if s.Status == 1 {
		return ViewAvailable
	}
	return ViewBooked
}
