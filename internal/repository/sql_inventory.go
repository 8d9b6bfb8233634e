package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// SaveLayout registers the seat map and category prices of a show,
// creating the show row when needed.  Re-registering is refused with
// ErrConflict while any seat of the show is HELD or BOOKED.
func (r *SQLStore) SaveLayout(ctx context.Context, layout model.Layout, now time.Time) error {
	raw, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	var expired []model.Hold
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO shows (id, layout, created_at, updated_at) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE id = id`,
			layout.ShowID, raw, now, now); err != nil {
			return err
		}
		if err := lockShowTx(ctx, tx, layout.ShowID); err != nil {
			return err
		}
		if expired, err = expireShowTx(ctx, tx, layout.ShowID, now); err != nil {
			return err
		}
		var taken int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM show_seats WHERE show_id = ? AND status <> ?`,
			layout.ShowID, model.SeatAvailable).Scan(&taken); err != nil {
			return err
		}
		if taken > 0 {
			return ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `UPDATE shows SET layout = ?, updated_at = ? WHERE id = ?`, raw, now, layout.ShowID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM show_categories WHERE show_id = ?`, layout.ShowID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM show_seats WHERE show_id = ?`, layout.ShowID); err != nil {
			return err
		}
		if len(layout.Categories) > 0 {
			query := `INSERT INTO show_categories (show_id, category_id, name, price_cents, currency) VALUES `
			args := make([]any, 0, len(layout.Categories)*5)
			for i, c := range layout.Categories {
				if i > 0 {
					query += ","
				}
				query += "(?, ?, ?, ?, ?)"
				args = append(args, layout.ShowID, c.ID, c.Name, c.PriceCents, c.Currency)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		seats := layout.Seats()
		if len(seats) == 0 {
			return nil
		}
		query := `INSERT INTO show_seats (show_id, seat_id, position, category_id, seat_type, status, updated_at) VALUES `
		args := make([]any, 0, len(seats)*7)
		for i, s := range seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, layout.ShowID, s.SeatID, i, s.CategoryID, s.SeatType, s.Status, now)
		}
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return err
	}
	r.fireExpired(ctx, expired)
	return nil
}

// Layout returns the stored seat map of a show.
func (r *SQLStore) Layout(ctx context.Context, showID uint64) (*model.Layout, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT layout FROM shows WHERE id = ?`, showID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	var l model.Layout
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	l.ShowID = showID
	return &l, nil
}

// Categories returns the priced categories of a show ordered by id.
func (r *SQLStore) Categories(ctx context.Context, showID uint64) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category_id, name, price_cents, currency FROM show_categories WHERE show_id = ? ORDER BY category_id`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Category
	for rows.Next() {
		c := model.Category{ShowID: showID}
		if err := rows.Scan(&c.ID, &c.Name, &c.PriceCents, &c.Currency); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SeatsForShow returns every seat of the show in layout order without
// taking the show lock.  A seat whose hold is past its expiry is reported
// AVAILABLE; the row itself is corrected by the next locked operation or
// the expiry sweep.
func (r *SQLStore) SeatsForShow(ctx context.Context, showID uint64, now time.Time) ([]model.ShowSeat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.seat_id, s.category_id, s.seat_type, s.status, COALESCE(s.hold_ref, ''), s.updated_at, h.expires_at FROM show_seats s LEFT JOIN holds h ON h.ref = s.hold_ref WHERE s.show_id = ? ORDER BY s.position`,
		showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ShowSeat
	for rows.Next() {
		s := model.ShowSeat{ShowID: showID}
		var expiresAt sql.NullTime
		if err := rows.Scan(&s.SeatID, &s.CategoryID, &s.SeatType, &s.Status, &s.HoldRef, &s.UpdatedAt, &expiresAt); err != nil {
			return nil, err
		}
		if s.Status == model.SeatHeld && expiresAt.Valid && !now.Before(expiresAt.Time) {
			s.Status = model.SeatAvailable
			s.HoldRef = ""
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrShowNotFound
	}
	return out, nil
}

// seatsByID reads the requested seats of a show keyed by seat id.  Seats
// that do not exist are simply absent from the map.
func seatsByID(ctx context.Context, q queryer, showID uint64, seatIDs []string) (map[string]model.ShowSeat, error) {
	out := make(map[string]model.ShowSeat, len(seatIDs))
	if len(seatIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(seatIDs)+1)
	args = append(args, showID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT seat_id, category_id, seat_type, status, COALESCE(hold_ref, '') FROM show_seats WHERE show_id = ? AND seat_id IN (`+placeholders(len(seatIDs))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s := model.ShowSeat{ShowID: showID}
		if err := rows.Scan(&s.SeatID, &s.CategoryID, &s.SeatType, &s.Status, &s.HoldRef); err != nil {
			return nil, err
		}
		out[s.SeatID] = s
	}
	return out, rows.Err()
}

func categoriesOf(ctx context.Context, q queryer, showID uint64) (map[int]model.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT category_id, name, price_cents, currency FROM show_categories WHERE show_id = ?`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int]model.Category)
	for rows.Next() {
		c := model.Category{ShowID: showID}
		if err := rows.Scan(&c.ID, &c.Name, &c.PriceCents, &c.Currency); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}
