package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

const bookingColumns = `SELECT id, show_id, user_id, total_cents, payment_status, booking_status, transaction_id, created_at, updated_at FROM bookings `

// insertBookingTx writes the booking and its seats.  The unique
// (show_id, seat_id) key on booking_seats makes a double sale fail the
// transaction.
func insertBookingTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (id, show_id, user_id, total_cents, payment_status, booking_status, transaction_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ShowID, b.UserID, b.TotalCents, b.PaymentStatus, b.Status, b.TransactionID, b.CreatedAt, b.UpdatedAt); err != nil {
		return err
	}
	query := `INSERT INTO booking_seats (booking_id, show_id, seat_id, position) VALUES `
	args := make([]any, 0, len(b.SeatIDs)*4)
	for i, id := range b.SeatIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, b.ID, b.ShowID, id, i)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func scanBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.ShowID, &b.UserID, &b.TotalCents, &b.PaymentStatus, &b.Status,
			&b.TransactionID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func bookingSeats(ctx context.Context, q queryer, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT seat_id FROM booking_seats WHERE booking_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func getBooking(ctx context.Context, q queryer, id string) (*model.Booking, error) {
	rows, err := q.QueryContext(ctx, bookingColumns+`WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanBookings(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrBookingNotFound
	}
	b := list[0]
	if b.SeatIDs, err = bookingSeats(ctx, q, b.ID); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBooking returns a booking by id.
func (r *SQLStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return getBooking(ctx, r.db, id)
}

// BookingsForShow lists the bookings of a show, newest first.  An unknown
// show yields ErrShowNotFound.
func (r *SQLStore) BookingsForShow(ctx context.Context, showID uint64) ([]model.Booking, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM shows WHERE id = ?`, showID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, bookingColumns+`WHERE show_id = ? ORDER BY created_at DESC`, showID)
	if err != nil {
		return nil, err
	}
	list, err := scanBookings(rows)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].SeatIDs, err = bookingSeats(ctx, r.db, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}
