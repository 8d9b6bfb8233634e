package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// SQLStore is the MySQL implementation of Store.  Every mutating
// operation runs in one transaction that starts by locking the show row
// with SELECT ... FOR UPDATE, which serializes all changes to that
// show's seats across server instances.  Due holds of the show are
// expired inside the same transaction before anything else happens.
type SQLStore struct {
	db *sql.DB

	mu       sync.RWMutex
	onExpire ExpiryHook
}

// NewSQLStore returns a SQLStore bound to the provided database.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// DB exposes the underlying connection pool.
func (r *SQLStore) DB() *sql.DB { return r.db }

// SetExpiryHook registers the callback fired after a transaction that
// expired holds has committed.
func (r *SQLStore) SetExpiryHook(h ExpiryHook) {
	r.mu.Lock()
	r.onExpire = h
	r.mu.Unlock()
}

func (r *SQLStore) fireExpired(ctx context.Context, holds []model.Hold) {
	r.mu.RLock()
	hook := r.onExpire
	r.mu.RUnlock()
	if hook == nil {
		return
	}
	for _, h := range holds {
		hook(ctx, h)
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing when fn succeeds and rolling
// back otherwise.
func (r *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// withShowLock locks the show row, expires its due holds and runs fn in
// the same transaction.  It returns the holds that were expired once the
// transaction has committed.  When fn reports ErrHoldExpired or
// ErrPaymentMismatch the expiry work is still committed before the error
// is returned.
func (r *SQLStore) withShowLock(ctx context.Context, showID uint64, now time.Time, fn func(tx *sql.Tx) error) ([]model.Hold, error) {
	var expired []model.Hold
	var fnErr error
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockShowTx(ctx, tx, showID); err != nil {
			return err
		}
		var err error
		if expired, err = expireShowTx(ctx, tx, showID, now); err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		if err := fn(tx); err != nil {
			if errors.Is(err, ErrHoldExpired) || errors.Is(err, ErrPaymentMismatch) {
				// the expiry done above still commits
				fnErr = err
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.fireExpired(ctx, expired)
	return expired, fnErr
}

func lockShowTx(ctx context.Context, tx *sql.Tx, showID uint64) error {
	var id uint64
	err := tx.QueryRowContext(ctx, `SELECT id FROM shows WHERE id = ? FOR UPDATE`, showID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrShowNotFound
	}
	return err
}

// expireShowTx moves every ACTIVE hold of the show whose expiry is at or
// before now to EXPIRED and frees its seats.  A hold expiring exactly at
// now is expired.
func expireShowTx(ctx context.Context, tx *sql.Tx, showID uint64, now time.Time) ([]model.Hold, error) {
	holds, err := queryHolds(ctx, tx, `WHERE show_id = ? AND status = ? AND expires_at <= ? ORDER BY expires_at`,
		showID, model.HoldActive, now)
	if err != nil || len(holds) == 0 {
		return nil, err
	}
	refs := make([]any, 0, len(holds))
	for _, h := range holds {
		refs = append(refs, h.Ref)
	}
	in := placeholders(len(refs))
	args := append([]any{model.SeatAvailable, now, showID}, refs...)
	if _, err := tx.ExecContext(ctx, `UPDATE show_seats SET status = ?, hold_ref = NULL, updated_at = ? WHERE show_id = ? AND hold_ref IN (`+in+`)`, args...); err != nil {
		return nil, err
	}
	args = append([]any{model.HoldExpired, now}, refs...)
	if _, err := tx.ExecContext(ctx, `UPDATE holds SET status = ?, updated_at = ? WHERE ref IN (`+in+`)`, args...); err != nil {
		return nil, err
	}
	for i := range holds {
		holds[i].Status = model.HoldExpired
		holds[i].UpdatedAt = now
	}
	return holds, nil
}

const holdColumns = `SELECT ref, show_id, user_id, category_id, total_cents, status, payment_status, payment_ref, created_at, expires_at, updated_at FROM holds `

// queryHolds loads holds matching the where clause together with their
// seat ids.
func queryHolds(ctx context.Context, q queryer, where string, args ...any) ([]model.Hold, error) {
	rows, err := q.QueryContext(ctx, holdColumns+where, args...)
	if err != nil {
		return nil, err
	}
	var holds []model.Hold
	for rows.Next() {
		var h model.Hold
		if err := rows.Scan(&h.Ref, &h.ShowID, &h.UserID, &h.CategoryID, &h.TotalCents, &h.Status,
			&h.PaymentStatus, &h.PaymentRef, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		holds = append(holds, h)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, nil
	}
	if err := loadHoldSeats(ctx, q, holds); err != nil {
		return nil, err
	}
	return holds, nil
}

func loadHoldSeats(ctx context.Context, q queryer, holds []model.Hold) error {
	refs := make([]any, 0, len(holds))
	idx := make(map[string]int, len(holds))
	for i, h := range holds {
		refs = append(refs, h.Ref)
		idx[h.Ref] = i
	}
	rows, err := q.QueryContext(ctx, `SELECT hold_ref, seat_id FROM hold_seats WHERE hold_ref IN (`+placeholders(len(refs))+`) ORDER BY hold_ref, position`, refs...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ref, seat string
		if err := rows.Scan(&ref, &seat); err != nil {
			return err
		}
		if i, ok := idx[ref]; ok {
			holds[i].SeatIDs = append(holds[i].SeatIDs, seat)
		}
	}
	return rows.Err()
}

func getHold(ctx context.Context, q queryer, ref string) (*model.Hold, error) {
	holds, err := queryHolds(ctx, q, `WHERE ref = ?`, ref)
	if err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, ErrHoldNotFound
	}
	return &holds[0], nil
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CreateHold grants h in one transaction: the requested seats are read
// under the show lock, checked, priced and flipped to HELD together with
// the hold rows.  Nothing is written when any seat is unavailable.
func (r *SQLStore) CreateHold(ctx context.Context, h *model.Hold, now time.Time) error {
	_, err := r.withShowLock(ctx, h.ShowID, now, func(tx *sql.Tx) error {
		seats, err := seatsByID(ctx, tx, h.ShowID, h.SeatIDs)
		if err != nil {
			return err
		}
		if err := checkHoldable(seats, h.SeatIDs); err != nil {
			return err
		}
		cats, err := categoriesOf(ctx, tx, h.ShowID)
		if err != nil {
			return err
		}
		total, err := priceSeats(seats, cats, h.CategoryID, h.SeatIDs)
		if err != nil {
			return err
		}
		h.TotalCents = total

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holds (ref, show_id, user_id, category_id, total_cents, status, payment_status, payment_ref, created_at, expires_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.Ref, h.ShowID, h.UserID, h.CategoryID, h.TotalCents, h.Status, h.PaymentStatus, h.PaymentRef, h.CreatedAt, h.ExpiresAt, now); err != nil {
			return err
		}
		query := `INSERT INTO hold_seats (hold_ref, seat_id, position) VALUES `
		args := make([]any, 0, len(h.SeatIDs)*3)
		for i, id := range h.SeatIDs {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?)"
			args = append(args, h.Ref, id, i)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}

		args = []any{model.SeatHeld, h.Ref, now, h.ShowID}
		for _, id := range h.SeatIDs {
			args = append(args, id)
		}
		args = append(args, model.SeatAvailable)
		res, err := tx.ExecContext(ctx, `UPDATE show_seats SET status = ?, hold_ref = ?, updated_at = ? WHERE show_id = ? AND seat_id IN (`+placeholders(len(h.SeatIDs))+`) AND status = ?`, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if int(n) != len(h.SeatIDs) {
			return &SeatConflictError{SeatIDs: h.SeatIDs}
		}
		return nil
	})
	return err
}

// GetHold returns the hold.  An ACTIVE hold past its expiry is expired
// under the show lock before it is returned.
func (r *SQLStore) GetHold(ctx context.Context, ref string, now time.Time) (*model.Hold, error) {
	h, err := getHold(ctx, r.db, ref)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HoldActive || !h.ExpiredAt(now) {
		return h, nil
	}
	if _, err := r.withShowLock(ctx, h.ShowID, now, nil); err != nil {
		return nil, err
	}
	return getHold(ctx, r.db, ref)
}

// ActiveHolds returns the user's unexpired ACTIVE holds on a show.
func (r *SQLStore) ActiveHolds(ctx context.Context, showID uint64, userID string, now time.Time) ([]model.Hold, error) {
	return queryHolds(ctx, r.db, `WHERE show_id = ? AND user_id = ? AND status = ? AND expires_at > ? ORDER BY created_at`,
		showID, userID, model.HoldActive, now)
}

// ReleaseHold frees the seats of an ACTIVE hold and marks it RELEASED.
// Holds in any other state are returned unchanged with changed=false.
func (r *SQLStore) ReleaseHold(ctx context.Context, ref string, now time.Time) (*model.Hold, bool, error) {
	return r.release(ctx, ref, "", now)
}

// FailHold releases the hold after a declined payment and records the
// failure on it.  An ACTIVE hold whose pending payment is not
// transactionID is left alone with ErrPaymentMismatch.
func (r *SQLStore) FailHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Hold, bool, error) {
	return r.release(ctx, ref, transactionID, now)
}

// release frees an ACTIVE hold.  A non-empty failedTx marks the payment
// FAILED and must match the hold's pending payment.
func (r *SQLStore) release(ctx context.Context, ref, failedTx string, now time.Time) (*model.Hold, bool, error) {
	h, err := getHold(ctx, r.db, ref)
	if err != nil {
		return nil, false, err
	}
	if h.Status.Terminal() {
		return h, false, nil
	}
	var out *model.Hold
	var changed bool
	_, err = r.withShowLock(ctx, h.ShowID, now, func(tx *sql.Tx) error {
		cur, err := getHold(ctx, tx, ref)
		if err != nil {
			return err
		}
		if cur.Status == model.HoldActive {
			payment := cur.PaymentStatus
			if failedTx != "" {
				if !cur.PendingPayment(failedTx) {
					out = cur
					return ErrPaymentMismatch
				}
				payment = model.PaymentFailed
			}
			if _, err := tx.ExecContext(ctx, `UPDATE show_seats SET status = ?, hold_ref = NULL, updated_at = ? WHERE show_id = ? AND hold_ref = ?`,
				model.SeatAvailable, now, cur.ShowID, ref); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE holds SET status = ?, payment_status = ?, updated_at = ? WHERE ref = ?`,
				model.HoldReleased, payment, now, ref); err != nil {
				return err
			}
			cur.Status = model.HoldReleased
			cur.PaymentStatus = payment
			cur.UpdatedAt = now
			changed = true
		}
		out = cur
		return nil
	})
	if errors.Is(err, ErrPaymentMismatch) {
		return out, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// MarkPaymentPending attaches a payment session to a payable hold.  A
// converted hold is returned unchanged; any other non-payable hold yields
// ErrHoldExpired.
func (r *SQLStore) MarkPaymentPending(ctx context.Context, ref, paymentRef string, now time.Time) (*model.Hold, error) {
	h, err := getHold(ctx, r.db, ref)
	if err != nil {
		return nil, err
	}
	var out *model.Hold
	_, err = r.withShowLock(ctx, h.ShowID, now, func(tx *sql.Tx) error {
		cur, err := getHold(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch cur.Status {
		case model.HoldActive:
			if _, err := tx.ExecContext(ctx, `UPDATE holds SET payment_status = ?, payment_ref = ?, updated_at = ? WHERE ref = ?`,
				model.PaymentPending, paymentRef, now, ref); err != nil {
				return err
			}
			cur.PaymentStatus = model.PaymentPending
			cur.PaymentRef = paymentRef
			cur.UpdatedAt = now
		case model.HoldConverted:
		default:
			return ErrHoldExpired
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertHold books the seats of an ACTIVE, unexpired hold whose pending
// payment is transactionID, marks it
// CONVERTED and records the booking in a single transaction.  Converting
// a CONVERTED hold returns its booking with created=false.
func (r *SQLStore) ConvertHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Booking, bool, error) {
	h, err := getHold(ctx, r.db, ref)
	if err != nil {
		return nil, false, err
	}
	var out *model.Booking
	var created bool
	_, err = r.withShowLock(ctx, h.ShowID, now, func(tx *sql.Tx) error {
		cur, err := getHold(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch cur.Status {
		case model.HoldConverted:
			out, err = getBooking(ctx, tx, ref)
			return err
		case model.HoldActive:
			if !cur.PendingPayment(transactionID) {
				return ErrPaymentMismatch
			}
		default:
			return ErrHoldExpired
		}

		res, err := tx.ExecContext(ctx, `UPDATE show_seats SET status = ?, hold_ref = NULL, updated_at = ? WHERE show_id = ? AND hold_ref = ?`,
			model.SeatBooked, now, cur.ShowID, ref)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if int(n) != len(cur.SeatIDs) {
			return &SeatConflictError{SeatIDs: cur.SeatIDs}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE holds SET status = ?, payment_status = ?, updated_at = ? WHERE ref = ?`,
			model.HoldConverted, model.PaymentSucceeded, now, ref); err != nil {
			return err
		}
		b := &model.Booking{
			ID:            cur.Ref,
			ShowID:        cur.ShowID,
			UserID:        cur.UserID,
			SeatIDs:       cur.SeatIDs,
			TotalCents:    cur.TotalCents,
			PaymentStatus: model.PaymentSucceeded,
			Status:        model.BookingConfirmed,
			TransactionID: transactionID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := insertBookingTx(ctx, tx, b); err != nil {
			return err
		}
		out = b
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ExpireDue expires every due ACTIVE hold, one show transaction at a time.
func (r *SQLStore) ExpireDue(ctx context.Context, now time.Time) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT show_id FROM holds WHERE status = ? AND expires_at <= ?`, model.HoldActive, now)
	if err != nil {
		return nil, err
	}
	var shows []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		shows = append(shows, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var out []model.Hold
	for _, showID := range shows {
		expired, err := r.withShowLock(ctx, showID, now, nil)
		if err != nil {
			return out, err
		}
		out = append(out, expired...)
	}
	return out, nil
}
