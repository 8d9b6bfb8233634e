package repository

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// Store is the persistence boundary of the seat lock and booking flows.
// Implementations serialize every mutation of one show's seats and
// expire due holds lazily before acting on them.  SQLStore and
// MemoryStore both satisfy it.
type Store interface {
	SetExpiryHook(h ExpiryHook)

	SaveLayout(ctx context.Context, layout model.Layout, now time.Time) error
	Layout(ctx context.Context, showID uint64) (*model.Layout, error)
	Categories(ctx context.Context, showID uint64) ([]model.Category, error)
	SeatsForShow(ctx context.Context, showID uint64, now time.Time) ([]model.ShowSeat, error)

	CreateHold(ctx context.Context, h *model.Hold, now time.Time) error
	GetHold(ctx context.Context, ref string, now time.Time) (*model.Hold, error)
	ActiveHolds(ctx context.Context, showID uint64, userID string, now time.Time) ([]model.Hold, error)
	ReleaseHold(ctx context.Context, ref string, now time.Time) (*model.Hold, bool, error)
	FailHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Hold, bool, error)
	MarkPaymentPending(ctx context.Context, ref, paymentRef string, now time.Time) (*model.Hold, error)
	ConvertHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Booking, bool, error)
	ExpireDue(ctx context.Context, now time.Time) ([]model.Hold, error)

	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	BookingsForShow(ctx context.Context, showID uint64) ([]model.Booking, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
