package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// ExpiryHook is invoked once for every hold a store moves to EXPIRED,
// after the change is durable.  It must not call back into the store.
type ExpiryHook func(ctx context.Context, h model.Hold)

// MemoryStore keeps shows, holds and bookings in process memory.  Every
// show has its own mutex; all reads and writes of a show's seats happen
// under it, which makes lock granting a single critical section per show.
// It is used for local development and tests, and when HOLD_STORE=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	shows    map[uint64]*memShow
	refs     map[string]uint64 // hold ref -> show id
	onExpire ExpiryHook
}

type memShow struct {
	mu         sync.Mutex
	layout     model.Layout
	categories map[int]model.Category
	seats      map[string]*model.ShowSeat
	order      []string
	holds      map[string]*model.Hold
	bookings   map[string]*model.Booking
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shows: make(map[uint64]*memShow),
		refs:  make(map[string]uint64),
	}
}

// SetExpiryHook registers the callback fired for lazily or actively
// expired holds.
func (m *MemoryStore) SetExpiryHook(h ExpiryHook) {
	m.mu.Lock()
	m.onExpire = h
	m.mu.Unlock()
}

func (m *MemoryStore) show(showID uint64) (*memShow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shows[showID]
	if !ok {
		return nil, ErrShowNotFound
	}
	return s, nil
}

func (m *MemoryStore) showOfRef(ref string) (*memShow, error) {
	m.mu.RLock()
	showID, ok := m.refs[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrHoldNotFound
	}
	return m.show(showID)
}

// withShow runs fn inside the show's critical section after expiring the
// holds whose TTL has passed.  Expiry hooks fire after the lock is released.
func (m *MemoryStore) withShow(ctx context.Context, s *memShow, now time.Time, fn func(s *memShow) error) error {
	s.mu.Lock()
	expired := s.expireLocked(now)
	var err error
	if fn != nil {
		err = fn(s)
	}
	s.mu.Unlock()
	m.fireExpired(ctx, expired)
	return err
}

func (m *MemoryStore) fireExpired(ctx context.Context, holds []model.Hold) {
	m.mu.RLock()
	hook := m.onExpire
	m.mu.RUnlock()
	if hook == nil {
		return
	}
	for _, h := range holds {
		hook(ctx, h)
	}
}

func (s *memShow) expireLocked(now time.Time) []model.Hold {
	var out []model.Hold
	for _, h := range s.holds {
		if h.Status != model.HoldActive || !h.ExpiredAt(now) {
			continue
		}
		s.freeLocked(h)
		h.Status = model.HoldExpired
		h.UpdatedAt = now
		out = append(out, *h.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *memShow) freeLocked(h *model.Hold) {
	for _, id := range h.SeatIDs {
		if seat, ok := s.seats[id]; ok && seat.HoldRef == h.Ref {
			seat.Status = model.SeatAvailable
			seat.HoldRef = ""
		}
	}
}

// SaveLayout registers or replaces the seat map and prices of a show.
// Replacing is refused while any seat of the show is held or booked.
func (m *MemoryStore) SaveLayout(ctx context.Context, layout model.Layout, now time.Time) error {
	m.mu.Lock()
	s, ok := m.shows[layout.ShowID]
	if !ok {
		s = &memShow{holds: make(map[string]*model.Hold), bookings: make(map[string]*model.Booking)}
		m.shows[layout.ShowID] = s
	}
	m.mu.Unlock()

	return m.withShow(ctx, s, now, func(s *memShow) error {
		for _, seat := range s.seats {
			if seat.Status != model.SeatAvailable {
				return ErrConflict
			}
		}
		s.layout = layout
		s.categories = make(map[int]model.Category, len(layout.Categories))
		for _, c := range layout.Categories {
			c.Category.ShowID = layout.ShowID
			s.categories[c.ID] = c.Category
		}
		s.seats = make(map[string]*model.ShowSeat)
		s.order = s.order[:0]
		for _, seat := range layout.Seats() {
			seat := seat
			s.seats[seat.SeatID] = &seat
			s.order = append(s.order, seat.SeatID)
		}
		return nil
	})
}

// Layout returns the stored seat map of a show.
func (m *MemoryStore) Layout(ctx context.Context, showID uint64) (*model.Layout, error) {
	s, err := m.show(showID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.layout
	return &l, nil
}

// Categories returns the priced categories of a show.
func (m *MemoryStore) Categories(ctx context.Context, showID uint64) ([]model.Category, error) {
	s, err := m.show(showID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SeatsForShow returns a snapshot of every seat of the show in layout order.
func (m *MemoryStore) SeatsForShow(ctx context.Context, showID uint64, now time.Time) ([]model.ShowSeat, error) {
	s, err := m.show(showID)
	if err != nil {
		return nil, err
	}
	var out []model.ShowSeat
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		out = make([]model.ShowSeat, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, *s.seats[id])
		}
		return nil
	})
	return out, err
}

// CreateHold atomically holds every seat of h or none of them.  On success
// h.TotalCents is filled in and all seats point at h.Ref.
func (m *MemoryStore) CreateHold(ctx context.Context, h *model.Hold, now time.Time) error {
	s, err := m.show(h.ShowID)
	if err != nil {
		return err
	}
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		view := make(map[string]model.ShowSeat, len(h.SeatIDs))
		for _, id := range h.SeatIDs {
			if seat, ok := s.seats[id]; ok {
				view[id] = *seat
			}
		}
		if err := checkHoldable(view, h.SeatIDs); err != nil {
			return err
		}
		total, err := priceSeats(view, s.categories, h.CategoryID, h.SeatIDs)
		if err != nil {
			return err
		}
		h.TotalCents = total
		for _, id := range h.SeatIDs {
			s.seats[id].Status = model.SeatHeld
			s.seats[id].HoldRef = h.Ref
			s.seats[id].UpdatedAt = now
		}
		s.holds[h.Ref] = h.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.refs[h.Ref] = h.ShowID
	m.mu.Unlock()
	return nil
}

// GetHold returns the hold, expiring it first when its TTL has passed.
func (m *MemoryStore) GetHold(ctx context.Context, ref string, now time.Time) (*model.Hold, error) {
	s, err := m.showOfRef(ref)
	if err != nil {
		return nil, err
	}
	var out *model.Hold
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		h, ok := s.holds[ref]
		if !ok {
			return ErrHoldNotFound
		}
		out = h.Clone()
		return nil
	})
	return out, err
}

// ActiveHolds returns the user's ACTIVE holds on a show.
func (m *MemoryStore) ActiveHolds(ctx context.Context, showID uint64, userID string, now time.Time) ([]model.Hold, error) {
	s, err := m.show(showID)
	if err != nil {
		return nil, err
	}
	var out []model.Hold
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		for _, h := range s.holds {
			if h.Status == model.HoldActive && h.UserID == userID {
				out = append(out, *h.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// ReleaseHold frees the seats of an ACTIVE hold and marks it RELEASED.
// For a hold in any other state it changes nothing and reports false.
func (m *MemoryStore) ReleaseHold(ctx context.Context, ref string, now time.Time) (*model.Hold, bool, error) {
	return m.release(ctx, ref, "", now)
}

// FailHold is ReleaseHold for a declined payment: the hold is RELEASED
// and its payment marked FAILED.  An ACTIVE hold whose pending payment is
// not transactionID is left alone with ErrPaymentMismatch.
func (m *MemoryStore) FailHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Hold, bool, error) {
	return m.release(ctx, ref, transactionID, now)
}

// release frees an ACTIVE hold.  A non-empty failedTx marks the payment
// FAILED and must match the hold's pending payment.
func (m *MemoryStore) release(ctx context.Context, ref, failedTx string, now time.Time) (*model.Hold, bool, error) {
	s, err := m.showOfRef(ref)
	if err != nil {
		return nil, false, err
	}
	var out *model.Hold
	var changed bool
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		h, ok := s.holds[ref]
		if !ok {
			return ErrHoldNotFound
		}
		if h.Status == model.HoldActive {
			if failedTx != "" && !h.PendingPayment(failedTx) {
				out = h.Clone()
				return ErrPaymentMismatch
			}
			s.freeLocked(h)
			h.Status = model.HoldReleased
			if failedTx != "" {
				h.PaymentStatus = model.PaymentFailed
			}
			h.UpdatedAt = now
			changed = true
		}
		out = h.Clone()
		return nil
	})
	return out, changed, err
}

// MarkPaymentPending attaches a payment session to a payable hold.  A
// converted hold is returned unchanged; any other non-payable hold yields
// ErrHoldExpired.
func (m *MemoryStore) MarkPaymentPending(ctx context.Context, ref, paymentRef string, now time.Time) (*model.Hold, error) {
	s, err := m.showOfRef(ref)
	if err != nil {
		return nil, err
	}
	var out *model.Hold
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		h, ok := s.holds[ref]
		if !ok {
			return ErrHoldNotFound
		}
		switch h.Status {
		case model.HoldActive:
			h.PaymentStatus = model.PaymentPending
			h.PaymentRef = paymentRef
			h.UpdatedAt = now
		case model.HoldConverted:
		default:
			return ErrHoldExpired
		}
		out = h.Clone()
		return nil
	})
	return out, err
}

// ConvertHold turns an ACTIVE, unexpired hold whose pending payment is
// transactionID into a booking: the seats become BOOKED, the hold
// CONVERTED and the booking is recorded in the same critical section.  Converting an already converted hold returns
// the existing booking with created=false.
func (m *MemoryStore) ConvertHold(ctx context.Context, ref, transactionID string, now time.Time) (*model.Booking, bool, error) {
	s, err := m.showOfRef(ref)
	if err != nil {
		return nil, false, err
	}
	var out *model.Booking
	var created bool
	err = m.withShow(ctx, s, now, func(s *memShow) error {
		h, ok := s.holds[ref]
		if !ok {
			return ErrHoldNotFound
		}
		switch h.Status {
		case model.HoldConverted:
			b := *s.bookings[ref]
			out = &b
			return nil
		case model.HoldActive:
			if !h.PendingPayment(transactionID) {
				return ErrPaymentMismatch
			}
		default:
			return ErrHoldExpired
		}
		for _, id := range h.SeatIDs {
			seat := s.seats[id]
			seat.Status = model.SeatBooked
			seat.HoldRef = ""
			seat.UpdatedAt = now
		}
		h.Status = model.HoldConverted
		h.PaymentStatus = model.PaymentSucceeded
		h.UpdatedAt = now
		b := &model.Booking{
			ID:            h.Ref,
			ShowID:        h.ShowID,
			UserID:        h.UserID,
			SeatIDs:       append([]string(nil), h.SeatIDs...),
			TotalCents:    h.TotalCents,
			PaymentStatus: model.PaymentSucceeded,
			Status:        model.BookingConfirmed,
			TransactionID: transactionID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.bookings[ref] = b
		cp := *b
		out = &cp
		created = true
		return nil
	})
	return out, created, err
}

// ExpireDue expires every ACTIVE hold whose TTL has passed, across shows.
func (m *MemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]model.Hold, error) {
	m.mu.RLock()
	shows := make([]*memShow, 0, len(m.shows))
	for _, s := range m.shows {
		shows = append(shows, s)
	}
	m.mu.RUnlock()

	var out []model.Hold
	for _, s := range shows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		s.mu.Lock()
		expired := s.expireLocked(now)
		s.mu.Unlock()
		m.fireExpired(ctx, expired)
		out = append(out, expired...)
	}
	return out, nil
}

// GetBooking returns a booking by id.
func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	s, err := m.showOfRef(id)
	if err != nil {
		return nil, ErrBookingNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	cp.SeatIDs = append([]string(nil), b.SeatIDs...)
	return &cp, nil
}

// BookingsForShow lists the bookings of a show, newest first.
func (m *MemoryStore) BookingsForShow(ctx context.Context, showID uint64) ([]model.Booking, error) {
	s, err := m.show(showID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		cp := *b
		cp.SeatIDs = append([]string(nil), b.SeatIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
