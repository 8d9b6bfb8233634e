// Package seatlock grants, reads and releases time-bounded seat holds.
// It is the only writer of HELD seats; all mutual exclusion is delegated
// to the repository.Store, which serializes changes per show.
package seatlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultHoldTTL         = 10 * time.Minute
	DefaultMaxSeatsPerHold = 10
)

// Config tunes the service.
type Config struct {
	HoldTTL         time.Duration
	MaxSeatsPerHold int
	Now             func() time.Time
}

// Service implements seat availability, locking and release.
type Service struct {
	store repository.Store
	pub   queue.Publisher
	log   *log.Logger
	cfg   Config
}

// New wires the service to its store and publisher and registers the
// store's expiry hook so every expired hold is announced exactly once.
func New(store repository.Store, pub queue.Publisher, logger *log.Logger, cfg Config) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	if cfg.MaxSeatsPerHold <= 0 {
		cfg.MaxSeatsPerHold = DefaultMaxSeatsPerHold
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if pub == nil {
		pub = queue.Discard{}
	}
	if logger == nil {
		logger = log.New("seatlock")
	}
	s := &Service{store: store, pub: pub, log: logger, cfg: cfg}
	store.SetExpiryHook(s.onExpired)
	return s
}

// HoldTTL returns the configured hold lifetime.
func (s *Service) HoldTTL() time.Duration { return s.cfg.HoldTTL }

// MaxSeatsPerHold returns the configured seat limit of one hold.
func (s *Service) MaxSeatsPerHold() int { return s.cfg.MaxSeatsPerHold }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.cfg.Now() }

// LockRequest asks for an exclusive hold on SeatIDs of ShowID.
type LockRequest struct {
	ShowID     uint64
	UserID     string
	CategoryID int
	SeatIDs    []string
}

// ReleaseRequest identifies holds to release either by BookingRef or by
// the seats a user holds on a show.  An empty SeatIDs with ShowID and
// UserID releases every ACTIVE hold of that user on that show.
type ReleaseRequest struct {
	BookingRef string
	ShowID     uint64
	UserID     string
	SeatIDs    []string
}

// ReleaseResult reports which holds changed state.  Released is empty
// when the call was a no-op.
type ReleaseResult struct {
	Released []model.Hold
	Message  string
}

// GetAvailableSeats returns the state of every seat of the show.  Seats of
// holds past their expiry are reported available.
func (s *Service) GetAvailableSeats(ctx context.Context, showID uint64) ([]model.SeatState, error) {
	seats, err := s.store.SeatsForShow(ctx, showID, s.cfg.Now())
	if err != nil {
		return nil, err
	}
	out := make([]model.SeatState, 0, len(seats))
	for _, seat := range seats {
		out = append(out, model.StateOf(seat))
	}
	return out, nil
}

// Layout returns the seat map and prices of a show.
func (s *Service) Layout(ctx context.Context, showID uint64) (*model.Layout, error) {
	return s.store.Layout(ctx, showID)
}

// LockSeats grants one hold over all requested seats or fails without
// changing anything.  Duplicate seat ids are ignored.
func (s *Service) LockSeats(ctx context.Context, req LockRequest) (*model.Hold, error) {
	if req.ShowID == 0 || strings.TrimSpace(req.UserID) == "" {
		return nil, repository.ErrInvalidRequest
	}
	seats := dedupe(req.SeatIDs)
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", repository.ErrInvalidRequest)
	}
	if len(seats) > s.cfg.MaxSeatsPerHold {
		return nil, fmt.Errorf("%w: at most %d seats per booking", repository.ErrTooManySeats, s.cfg.MaxSeatsPerHold)
	}

	now := s.cfg.Now()
	h := &model.Hold{
		Ref:           uuid.NewString(),
		ShowID:        req.ShowID,
		UserID:        req.UserID,
		SeatIDs:       seats,
		CategoryID:    req.CategoryID,
		Status:        model.HoldActive,
		PaymentStatus: model.PaymentNone,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.HoldTTL),
		UpdatedAt:     now,
	}
	if err := s.store.CreateHold(ctx, h, now); err != nil {
		return nil, err
	}
	s.log.Infof("hold %s granted: show=%d user=%s seats=%v expires=%s",
		h.Ref, h.ShowID, h.UserID, h.SeatIDs, h.ExpiresAt.Format(time.RFC3339))
	s.publish(ctx, queue.KeyHoldCreated, *h)
	return h, nil
}

// GetHold returns a hold owned by userID.  An empty userID skips the
// ownership check.
func (s *Service) GetHold(ctx context.Context, ref, userID string) (*model.Hold, error) {
	h, err := s.store.GetHold(ctx, ref, s.cfg.Now())
	if err != nil {
		return nil, err
	}
	if userID != "" && h.UserID != userID {
		return nil, repository.ErrForbidden
	}
	return h, nil
}

// ReleaseSeats releases holds.  Releasing a hold that is already
// RELEASED, EXPIRED or CONVERTED succeeds without changing anything.
func (s *Service) ReleaseSeats(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	now := s.cfg.Now()
	var targets []string
	if req.BookingRef != "" {
		h, err := s.GetHold(ctx, req.BookingRef, req.UserID)
		if err != nil {
			return nil, err
		}
		targets = []string{h.Ref}
	} else {
		if req.ShowID == 0 || req.UserID == "" {
			return nil, repository.ErrInvalidRequest
		}
		holds, err := s.store.ActiveHolds(ctx, req.ShowID, req.UserID, now)
		if err != nil {
			return nil, err
		}
		want := make(map[string]struct{}, len(req.SeatIDs))
		for _, id := range dedupe(req.SeatIDs) {
			want[id] = struct{}{}
		}
		for _, h := range holds {
			if len(want) == 0 || containsAny(h.SeatIDs, want) {
				targets = append(targets, h.Ref)
			}
		}
	}

	res := &ReleaseResult{}
	for _, ref := range targets {
		h, changed, err := s.store.ReleaseHold(ctx, ref, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		res.Released = append(res.Released, *h)
		s.log.Infof("hold %s released: show=%d user=%s seats=%v", h.Ref, h.ShowID, h.UserID, h.SeatIDs)
		s.publish(ctx, queue.KeyHoldReleased, *h)
	}
	if len(res.Released) > 0 {
		res.Message = "seats released"
	} else {
		res.Message = "nothing to release"
	}
	return res, nil
}

// ReleaseByRef releases one hold on behalf of userID.  It is the entry
// point of the asynchronous release worker.
func (s *Service) ReleaseByRef(ctx context.Context, ref, userID string) error {
	_, err := s.ReleaseSeats(ctx, ReleaseRequest{BookingRef: ref, UserID: userID})
	return err
}

// ExpireDue expires every ACTIVE hold whose TTL has passed and returns how
// many were expired.  Events are sent by the expiry hook.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, s.cfg.Now())
	return len(expired), err
}

func (s *Service) onExpired(ctx context.Context, h model.Hold) {
	s.log.Infof("hold %s expired: show=%d user=%s seats=%v", h.Ref, h.ShowID, h.UserID, h.SeatIDs)
	s.publish(ctx, queue.KeyHoldExpired, h)
}

func (s *Service) publish(ctx context.Context, key string, h model.Hold) {
	ev := queue.HoldEvent{
		BookingRef: h.Ref,
		ShowID:     h.ShowID,
		UserID:     h.UserID,
		SeatIDs:    h.SeatIDs,
		Status:     string(h.Status),
		ExpiresAt:  h.ExpiresAt.UTC().Format(time.RFC3339),
		OccurredAt: s.cfg.Now().UTC().Format(time.RFC3339),
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), key, ev); err != nil {
		s.log.Debugf("publish %s for %s: %v", key, h.Ref, err)
	}
}

// dedupe trims ids, drops empty ones and keeps the first occurrence order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsAny(seats []string, want map[string]struct{}) bool {
	for _, id := range seats {
		if _, ok := want[id]; ok {
			return true
		}
	}
	return false
}
