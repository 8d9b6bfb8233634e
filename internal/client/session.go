package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// ErrNoHold is returned by operations that need an active hold.
var ErrNoHold = errors.New("no active hold")

// SessionOptions tunes a Session.
type SessionOptions struct {
	PollInterval time.Duration
	TickInterval time.Duration
}

// Session is the state of one user going through seat selection and
// payment: the open show, the local selection, the current hold and the
// background poller and countdown tied to them.  It is owned by the
// caller; nothing here is global.
type Session struct {
	api  *API
	log  *log.Logger
	opts SessionOptions

	mu        sync.Mutex
	layout    model.Layout
	snapshot  []model.SeatState
	sel       Selection
	view      ViewModel
	hold      *Hold
	poller    *Poller
	countdown *Countdown
}

func NewSession(api *API, logger *log.Logger, opts SessionOptions) *Session {
	if logger == nil {
		logger = log.New("session")
	}
	return &Session{api: api, log: logger, opts: opts}
}

// Open loads the layout and availability of a show and starts a fresh
// selection.
func (s *Session) Open(ctx context.Context, showID uint64) (ViewModel, error) {
	l, err := s.api.Layout(ctx, showID)
	if err != nil {
		return ViewModel{}, err
	}
	seats, err := s.api.Seats(ctx, showID)
	if err != nil {
		return ViewModel{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = l.Layout()
	s.sel = Selection{Max: l.MaxSeatsPerHold}
	s.snapshot = seats
	s.view, _ = Reconcile(seats, s.layout, s.sel)
	return s.view, nil
}

// View returns the last reconciled seat map.
func (s *Session) View() ViewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Watch refreshes the seat map in the background until ctx is cancelled,
// a hold is granted or Close is called.
func (s *Session) Watch(ctx context.Context) <-chan Update {
	s.mu.Lock()
	if s.poller != nil {
		s.poller.Stop()
	}
	p := NewPoller(s.api, s.layout.ShowID, s.opts.PollInterval, s.apply, s.log)
	s.poller = p
	s.mu.Unlock()
	return p.Run(ctx)
}

func (s *Session) apply(seats []model.SeatState) Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []string
	s.snapshot = seats
	s.view, dropped = Reconcile(seats, s.layout, s.sel)
	if len(dropped) > 0 {
		s.sel.Remove(dropped...)
		s.log.Infof("seats taken by someone else: %v", dropped)
	}
	return Update{View: s.view, Dropped: dropped}
}

// Toggle selects or deselects a seat of the open show.
func (s *Session) Toggle(seatID string) (cleared bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.view.Seat(seatID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotASeat, seatID)
	}
	cleared, err = s.sel.Toggle(seat)
	if err != nil {
		return cleared, err
	}
	s.view, _ = Reconcile(s.snapshot, s.layout, s.sel)
	return cleared, nil
}

// Lock submits the selection.  On success polling stops and the hold
// becomes current.  On a conflict the seat map is refreshed so the user
// can pick again.
func (s *Session) Lock(ctx context.Context) (*Hold, error) {
	s.mu.Lock()
	sel := s.sel
	sel.SeatIDs = append([]string(nil), s.sel.SeatIDs...)
	showID := s.layout.ShowID
	s.mu.Unlock()
	if sel.Len() == 0 {
		return nil, ErrEmptySelection
	}

	h, err := s.api.Lock(ctx, showID, sel.CategoryID, sel.SeatIDs)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			if seats, serr := s.api.Seats(ctx, showID); serr == nil {
				s.apply(seats)
			}
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.sel.Clear()
	s.hold = h
	return h, nil
}

// Hold returns the current hold, if any.
func (s *Session) Hold() *Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

// StartCountdown runs the hold timer.  At zero the hold is released on a
// best-effort basis and onExpire is called once.
func (s *Session) StartCountdown(ctx context.Context, onTick func(time.Duration), onExpire func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hold == nil {
		return ErrNoHold
	}
	if s.countdown != nil {
		s.countdown.Stop()
	}
	cd := NewCountdown(s.hold.ExpiresAt, s.opts.TickInterval, onTick, func() {
		s.Abandon(context.WithoutCancel(ctx))
		if onExpire != nil {
			onExpire()
		}
	})
	s.countdown = cd
	cd.Start(ctx)
	return nil
}

// Pay starts payment for the current hold.  ErrSessionExpired means the
// selection must start over.
func (s *Session) Pay(ctx context.Context, paymentMethodID string) (*booking.PaymentSession, error) {
	h := s.Hold()
	if h == nil {
		return nil, ErrNoHold
	}
	ps, err := s.api.Pay(ctx, h.BookingRef, paymentMethodID)
	if errors.Is(err, ErrSessionExpired) {
		s.finish()
	}
	return ps, err
}

// ConfirmMock completes a mock PSP payment for the current hold.
func (s *Session) ConfirmMock(ctx context.Context, transactionID, status string) (*Booking, error) {
	h := s.Hold()
	if h == nil {
		return nil, ErrNoHold
	}
	b, err := s.api.ConfirmMock(ctx, booking.Confirmation{TransactionID: transactionID, BookingRef: h.BookingRef, Status: status})
	if err == nil || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrPaymentFailed) {
		s.finish()
	}
	return b, err
}

// Cancel releases the current hold.  The hold is forgotten locally even
// when the call fails; the server expires it anyway.
func (s *Session) Cancel(ctx context.Context) error {
	h := s.finish()
	if h == nil {
		return nil
	}
	return s.api.Release(ctx, h.BookingRef)
}

// Abandon is the compensating release for leaving the flow.  Failures
// are logged and otherwise ignored.
func (s *Session) Abandon(ctx context.Context) {
	h := s.finish()
	if h == nil {
		return
	}
	if err := s.api.Abandon(ctx, h.BookingRef); err != nil {
		s.log.Warnf("abandon %s: %v", h.BookingRef, err)
	}
}

// finish stops the countdown and forgets the hold, returning it.
func (s *Session) finish() *Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	h := s.hold
	s.hold = nil
	return h
}

// Close stops all background work.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}
