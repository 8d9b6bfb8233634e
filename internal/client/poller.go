package client

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
)

// DefaultPollInterval is how often the open seat map is refreshed.
const DefaultPollInterval = 5 * time.Second

// SeatSource returns availability snapshots.
type SeatSource interface {
	Seats(ctx context.Context, showID uint64) ([]model.SeatState, error)
}

// Update is one refresh of the seat map.  Dropped lists selected seats
// that someone else took since the previous refresh; the UI must tell
// the user about them.
type Update struct {
	View    ViewModel
	Dropped []string
	Err     error
	At      time.Time
}

// Poller refreshes availability while the seat map is open.  Apply merges
// each snapshot with local state.  Failed polls are reported in
// Update.Err and the loop continues.
type Poller struct {
	source   SeatSource
	showID   uint64
	interval time.Duration
	apply    func([]model.SeatState) Update
	log      *log.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewPoller(source SeatSource, showID uint64, interval time.Duration, apply func([]model.SeatState) Update, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.New("poller")
	}
	return &Poller{
		source:   source,
		showID:   showID,
		interval: interval,
		apply:    apply,
		log:      logger,
		stop:     make(chan struct{}),
	}
}

// Run polls at once and then on every interval until ctx is cancelled or
// Stop is called.  The returned channel is closed when polling ends.
func (p *Poller) Run(ctx context.Context) <-chan Update {
	out := make(chan Update, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			u := p.poll(ctx)
			select {
			case out <- u:
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			}
		}
	}()
	return out
}

func (p *Poller) poll(ctx context.Context) Update {
	seats, err := p.source.Seats(ctx, p.showID)
	if err != nil {
		p.log.Debugf("poll show %d: %v", p.showID, err)
		return Update{Err: err, At: time.Now()}
	}
	u := p.apply(seats)
	u.At = time.Now()
	return u
}

// Stop ends polling.  It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
