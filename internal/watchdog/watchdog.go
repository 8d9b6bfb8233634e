// Package watchdog periodically expires holds whose TTL has passed so
// seats come back even when nobody reads the show.  Reads and writes also
// expire lazily; the watchdog only bounds how long an abandoned hold can
// linger in storage and makes sure its expiry event is published.
package watchdog

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/labstack/gommon/log"
)

// DefaultInterval is used when a non-positive interval is configured.
const DefaultInterval = 15 * time.Second

// Sweeper expires due holds and reports how many changed.
type Sweeper interface {
	ExpireDue(ctx context.Context) (int, error)
}

// Watchdog runs a Sweeper on a fixed interval.  Runs never overlap; a
// slow sweep delays the next one.
type Watchdog struct {
	sweeper  Sweeper
	interval time.Duration
	log      *log.Logger
	sched    gocron.Scheduler
}

func New(sweeper Sweeper, interval time.Duration, logger *log.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New("watchdog")
	}
	return &Watchdog{sweeper: sweeper, interval: interval, log: logger}
}

// Start schedules the sweep, running it once immediately.  ctx is handed
// to every sweep; cancelling it makes in-flight sweeps return early but
// Stop must still be called.
func (w *Watchdog) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.Sweep, ctx),
		gocron.WithName("expire-holds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}
	w.sched = sched
	sched.Start()
	w.log.Infof("hold expiry watchdog running every %s", w.interval)
	return nil
}

// Sweep runs one expiry pass.  It is safe to call concurrently with the
// scheduled runs.
func (w *Watchdog) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := w.sweeper.ExpireDue(ctx)
	if err != nil {
		w.log.Errorf("expire holds: %v", err)
		return
	}
	if n > 0 {
		w.log.Infof("expired %d hold(s)", n)
	}
}

// Stop shuts the scheduler down and waits for a running sweep.
func (w *Watchdog) Stop() error {
	if w.sched == nil {
		return nil
	}
	err := w.sched.Shutdown()
	w.sched = nil
	return err
}
