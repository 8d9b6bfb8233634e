package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names bound to the exchange.
const (
	BookingLogQueue     = "booking.confirmed"
	ReleaseRequestQueue = "hold.release_requested"
)

// HandlerFunc processes one delivery body.  A returned error rejects the
// message without requeueing it.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer binds a durable queue to the exchange and feeds every delivery
// to Handle.  Run keeps reconnecting with exponential backoff until its
// context is cancelled so the server keeps operating while the broker is
// down.
type Consumer struct {
	URL    string
	Queue  string
	Keys   []string
	Handle HandlerFunc
	Log    *log.Logger
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warnf("%s-consumer: failed to dial broker: %v; retrying in %s", c.Queue, err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warnf("%s-consumer: consume loop ended: %v; reconnecting", c.Queue, err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warnf("%s-consumer: set QoS failed: %v", c.Queue, err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range c.Keys {
		if err := ch.QueueBind(c.Queue, key, Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.Log.Errorf("%s-consumer: handle message failed: %v", c.Queue, err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// BookingLog appends one line per confirmed booking to a log file.
type BookingLog struct {
	Dir string

	mu sync.Mutex
}

// Handle decodes a BookingConfirmedEvent and appends it to Dir/booking.log
// in a single-line, human-friendly format.
func (b *BookingLog) Handle(_ context.Context, body []byte) error {
	var ev BookingConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingID == "" {
		return errors.New("missing booking_id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(b.Dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | user_id=%s | show_id=%d | total=%d cents | seats=[%s] | transaction=%s\n",
		ev.ConfirmedAt, ev.BookingID, ev.UserID, ev.ShowID, ev.TotalAmountCents, strings.Join(ev.SeatLabels, ","), ev.TransactionID)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Releaser frees a hold on behalf of its owner.
type Releaser interface {
	ReleaseByRef(ctx context.Context, ref, userID string) error
}

// ReleaseWorker turns ReleaseRequest messages into releases.
type ReleaseWorker struct {
	Releaser Releaser
	Log      *log.Logger
}

// Handle releases the requested hold.  Releases are idempotent, so a
// redelivered request is harmless.
func (w *ReleaseWorker) Handle(ctx context.Context, body []byte) error {
	var req ReleaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if req.BookingRef == "" {
		return errors.New("missing booking_ref")
	}
	if err := w.Releaser.ReleaseByRef(ctx, req.BookingRef, req.UserID); err != nil {
		return fmt.Errorf("release %s: %w", req.BookingRef, err)
	}
	w.Log.Infof("release-worker: released %s", req.BookingRef)
	return nil
}
