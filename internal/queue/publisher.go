package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends domain events.  Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Discard drops every event.  It is used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }

// ErrBrokerUnavailable is returned while the publisher waits before
// dialing the broker again.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// RabbitPublisher publishes JSON events to the topic exchange.  The
// connection is opened lazily and re-established after it drops; after a
// failed dial the publisher refuses events for RetryAfter instead of
// blocking requests on the broker.
type RabbitPublisher struct {
	URL         string
	DialTimeout time.Duration
	RetryAfter  time.Duration
	Log         *log.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

// NewRabbitPublisher returns a publisher for url.  No connection is made
// until the first event.
func NewRabbitPublisher(url string, logger *log.Logger) *RabbitPublisher {
	return &RabbitPublisher{URL: url, DialTimeout: 2 * time.Second, RetryAfter: 10 * time.Second, Log: logger}
}

func (p *RabbitPublisher) ensureConnection() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if time.Now().Before(p.retryAt) {
		return ErrBrokerUnavailable
	}
	p.closeLocked()

	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.DialTimeout)})
	if err != nil {
		p.retryAt = time.Now().Add(p.RetryAfter)
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.retryAt = time.Now().Add(p.RetryAfter)
		return err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.retryAt = time.Now().Add(p.RetryAfter)
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish marshals event and publishes it as a persistent message.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnection(); err != nil {
		p.Log.Warnf("rabbitmq: %s not published: %v", routingKey, err)
		return err
	}
	err = p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.Log.Warnf("rabbitmq: publish %s failed: %v", routingKey, err)
		p.closeLocked()
		return err
	}
	p.Log.Debugf("rabbitmq: published %s", routingKey)
	return nil
}

func (p *RabbitPublisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
