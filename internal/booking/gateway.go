package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"

	"github.com/iliyamo/cinema-seat-lock/internal/repository"
)

// ChargeRequest is what the coordinator asks a gateway to collect.
type ChargeRequest struct {
	BookingRef      string
	UserID          string
	AmountCents     int64
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
}

// PaymentIntent is the gateway's handle on a pending payment.  ID doubles
// as the transaction id reported back on confirmation.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	PaymentURL   string
}

// Gateway is the opaque payment adapter.  A synchronous refusal is
// reported as an error wrapping repository.ErrPaymentDeclined.
type Gateway interface {
	CreatePayment(ctx context.Context, req ChargeRequest) (*PaymentIntent, error)
}

// DeclinedPaymentMethod makes MockGateway refuse the charge, mirroring the
// Stripe test token of the same name.
const DeclinedPaymentMethod = "pm_card_chargeDeclined"

// MockGateway simulates a PSP.  It issues a random intent id and a
// payment URL on the mock PSP endpoint; the payment completes when a
// confirmation for that id is posted back.
type MockGateway struct {
	BaseURL string
}

func (g MockGateway) CreatePayment(_ context.Context, req ChargeRequest) (*PaymentIntent, error) {
	if req.PaymentMethodID == DeclinedPaymentMethod {
		return nil, fmt.Errorf("%w: card declined", repository.ErrPaymentDeclined)
	}
	id := "mock_" + uuid.NewString()
	q := url.Values{}
	q.Set("transaction_id", id)
	q.Set("booking_ref", req.BookingRef)
	return &PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		PaymentURL:   g.BaseURL + "/mock-psp?" + q.Encode(),
	}, nil
}

// StripeGateway creates Stripe PaymentIntents.  The booking reference is
// stored in the intent metadata so webhooks can be matched to holds.
type StripeGateway struct {
	client        *stripe.Client
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{client: stripe.NewClient(secretKey), webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreatePayment(ctx context.Context, req ChargeRequest) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		Metadata: map[string]string{
			"booking_ref": req.BookingRef,
			"user_id":     req.UserID,
		},
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			return nil, fmt.Errorf("%w: %s", repository.ErrPaymentDeclined, se.Msg)
		}
		return nil, err
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies a Stripe webhook and turns PaymentIntent outcome
// events into confirmations.  Other event types yield nil.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Confirmation, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidRequest, err)
	}
	return confirmationFromEvent(string(event.Type), event.Data.Raw)
}

func confirmationFromEvent(eventType string, raw []byte) (*Confirmation, error) {
	var status string
	switch eventType {
	case "payment_intent.succeeded":
		status = StatusSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		status = StatusFailed
	default:
		return nil, nil
	}
	obj := gjson.ParseBytes(raw)
	c := &Confirmation{
		TransactionID: obj.Get("id").String(),
		BookingRef:    obj.Get("metadata.booking_ref").String(),
		Status:        status,
	}
	if c.TransactionID == "" || c.BookingRef == "" {
		return nil, fmt.Errorf("%w: payment intent without booking reference", repository.ErrInvalidRequest)
	}
	return c, nil
}
