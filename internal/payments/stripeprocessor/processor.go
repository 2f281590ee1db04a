// Package stripeprocessor implements payments.Processor on Stripe PaymentIntents.
package stripeprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/payments"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrInvalidConfig   = errors.New("invalid stripe configuration")
	ErrUnexpectedEvent = errors.New("event does not carry a payment intent")
)

// Config holds the Stripe credentials.
type Config struct {
	SecretKey     string
	WebhookSecret string
}

type (
	createIntentFunc func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	fetchIntentFunc  func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
)

// Processor talks to the Stripe API.
type Processor struct {
	webhookSecret string
	createIntent  createIntentFunc
	fetchIntent   fetchIntentFunc
}

// New configures the global Stripe key and returns a Processor.
func New(config Config) (*Processor, error) {
	secretKey := strings.TrimSpace(config.SecretKey)
	webhookSecret := strings.TrimSpace(config.WebhookSecret)
	if secretKey == "" {
		return nil, fmt.Errorf("%w: secret key is required", ErrInvalidConfig)
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is required", ErrInvalidConfig)
	}
	stripe.Key = secretKey
	return &Processor{
		webhookSecret: webhookSecret,
		createIntent:  paymentintent.New,
		fetchIntent:   paymentintent.Get,
	}, nil
}

// CreatePayment creates a PaymentIntent whose metadata identifies the purchase.
func (processor *Processor) CreatePayment(ctx context.Context, request payments.CreatePaymentRequest) (payments.Payment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(request.Package.PriceMinorUnits),
		Currency:    stripe.String(request.Package.Currency),
		Description: stripe.String(request.Description),
		Metadata:    request.Metadata(),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	intent, err := processor.createIntent(params)
	if err != nil {
		return payments.Payment{}, fmt.Errorf("create payment intent: %w", err)
	}
	return paymentFromIntent(intent), nil
}

// FetchPayment re-reads a PaymentIntent.
func (processor *Processor) FetchPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := processor.fetchIntent(paymentID, params)
	if err != nil {
		return payments.Payment{}, fmt.Errorf("get payment intent: %w", err)
	}
	return paymentFromIntent(intent), nil
}

// VerifyEvent checks the Stripe-Signature header and decodes the payment intent
// carried by payment_intent.* events. Other event types return an Event with an
// empty Payment.
func (processor *Processor) VerifyEvent(payload []byte, signature string) (payments.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, processor.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payments.Event{}, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	verified := payments.Event{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(verified.Type, "payment_intent.") {
		return verified, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return payments.Event{}, ErrUnexpectedEvent
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return payments.Event{}, fmt.Errorf("%w: %w", ErrUnexpectedEvent, err)
	}
	verified.Payment = paymentFromIntent(&intent)
	return verified, nil
}

func paymentFromIntent(intent *stripe.PaymentIntent) payments.Payment {
	if intent == nil {
		return payments.Payment{}
	}
	metadata := make(map[string]string, len(intent.Metadata))
	for key, value := range intent.Metadata {
		metadata[key] = value
	}
	return payments.Payment{
		ID:           intent.ID,
		Status:       string(intent.Status),
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		ClientSecret: intent.ClientSecret,
		Metadata:     metadata,
	}
}
