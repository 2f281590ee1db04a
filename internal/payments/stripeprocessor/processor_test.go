package stripeprocessor

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/payments"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestProcessor(test *testing.T) *Processor {
	test.Helper()
	processor, err := New(Config{SecretKey: "sk_test_key", WebhookSecret: testWebhookSecret})
	if err != nil {
		test.Fatalf("new processor: %v", err)
	}
	return processor
}

func signPayload(payload string, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: secret})
	return signed.Header
}

const succeededEventPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "data": {
    "object": {
      "id": "pi_123",
      "object": "payment_intent",
      "status": "succeeded",
      "amount": 499,
      "currency": "usd",
      "metadata": {"account_id": "account-1", "package_id": "starter", "tokens": "100", "purpose": "token_purchase"}
    }
  }
}`

func TestVerifyEvent(test *testing.T) {
	test.Parallel()
	processor := newTestProcessor(test)

	testCases := []struct {
		name        string
		payload     string
		signature   string
		wantErr     bool
		wantType    string
		wantPayment string
	}{
		{
			name:        "signed payment intent event",
			payload:     succeededEventPayload,
			signature:   signPayload(succeededEventPayload, testWebhookSecret),
			wantType:    payments.EventPaymentSucceeded,
			wantPayment: "pi_123",
		},
		{
			name:      "wrong secret",
			payload:   succeededEventPayload,
			signature: signPayload(succeededEventPayload, "whsec_other"),
			wantErr:   true,
		},
		{
			name:      "missing header",
			payload:   succeededEventPayload,
			signature: "",
			wantErr:   true,
		},
		{
			name:      "unrelated event type",
			payload:   `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`,
			signature: signPayload(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`, testWebhookSecret),
			wantType:  "customer.created",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			event, err := processor.VerifyEvent([]byte(testCase.payload), testCase.signature)
			if testCase.wantErr {
				if err == nil {
					test.Fatalf("expected verification error")
				}
				return
			}
			if err != nil {
				test.Fatalf("verify: %v", err)
			}
			if event.Type != testCase.wantType || event.Payment.ID != testCase.wantPayment {
				test.Fatalf("unexpected event: %+v", event)
			}
		})
	}
}

func TestVerifyEventDecodesMetadata(test *testing.T) {
	test.Parallel()
	processor := newTestProcessor(test)
	event, err := processor.VerifyEvent([]byte(succeededEventPayload), signPayload(succeededEventPayload, testWebhookSecret))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	payment := event.Payment
	if payment.Status != payments.StatusSucceeded || payment.AmountMinor != 499 || payment.Currency != "usd" {
		test.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.Metadata[payments.MetadataTokens] != "100" || payment.Metadata[payments.MetadataPurpose] != payments.PurposeTokenPurchase {
		test.Fatalf("unexpected metadata: %v", payment.Metadata)
	}
}

func TestCreatePaymentSendsPurchaseMetadata(test *testing.T) {
	test.Parallel()
	processor := newTestProcessor(test)
	var captured *stripe.PaymentIntentParams
	processor.createIntent = func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		captured = params
		return &stripe.PaymentIntent{
			ID:           "pi_new",
			Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
			Amount:       *params.Amount,
			Currency:     stripe.Currency(*params.Currency),
			ClientSecret: "pi_new_secret",
			Metadata:     params.Metadata,
		}, nil
	}
	accountID, err := ledger.NewAccountID("account-1")
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	packageID, err := ledger.NewPackageID("starter")
	if err != nil {
		test.Fatalf("package id: %v", err)
	}
	tokenPackage, err := ledger.NewTokenPackage(packageID, "Starter", 100, 499, "USD", "", true)
	if err != nil {
		test.Fatalf("package: %v", err)
	}

	payment, err := processor.CreatePayment(context.Background(), payments.CreatePaymentRequest{AccountID: accountID, Package: tokenPackage, Description: "Starter"})
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if *captured.Amount != 499 || *captured.Currency != "usd" {
		test.Fatalf("unexpected params: amount %d currency %s", *captured.Amount, *captured.Currency)
	}
	if captured.Metadata[payments.MetadataAccountID] != "account-1" || captured.Metadata[payments.MetadataTokens] != "100" {
		test.Fatalf("unexpected metadata: %v", captured.Metadata)
	}
	if payment.ID != "pi_new" || payment.ClientSecret != "pi_new_secret" || payment.Status != "requires_payment_method" {
		test.Fatalf("unexpected payment: %+v", payment)
	}
}

func TestFetchPaymentWrapsErrors(test *testing.T) {
	test.Parallel()
	processor := newTestProcessor(test)
	processor.fetchIntent = func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, errors.New("rate limited")
	}
	if _, err := processor.FetchPayment(context.Background(), "pi_1"); err == nil {
		test.Fatalf("expected fetch error")
	}
}

func TestNewRequiresSecrets(test *testing.T) {
	test.Parallel()
	if _, err := New(Config{SecretKey: "sk_test"}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{WebhookSecret: "whsec"}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
