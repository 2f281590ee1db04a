package payments

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	sourceConfirmation = "confirmation"
	sourceEvent        = "event"

	OutcomeCredited       = "credited"
	OutcomeAlreadyApplied = "already_applied"
	OutcomeFailed         = "marked_failed"
	OutcomeIgnored        = "ignored"
	OutcomeRejected       = "rejected"
	OutcomeError          = "error"
)

// EventRecorder observes the outcome of every processor event.
type EventRecorder interface {
	RecordEvent(eventType string, outcome string)
}

// ConfirmerOption configures a Confirmer.
type ConfirmerOption func(*Confirmer)

// WithEventRecorder attaches an observer for event outcomes.
func WithEventRecorder(recorder EventRecorder) ConfirmerOption {
	return func(confirmer *Confirmer) {
		confirmer.recorder = recorder
	}
}

// Confirmer hosts both payment confirmation paths.
type Confirmer struct {
	ledger    Ledger
	processor Processor
	logger    *zap.Logger
	recorder  EventRecorder
}

// Purchase is a freshly initiated processor payment for a token package.
type Purchase struct {
	PaymentID    string
	ClientSecret string
	Status       string
	Package      ledger.TokenPackage
}

// Confirmation is the result of crediting a payment.
type Confirmation struct {
	TokensAdded     int64
	AlreadyCredited bool
	NewBalance      ledger.TokenAmount
}

// NewConfirmer wires the confirmation adapters.
func NewConfirmer(ledgerService Ledger, processor Processor, logger *zap.Logger, options ...ConfirmerOption) (*Confirmer, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidConfirmerConfig)
	}
	if processor == nil {
		return nil, fmt.Errorf("%w: processor dependency is nil", ErrInvalidConfirmerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	confirmer := &Confirmer{ledger: ledgerService, processor: processor, logger: logger}
	for _, option := range options {
		if option != nil {
			option(confirmer)
		}
	}
	return confirmer, nil
}

// StartPurchase creates a processor payment for an active package and records it as pending.
func (confirmer *Confirmer) StartPurchase(ctx context.Context, accountID ledger.AccountID, packageID ledger.PackageID) (Purchase, error) {
	tokenPackage, err := confirmer.ledger.PurchasablePackage(ctx, packageID)
	if err != nil {
		return Purchase{}, err
	}
	payment, err := confirmer.processor.CreatePayment(ctx, CreatePaymentRequest{
		AccountID:   accountID,
		Package:     tokenPackage,
		Description: tokenPackage.Name,
	})
	if err != nil {
		confirmer.logger.Error("create payment", zap.String("account_id", accountID.String()), zap.String("package_id", packageID.String()), zap.Error(err))
		return Purchase{}, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}
	reference, err := ledger.NewPaymentReference(payment.ID)
	if err != nil {
		return Purchase{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	if _, err := confirmer.ledger.RecordPendingPurchase(ctx, accountID, packageID, reference); err != nil {
		return Purchase{}, err
	}
	return Purchase{
		PaymentID:    payment.ID,
		ClientSecret: payment.ClientSecret,
		Status:       payment.Status,
		Package:      tokenPackage,
	}, nil
}

// ConfirmPayment is the synchronous path: the client reports success and the
// adapter re-reads the payment from the processor before crediting.
func (confirmer *Confirmer) ConfirmPayment(ctx context.Context, accountID ledger.AccountID, paymentID string) (Confirmation, error) {
	if accountID.IsZero() {
		return Confirmation{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidAccountID)
	}
	if _, err := ledger.NewPaymentReference(paymentID); err != nil {
		return Confirmation{}, err
	}
	payment, err := confirmer.processor.FetchPayment(ctx, paymentID)
	if err != nil {
		confirmer.logger.Error("fetch payment", zap.String("payment_id", paymentID), zap.Error(err))
		return Confirmation{}, fmt.Errorf("%w: %w", ErrProcessorUnavailable, err)
	}
	if payment.Metadata[MetadataAccountID] != accountID.String() {
		confirmer.logger.Warn("payment ownership mismatch", zap.String("payment_id", paymentID), zap.String("account_id", accountID.String()))
		return Confirmation{}, ErrOwnershipMismatch
	}
	if payment.Status != StatusSucceeded {
		confirmer.logger.Info("payment not completed", zap.String("payment_id", paymentID), zap.String("status", payment.Status))
		return Confirmation{}, fmt.Errorf("%w: status %s", ErrPaymentNotCompleted, payment.Status)
	}
	grant, err := grantFromPayment(payment)
	if err != nil {
		confirmer.logger.Warn("payment metadata rejected", zap.String("payment_id", paymentID), zap.Error(err))
		return Confirmation{}, err
	}
	return confirmer.credit(ctx, grant, sourceConfirmation)
}

// HandleEvent is the asynchronous path. Unknown or unrelated events are
// acknowledged without error so the processor stops redelivering them.
func (confirmer *Confirmer) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := confirmer.processor.VerifyEvent(payload, signature)
	if err != nil {
		confirmer.record("unknown", OutcomeRejected)
		confirmer.logger.Warn("event signature rejected", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if event.Payment.Metadata[MetadataPurpose] != PurposeTokenPurchase {
		confirmer.record(event.Type, OutcomeIgnored)
		return nil
	}
	switch event.Type {
	case EventPaymentSucceeded:
		return confirmer.handleSucceeded(ctx, event)
	case EventPaymentFailed:
		return confirmer.handleFailed(ctx, event)
	default:
		confirmer.record(event.Type, OutcomeIgnored)
		return nil
	}
}

func (confirmer *Confirmer) handleSucceeded(ctx context.Context, event Event) error {
	grant, err := grantFromPayment(event.Payment)
	if err != nil {
		confirmer.record(event.Type, OutcomeRejected)
		confirmer.logger.Error("event metadata rejected", zap.String("event_id", event.ID), zap.String("payment_id", event.Payment.ID), zap.Error(err))
		return err
	}
	confirmation, err := confirmer.credit(ctx, grant, sourceEvent)
	if err != nil {
		confirmer.record(event.Type, OutcomeError)
		return err
	}
	if confirmation.AlreadyCredited {
		confirmer.record(event.Type, OutcomeAlreadyApplied)
	} else {
		confirmer.record(event.Type, OutcomeCredited)
	}
	return nil
}

func (confirmer *Confirmer) handleFailed(ctx context.Context, event Event) error {
	reference, err := ledger.NewPaymentReference(event.Payment.ID)
	if err != nil {
		confirmer.record(event.Type, OutcomeRejected)
		return fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	changed, err := confirmer.ledger.FailPendingPurchase(ctx, reference)
	if err != nil {
		confirmer.record(event.Type, OutcomeError)
		return err
	}
	if changed {
		confirmer.record(event.Type, OutcomeFailed)
	} else {
		confirmer.record(event.Type, OutcomeIgnored)
	}
	return nil
}

func (confirmer *Confirmer) credit(ctx context.Context, grant purchaseGrant, source string) (Confirmation, error) {
	request, err := grant.creditRequest(source)
	if err != nil {
		return Confirmation{}, err
	}
	result, err := confirmer.ledger.Credit(ctx, request)
	if err != nil {
		confirmer.logger.Error("credit payment", zap.String("payment_id", grant.reference.String()), zap.String("source", source), zap.Error(err))
		return Confirmation{}, err
	}
	confirmation := Confirmation{AlreadyCredited: result.AlreadyApplied, NewBalance: result.NewBalance}
	if !result.AlreadyApplied {
		confirmation.TokensAdded = grant.tokens.Int64()
	}
	return confirmation, nil
}

func (confirmer *Confirmer) record(eventType string, outcome string) {
	if confirmer.recorder != nil {
		confirmer.recorder.RecordEvent(eventType, outcome)
	}
}
