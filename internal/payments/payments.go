// Package payments resolves processor payments into idempotent ledger credits.
//
// The synchronous confirmation path and the asynchronous event path both
// converge on the same payment reference, so whichever arrives second is an
// already-applied no-op.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

const (
	StatusSucceeded = "succeeded"

	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"

	MetadataAccountID = "account_id"
	MetadataPackageID = "package_id"
	MetadataTokens    = "tokens"
	MetadataPurpose   = "purpose"

	PurposeTokenPurchase = "token_purchase"
)

var (
	ErrOwnershipMismatch      = errors.New("payment belongs to another account")
	ErrPaymentNotCompleted    = errors.New("payment not completed")
	ErrInvalidPaymentMetadata = errors.New("invalid payment metadata")
	ErrInvalidSignature       = errors.New("invalid event signature")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
	ErrInvalidConfirmerConfig = errors.New("invalid confirmer configuration")
)

// Payment is the processor's authoritative view of a payment.
type Payment struct {
	ID           string
	Status       string
	AmountMinor  int64
	Currency     string
	ClientSecret string
	Metadata     map[string]string
}

// Event is a verified processor notification.
type Event struct {
	ID      string
	Type    string
	Payment Payment
}

// CreatePaymentRequest describes a payment for a token package.
type CreatePaymentRequest struct {
	AccountID   ledger.AccountID
	Package     ledger.TokenPackage
	Description string
}

// Metadata returns the key-value pairs attached to the processor payment.
func (request CreatePaymentRequest) Metadata() map[string]string {
	return map[string]string{
		MetadataAccountID: request.AccountID.String(),
		MetadataPackageID: request.Package.ID.String(),
		MetadataTokens:    strconv.FormatInt(request.Package.Tokens.Int64(), 10),
		MetadataPurpose:   PurposeTokenPurchase,
	}
}

// Processor is the payment processor surface the confirmation adapters need.
type Processor interface {
	CreatePayment(ctx context.Context, request CreatePaymentRequest) (Payment, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	VerifyEvent(payload []byte, signature string) (Event, error)
}

// Ledger is the subset of *ledger.Service used by the adapters.
type Ledger interface {
	Credit(ctx context.Context, request ledger.CreditRequest) (ledger.CreditResult, error)
	PurchasablePackage(ctx context.Context, packageID ledger.PackageID) (ledger.TokenPackage, error)
	RecordPendingPurchase(ctx context.Context, accountID ledger.AccountID, packageID ledger.PackageID, reference ledger.PaymentReference) (ledger.PendingPurchase, error)
	FailPendingPurchase(ctx context.Context, reference ledger.PaymentReference) (bool, error)
}

// purchaseGrant is the credit instruction extracted from payment metadata.
type purchaseGrant struct {
	accountID ledger.AccountID
	packageID ledger.PackageID
	tokens    ledger.PositiveTokenAmount
	reference ledger.PaymentReference
}

func grantFromPayment(payment Payment) (purchaseGrant, error) {
	reference, err := ledger.NewPaymentReference(payment.ID)
	if err != nil {
		return purchaseGrant{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	accountID, err := ledger.NewAccountID(payment.Metadata[MetadataAccountID])
	if err != nil {
		return purchaseGrant{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	packageID, err := ledger.NewPackageID(payment.Metadata[MetadataPackageID])
	if err != nil {
		return purchaseGrant{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	rawTokens, err := strconv.ParseInt(strings.TrimSpace(payment.Metadata[MetadataTokens]), 10, 64)
	if err != nil {
		return purchaseGrant{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	tokens, err := ledger.NewPositiveTokenAmount(rawTokens)
	if err != nil {
		return purchaseGrant{}, fmt.Errorf("%w: %w", ErrInvalidPaymentMetadata, err)
	}
	return purchaseGrant{accountID: accountID, packageID: packageID, tokens: tokens, reference: reference}, nil
}

func (grant purchaseGrant) creditRequest(source string) (ledger.CreditRequest, error) {
	metadata, err := ledger.MetadataFromMap(map[string]any{
		MetadataPackageID: grant.packageID.String(),
		"source":          source,
	})
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	return ledger.CreditRequest{
		AccountID:        grant.accountID,
		Amount:           grant.tokens,
		Type:             ledger.TransactionPurchase,
		PaymentReference: grant.reference,
		Metadata:         metadata,
	}, nil
}
