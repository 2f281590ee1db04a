package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AccountID identifies the external account a balance belongs to.
type AccountID struct {
	value string
}

// FeatureKey identifies a priced feature in the cost catalog.
type FeatureKey struct {
	value string
}

// PaymentReference is the idempotency key of a credit.
type PaymentReference struct {
	value string
}

// PackageID identifies a purchasable token package.
type PackageID struct {
	value string
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// MetadataJSON stores an arbitrary JSON object attached to a transaction.
type MetadataJSON struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewFeatureKey validates and normalizes a feature key.
func NewFeatureKey(raw string) (FeatureKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return FeatureKey{}, fmt.Errorf("%w: empty value", ErrInvalidFeatureKey)
	}
	return FeatureKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key FeatureKey) String() string {
	return key.value
}

// NewPaymentReference validates and normalizes a payment reference.
func NewPaymentReference(raw string) (PaymentReference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentReference{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentReference)
	}
	return PaymentReference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference PaymentReference) String() string {
	return reference.value
}

// IsZero reports whether the reference was never set.
func (reference PaymentReference) IsZero() bool {
	return reference.value == ""
}

// NewPackageID validates and normalizes a package id.
func NewPackageID(raw string) (PackageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PackageID{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	return PackageID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PackageID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id PackageID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewMetadataJSON validates a metadata object (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(normalized), &object); err != nil || object == nil {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MetadataFromMap encodes a key-value map as metadata.
func MetadataFromMap(values map[string]any) (MetadataJSON, error) {
	if len(values) == 0 {
		return NewMetadataJSON("")
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(raw)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Map decodes the metadata into a fresh map.
func (metadata MetadataJSON) Map() map[string]any {
	values := make(map[string]any)
	_ = json.Unmarshal([]byte(metadata.String()), &values)
	return values
}

// With returns a copy of the metadata with the given keys set; existing keys are overwritten.
func (metadata MetadataJSON) With(values map[string]any) (MetadataJSON, error) {
	merged := metadata.Map()
	for key, value := range values {
		merged[key] = value
	}
	return MetadataFromMap(merged)
}

// TokenAmount is a non-negative integer number of tokens.
type TokenAmount int64

// PositiveTokenAmount is a strictly positive integer number of tokens.
type PositiveTokenAmount int64

// SignedTokenAmount is a transaction amount: positive for credits, negative for debits.
type SignedTokenAmount int64

// NewTokenAmount validates a non-negative token amount.
func NewTokenAmount(raw int64) (TokenAmount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidTokenAmount)
	}
	return TokenAmount(raw), nil
}

// Int64 returns the raw value.
func (amount TokenAmount) Int64() int64 {
	return int64(amount)
}

// NewPositiveTokenAmount validates a strictly positive token amount.
func NewPositiveTokenAmount(raw int64) (PositiveTokenAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidTokenAmount)
	}
	return PositiveTokenAmount(raw), nil
}

// Int64 returns the raw value.
func (amount PositiveTokenAmount) Int64() int64 {
	return int64(amount)
}

// ToTokenAmount widens the amount.
func (amount PositiveTokenAmount) ToTokenAmount() TokenAmount {
	return TokenAmount(amount)
}

// Int64 returns the raw value.
func (amount SignedTokenAmount) Int64() int64 {
	return int64(amount)
}

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionGrant    TransactionType = "grant"
	TransactionDebit    TransactionType = "debit"
	TransactionRefund   TransactionType = "refund"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.TrimSpace(raw)) {
	case TransactionPurchase:
		return TransactionPurchase, nil
	case TransactionGrant:
		return TransactionGrant, nil
	case TransactionDebit:
		return TransactionDebit, nil
	case TransactionRefund:
		return TransactionRefund, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// IsCredit reports whether the type increases a balance.
func (transactionType TransactionType) IsCredit() bool {
	return transactionType == TransactionPurchase || transactionType == TransactionGrant || transactionType == TransactionRefund
}

// LifetimeCounter names the lifetime column a credit or debit accrues to.
type LifetimeCounter string

const (
	CounterEarned    LifetimeCounter = "earned"
	CounterPurchased LifetimeCounter = "purchased"
	CounterSpent     LifetimeCounter = "spent"
)

func counterForCredit(transactionType TransactionType) LifetimeCounter {
	if transactionType == TransactionPurchase {
		return CounterPurchased
	}
	return CounterEarned
}

// PurchaseStatus defines the pending purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// ParsePurchaseStatus validates a stored purchase status.
func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	switch PurchaseStatus(strings.TrimSpace(raw)) {
	case PurchaseStatusPending:
		return PurchaseStatusPending, nil
	case PurchaseStatusCompleted:
		return PurchaseStatusCompleted, nil
	case PurchaseStatusFailed:
		return PurchaseStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseStatus, raw)
	}
}

// String returns the stored representation.
func (status PurchaseStatus) String() string {
	return string(status)
}

// Balance is the per-account balance row.
type Balance struct {
	AccountID         AccountID
	Balance           TokenAmount
	LifetimeEarned    TokenAmount
	LifetimePurchased TokenAmount
	LifetimeSpent     TokenAmount
	Unlimited         bool
}

// Reconciles reports whether balance = earned + purchased - spent.
func (balance Balance) Reconciles() bool {
	return balance.Balance.Int64() == balance.LifetimeEarned.Int64()+balance.LifetimePurchased.Int64()-balance.LifetimeSpent.Int64()
}

// Transaction is an immutable ledger line.
type Transaction struct {
	ID               TransactionID
	AccountID        AccountID
	Type             TransactionType
	Amount           SignedTokenAmount
	PaymentReference PaymentReference
	Metadata         MetadataJSON
	CreatedUnixUTC   int64
}

// NewTransaction validates a transaction before it is written or after it is read.
func NewTransaction(id TransactionID, accountID AccountID, transactionType TransactionType, amount SignedTokenAmount, reference PaymentReference, metadata MetadataJSON, createdUnixUTC int64) (Transaction, error) {
	if id.String() == "" {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	if accountID.IsZero() {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseTransactionType(transactionType.String()); err != nil {
		return Transaction{}, err
	}
	if transactionType.IsCredit() && amount.Int64() <= 0 {
		return Transaction{}, fmt.Errorf("%w: credit must be positive", ErrInvalidTokenAmount)
	}
	if transactionType == TransactionDebit && amount.Int64() > 0 {
		return Transaction{}, fmt.Errorf("%w: debit must not be positive", ErrInvalidTokenAmount)
	}
	if transactionType == TransactionPurchase && reference.IsZero() {
		return Transaction{}, fmt.Errorf("%w: purchase requires a payment reference", ErrInvalidPaymentReference)
	}
	return Transaction{
		ID:               id,
		AccountID:        accountID,
		Type:             transactionType,
		Amount:           amount,
		PaymentReference: reference,
		Metadata:         metadata,
		CreatedUnixUTC:   createdUnixUTC,
	}, nil
}

// FeatureCost is a catalog entry pricing one feature.
type FeatureCost struct {
	Key         FeatureKey
	TokenCost   TokenAmount
	Active      bool
	Description string
}

// NewFeatureCost validates a catalog entry.
func NewFeatureCost(key FeatureKey, tokenCost int64, active bool, description string) (FeatureCost, error) {
	if key.String() == "" {
		return FeatureCost{}, fmt.Errorf("%w: empty value", ErrInvalidFeatureKey)
	}
	cost, err := NewTokenAmount(tokenCost)
	if err != nil {
		return FeatureCost{}, err
	}
	return FeatureCost{Key: key, TokenCost: cost, Active: active, Description: strings.TrimSpace(description)}, nil
}

// TokenPackage is a purchasable token bundle.
type TokenPackage struct {
	ID                 PackageID
	Name               string
	Tokens             PositiveTokenAmount
	PriceMinorUnits    int64
	Currency           string
	ExternalProductRef string
	Active             bool
}

// NewTokenPackage validates a package definition.
func NewTokenPackage(id PackageID, name string, tokens int64, priceMinorUnits int64, currency string, externalProductRef string, active bool) (TokenPackage, error) {
	if id.IsZero() {
		return TokenPackage{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	tokenAmount, err := NewPositiveTokenAmount(tokens)
	if err != nil {
		return TokenPackage{}, err
	}
	if priceMinorUnits <= 0 {
		return TokenPackage{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPrice)
	}
	normalizedCurrency := strings.ToLower(strings.TrimSpace(currency))
	if normalizedCurrency == "" {
		normalizedCurrency = defaultCurrency
	}
	return TokenPackage{
		ID:                 id,
		Name:               strings.TrimSpace(name),
		Tokens:             tokenAmount,
		PriceMinorUnits:    priceMinorUnits,
		Currency:           normalizedCurrency,
		ExternalProductRef: strings.TrimSpace(externalProductRef),
		Active:             active,
	}, nil
}

const defaultCurrency = "usd"

// PendingPurchase tracks a purchase attempt for user-visible status.
type PendingPurchase struct {
	PaymentReference PaymentReference
	AccountID        AccountID
	PackageID        PackageID
	Status           PurchaseStatus
	CreatedUnixUTC   int64
	CompletedUnixUTC int64
}

// NewPendingPurchase validates a purchase record.
func NewPendingPurchase(reference PaymentReference, accountID AccountID, packageID PackageID, status PurchaseStatus, createdUnixUTC int64, completedUnixUTC int64) (PendingPurchase, error) {
	if reference.IsZero() {
		return PendingPurchase{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentReference)
	}
	if accountID.IsZero() {
		return PendingPurchase{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if packageID.IsZero() {
		return PendingPurchase{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	if _, err := ParsePurchaseStatus(status.String()); err != nil {
		return PendingPurchase{}, err
	}
	return PendingPurchase{
		PaymentReference: reference,
		AccountID:        accountID,
		PackageID:        packageID,
		Status:           status,
		CreatedUnixUTC:   createdUnixUTC,
		CompletedUnixUTC: completedUnixUTC,
	}, nil
}
