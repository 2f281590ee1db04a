package ledger

import "context"

// Store is the persistence contract used by Service.
// Every balance mutation is a single conditional statement scoped to one account row.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// EnsureBalance creates a zero balance row when none exists.
	EnsureBalance(ctx context.Context, accountID AccountID) error
	// GetBalance returns ErrUnknownAccount when the row does not exist.
	GetBalance(ctx context.Context, accountID AccountID) (Balance, error)
	IncrementBalance(ctx context.Context, accountID AccountID, amount PositiveTokenAmount, counter LifetimeCounter) (Balance, error)
	// DecrementBalanceIfSufficient returns ErrInsufficientBalance when balance < amount at write time.
	DecrementBalanceIfSufficient(ctx context.Context, accountID AccountID, amount TokenAmount) (Balance, error)
	SetUnlimited(ctx context.Context, accountID AccountID, unlimited bool) error

	// InsertTransaction returns ErrDuplicatePaymentReference when the reference is already recorded.
	InsertTransaction(ctx context.Context, transaction Transaction) error
	// FindTransactionByReference returns ErrUnknownTransaction when nothing matches.
	FindTransactionByReference(ctx context.Context, reference PaymentReference) (Transaction, error)
	// ListTransactions returns newest first; a non-positive limit returns every transaction.
	ListTransactions(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error)

	// FeatureCost returns ErrConfigurationGap when the key is unknown.
	FeatureCost(ctx context.Context, key FeatureKey) (FeatureCost, error)
	ListFeatureCosts(ctx context.Context) ([]FeatureCost, error)
	UpsertFeatureCost(ctx context.Context, featureCost FeatureCost) error
	// TokenPackage returns ErrConfigurationGap when the id is unknown.
	TokenPackage(ctx context.Context, packageID PackageID) (TokenPackage, error)
	ListTokenPackages(ctx context.Context) ([]TokenPackage, error)
	UpsertTokenPackage(ctx context.Context, tokenPackage TokenPackage) error

	// CreatePendingPurchase returns ErrPurchaseExists for a reused reference.
	CreatePendingPurchase(ctx context.Context, purchase PendingPurchase) error
	// GetPendingPurchase returns ErrUnknownPurchase when nothing matches.
	GetPendingPurchase(ctx context.Context, reference PaymentReference) (PendingPurchase, error)
	// TransitionPendingPurchase moves a purchase in one of the from states to the target state.
	// It reports whether a row changed; a missing record is not an error.
	TransitionPendingPurchase(ctx context.Context, reference PaymentReference, from []PurchaseStatus, to PurchaseStatus, atUnixUTC int64) (bool, error)
}
