package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Reconciliation compares a stored balance row with a replay of the account's transactions.
type Reconciliation struct {
	Stored            Balance
	ReplayedEarned    TokenAmount
	ReplayedPurchased TokenAmount
	ReplayedSpent     TokenAmount
	TransactionCount  int
}

// ReplayedBalance is earned + purchased - spent according to the transaction log.
func (reconciliation Reconciliation) ReplayedBalance() int64 {
	return reconciliation.ReplayedEarned.Int64() + reconciliation.ReplayedPurchased.Int64() - reconciliation.ReplayedSpent.Int64()
}

// Consistent reports whether the stored counters match the replay.
// The balance equation is only enforced for limited accounts.
func (reconciliation Reconciliation) Consistent() bool {
	stored := reconciliation.Stored
	countersMatch := stored.LifetimeEarned == reconciliation.ReplayedEarned &&
		stored.LifetimePurchased == reconciliation.ReplayedPurchased &&
		stored.LifetimeSpent == reconciliation.ReplayedSpent
	if !countersMatch {
		return false
	}
	if stored.Unlimited {
		return true
	}
	return stored.Reconciles() && stored.Balance.Int64() == reconciliation.ReplayedBalance()
}

// BalanceInfo returns the balance row; accounts without one report zero.
func (service *Service) BalanceInfo(ctx context.Context, accountID AccountID) (Balance, error) {
	if accountID.IsZero() {
		return Balance{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return lookupBalance(ctx, service.store, accountID)
}

// TransactionHistory lists the newest transactions first, capped at MaxHistoryLimit.
func (service *Service) TransactionHistory(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error) {
	if accountID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return service.store.ListTransactions(ctx, accountID, NormalizeHistoryLimit(limit))
}

// NormalizeHistoryLimit maps a requested page size into [1, MaxHistoryLimit].
func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// FeatureCosts lists catalog entries ordered by key.
func (service *Service) FeatureCosts(ctx context.Context, includeInactive bool) ([]FeatureCost, error) {
	featureCosts, err := service.store.ListFeatureCosts(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]FeatureCost, 0, len(featureCosts))
	for _, featureCost := range featureCosts {
		if featureCost.Active || includeInactive {
			filtered = append(filtered, featureCost)
		}
	}
	sort.Slice(filtered, func(left, right int) bool {
		return filtered[left].Key.String() < filtered[right].Key.String()
	})
	return filtered, nil
}

// TokenPackages lists packages ordered by token count.
func (service *Service) TokenPackages(ctx context.Context, includeInactive bool) ([]TokenPackage, error) {
	tokenPackages, err := service.store.ListTokenPackages(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]TokenPackage, 0, len(tokenPackages))
	for _, tokenPackage := range tokenPackages {
		if tokenPackage.Active || includeInactive {
			filtered = append(filtered, tokenPackage)
		}
	}
	sort.Slice(filtered, func(left, right int) bool {
		if filtered[left].Tokens == filtered[right].Tokens {
			return filtered[left].ID.String() < filtered[right].ID.String()
		}
		return filtered[left].Tokens < filtered[right].Tokens
	})
	return filtered, nil
}

// PurchasablePackage returns an active package or ErrConfigurationGap.
func (service *Service) PurchasablePackage(ctx context.Context, packageID PackageID) (TokenPackage, error) {
	if packageID.IsZero() {
		return TokenPackage{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	tokenPackage, err := service.store.TokenPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, ErrConfigurationGap) {
			service.logOperation(ctx, OperationLog{
				Operation: operationCatalogLookup,
				PackageID: packageID,
				Status:    operationStatusConfigurationGap,
				Error:     err,
			})
		}
		return TokenPackage{}, err
	}
	if !tokenPackage.Active {
		inactiveError := WrapError(errorOperationService, errorSubjectCatalog, errorCodeInactive, ErrConfigurationGap)
		service.logOperation(ctx, OperationLog{
			Operation: operationCatalogLookup,
			PackageID: packageID,
			Status:    operationStatusConfigurationGap,
			Error:     inactiveError,
		})
		return TokenPackage{}, inactiveError
	}
	return tokenPackage, nil
}

// UpsertFeatureCost writes a catalog entry.
func (service *Service) UpsertFeatureCost(ctx context.Context, featureCost FeatureCost) error {
	if featureCost.Key.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFeatureKey)
	}
	return service.store.UpsertFeatureCost(ctx, featureCost)
}

// UpsertTokenPackage writes a package definition.
func (service *Service) UpsertTokenPackage(ctx context.Context, tokenPackage TokenPackage) error {
	if tokenPackage.ID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	return service.store.UpsertTokenPackage(ctx, tokenPackage)
}

// RecordPendingPurchase stores a pending purchase for an initiated processor payment.
func (service *Service) RecordPendingPurchase(ctx context.Context, accountID AccountID, packageID PackageID, reference PaymentReference) (PendingPurchase, error) {
	purchase, operationError := NewPendingPurchase(reference, accountID, packageID, PurchaseStatusPending, service.nowFn(), 0)
	if operationError == nil {
		operationError = service.store.CreatePendingPurchase(ctx, purchase)
	}
	service.logOperation(ctx, OperationLog{
		Operation:        operationRecordPurchase,
		AccountID:        accountID,
		PackageID:        packageID,
		PaymentReference: reference,
		Error:            operationError,
	})
	if operationError != nil {
		return PendingPurchase{}, operationError
	}
	return purchase, nil
}

// FailPendingPurchase marks a pending purchase failed; completed purchases are never downgraded.
func (service *Service) FailPendingPurchase(ctx context.Context, reference PaymentReference) (bool, error) {
	changed, operationError := service.store.TransitionPendingPurchase(ctx, reference, []PurchaseStatus{PurchaseStatusPending}, PurchaseStatusFailed, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation:        operationFailPurchase,
		PaymentReference: reference,
		Error:            operationError,
	})
	return changed, operationError
}

// PendingPurchase returns a purchase owned by the account; other owners see ErrUnknownPurchase.
func (service *Service) PendingPurchase(ctx context.Context, accountID AccountID, reference PaymentReference) (PendingPurchase, error) {
	purchase, err := service.store.GetPendingPurchase(ctx, reference)
	if err != nil {
		return PendingPurchase{}, err
	}
	if purchase.AccountID != accountID {
		return PendingPurchase{}, WrapError(errorOperationService, errorSubjectPurchase, errorCodeOwner, ErrUnknownPurchase)
	}
	return purchase, nil
}

// SetUnlimited flips the account's unlimited flag, creating the balance row if needed.
func (service *Service) SetUnlimited(ctx context.Context, accountID AccountID, unlimited bool) error {
	operationError := fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	if !accountID.IsZero() {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.EnsureBalance(ctx, accountID); err != nil {
				return err
			}
			return transactionStore.SetUnlimited(ctx, accountID, unlimited)
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSetUnlimited,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// Reconcile replays the account's transaction log against its stored counters.
func (service *Service) Reconcile(ctx context.Context, accountID AccountID) (Reconciliation, error) {
	if accountID.IsZero() {
		return Reconciliation{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	var reconciliation Reconciliation
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		stored, err := lookupBalance(ctx, transactionStore, accountID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListTransactions(ctx, accountID, 0)
		if err != nil {
			return err
		}
		reconciliation = Reconciliation{Stored: stored, TransactionCount: len(transactions)}
		for _, transaction := range transactions {
			switch transaction.Type {
			case TransactionPurchase:
				reconciliation.ReplayedPurchased += TokenAmount(transaction.Amount)
			case TransactionGrant, TransactionRefund:
				reconciliation.ReplayedEarned += TokenAmount(transaction.Amount)
			case TransactionDebit:
				reconciliation.ReplayedSpent += TokenAmount(-transaction.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return reconciliation, nil
}
