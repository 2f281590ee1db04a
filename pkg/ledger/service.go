package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
// It is the only writer of balances and transactions.
type Service struct {
	store  Store
	nowFn  func() int64
	newID  func() string
	logger OperationLogger
}

// Affordability is the answer to "can this account pay for this feature right now".
type Affordability struct {
	CanAfford   bool
	Required    TokenAmount
	Balance     TokenAmount
	IsUnlimited bool
}

// DebitResult describes a committed debit.
type DebitResult struct {
	NewBalance    TokenAmount
	TransactionID TransactionID
	Unlimited     bool
}

// CreditRequest carries every balance increase.
// PaymentReference is required for purchases and generated for grants and refunds when empty.
type CreditRequest struct {
	AccountID        AccountID
	Amount           PositiveTokenAmount
	Type             TransactionType
	PaymentReference PaymentReference
	Metadata         MetadataJSON
}

// CreditResult describes a credit; AlreadyApplied marks an idempotent replay.
type CreditResult struct {
	NewBalance     TokenAmount
	TransactionID  TransactionID
	AlreadyApplied bool
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ResolveUnlimited returns the account's unlimited flag. Unknown accounts are limited.
func (service *Service) ResolveUnlimited(ctx context.Context, accountID AccountID) (bool, error) {
	if accountID.IsZero() {
		return false, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	balance, err := lookupBalance(ctx, service.store, accountID)
	if err != nil {
		return false, err
	}
	return balance.Unlimited, nil
}

// CheckAffordability compares the committed balance with the feature cost.
// A missing or inactive catalog entry costs zero and is reported as a configuration gap.
func (service *Service) CheckAffordability(ctx context.Context, accountID AccountID, featureKey FeatureKey) (Affordability, error) {
	if accountID.IsZero() {
		return Affordability{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	cost, err := service.resolveFeatureCost(ctx, accountID, featureKey)
	if err != nil {
		return Affordability{}, err
	}
	balance, err := lookupBalance(ctx, service.store, accountID)
	if err != nil {
		return Affordability{}, err
	}
	return Affordability{
		CanAfford:   balance.Unlimited || balance.Balance >= cost,
		Required:    cost,
		Balance:     balance.Balance,
		IsUnlimited: balance.Unlimited,
	}, nil
}

// Debit charges the feature cost in one atomic step conditioned on balance >= cost at write time.
// Unlimited accounts are not charged but still receive an audit transaction.
// Debit is not idempotent: callers must re-check affordability before retrying an ambiguous failure.
func (service *Service) Debit(ctx context.Context, accountID AccountID, featureKey FeatureKey, metadata MetadataJSON) (DebitResult, error) {
	var (
		result DebitResult
		cost   TokenAmount
	)
	operationError := validateDebit(accountID, featureKey)
	if operationError == nil {
		cost, operationError = service.resolveFeatureCost(ctx, accountID, featureKey)
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.EnsureBalance(ctx, accountID); err != nil {
				return err
			}
			current, err := transactionStore.GetBalance(ctx, accountID)
			if err != nil {
				return err
			}
			charged := cost
			updated := current
			if current.Unlimited {
				charged = 0
			} else {
				updated, err = transactionStore.DecrementBalanceIfSufficient(ctx, accountID, cost)
				if errors.Is(err, ErrInsufficientBalance) {
					observed := current.Balance
					if latest, readErr := transactionStore.GetBalance(ctx, accountID); readErr == nil {
						observed = latest.Balance
					}
					return &InsufficientBalanceError{Required: cost, Balance: observed}
				}
				if err != nil {
					return err
				}
			}
			annotations := map[string]any{
				metadataKeyFeatureKey: featureKey.String(),
				metadataKeyCost:       charged.Int64(),
			}
			if current.Unlimited {
				annotations[metadataKeyUnlimited] = true
			}
			entryMetadata, err := metadata.With(annotations)
			if err != nil {
				return err
			}
			transaction, err := service.newTransaction(accountID, TransactionDebit, SignedTokenAmount(-charged.Int64()), PaymentReference{}, entryMetadata)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
				return err
			}
			result = DebitResult{
				NewBalance:    updated.Balance,
				TransactionID: transaction.ID,
				Unlimited:     current.Unlimited,
			}
			return nil
		})
	}
	status := ""
	if errors.Is(operationError, ErrInsufficientBalance) {
		status = operationStatusInsufficientBalance
	}
	service.logOperation(ctx, OperationLog{
		Operation:       operationDebit,
		AccountID:       accountID,
		FeatureKey:      featureKey,
		TransactionType: TransactionDebit,
		Amount:          cost.Int64(),
		Metadata:        metadata,
		Status:          status,
		Error:           operationError,
	})
	if operationError != nil {
		return DebitResult{}, operationError
	}
	return result, nil
}

// Credit is the idempotent entry point for every balance increase.
// The reference lookup, transaction insert, and balance increment commit as one unit;
// the unique payment reference index turns a concurrent duplicate into AlreadyApplied.
func (service *Service) Credit(ctx context.Context, request CreditRequest) (CreditResult, error) {
	var result CreditResult
	normalized, operationError := service.normalizeCreditRequest(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			existing, err := transactionStore.FindTransactionByReference(ctx, normalized.PaymentReference)
			if err == nil {
				applied, appliedErr := alreadyApplied(ctx, transactionStore, normalized.AccountID, existing)
				if appliedErr != nil {
					return appliedErr
				}
				result = applied
				return nil
			}
			if !errors.Is(err, ErrUnknownTransaction) {
				return err
			}
			if err := transactionStore.EnsureBalance(ctx, normalized.AccountID); err != nil {
				return err
			}
			entryMetadata, err := normalized.Metadata.With(map[string]any{metadataKeyPaymentReference: normalized.PaymentReference.String()})
			if err != nil {
				return err
			}
			transaction, err := service.newTransaction(normalized.AccountID, normalized.Type, SignedTokenAmount(normalized.Amount.Int64()), normalized.PaymentReference, entryMetadata)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
				return err
			}
			updated, err := transactionStore.IncrementBalance(ctx, normalized.AccountID, normalized.Amount, counterForCredit(normalized.Type))
			if err != nil {
				return err
			}
			if normalized.Type == TransactionPurchase {
				completedFrom := []PurchaseStatus{PurchaseStatusPending, PurchaseStatusFailed}
				if _, err := transactionStore.TransitionPendingPurchase(ctx, normalized.PaymentReference, completedFrom, PurchaseStatusCompleted, transaction.CreatedUnixUTC); err != nil {
					return err
				}
			}
			result = CreditResult{NewBalance: updated.Balance, TransactionID: transaction.ID}
			return nil
		})
		if errors.Is(operationError, ErrDuplicatePaymentReference) {
			// A concurrent caller committed the same reference between the lookup and the insert.
			existing, err := service.store.FindTransactionByReference(ctx, normalized.PaymentReference)
			if err != nil {
				operationError = err
			} else {
				result, operationError = alreadyApplied(ctx, service.store, normalized.AccountID, existing)
			}
		}
	}
	status := ""
	if operationError == nil && result.AlreadyApplied {
		status = operationStatusAlreadyApplied
	}
	service.logOperation(ctx, OperationLog{
		Operation:        operationCredit,
		AccountID:        request.AccountID,
		PaymentReference: normalized.PaymentReference,
		TransactionType:  request.Type,
		Amount:           request.Amount.Int64(),
		Metadata:         request.Metadata,
		Status:           status,
		Error:            operationError,
	})
	if operationError != nil {
		return CreditResult{}, operationError
	}
	return result, nil
}

func (service *Service) normalizeCreditRequest(request CreditRequest) (CreditRequest, error) {
	if request.AccountID.IsZero() {
		return request, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := NewPositiveTokenAmount(request.Amount.Int64()); err != nil {
		return request, err
	}
	if !request.Type.IsCredit() {
		return request, fmt.Errorf("%w: %q is not a credit", ErrUnsupportedTransactionType, request.Type)
	}
	if request.PaymentReference.IsZero() {
		if request.Type == TransactionPurchase {
			return request, fmt.Errorf("%w: purchase requires a payment reference", ErrInvalidPaymentReference)
		}
		generated, err := NewPaymentReference(request.Type.String() + generatedReferenceDelimiter + service.newID())
		if err != nil {
			return request, err
		}
		request.PaymentReference = generated
	}
	return request, nil
}

func (service *Service) newTransaction(accountID AccountID, transactionType TransactionType, amount SignedTokenAmount, reference PaymentReference, metadata MetadataJSON) (Transaction, error) {
	transactionID, err := NewTransactionID(service.newID())
	if err != nil {
		return Transaction{}, err
	}
	return NewTransaction(transactionID, accountID, transactionType, amount, reference, metadata, service.nowFn())
}

func (service *Service) resolveFeatureCost(ctx context.Context, accountID AccountID, featureKey FeatureKey) (TokenAmount, error) {
	if featureKey.String() == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidFeatureKey)
	}
	featureCost, err := service.store.FeatureCost(ctx, featureKey)
	if errors.Is(err, ErrConfigurationGap) {
		service.reportConfigurationGap(ctx, accountID, featureKey, errorCodeMissing, err)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !featureCost.Active {
		service.reportConfigurationGap(ctx, accountID, featureKey, errorCodeInactive, ErrConfigurationGap)
		return 0, nil
	}
	return featureCost.TokenCost, nil
}

func (service *Service) reportConfigurationGap(ctx context.Context, accountID AccountID, featureKey FeatureKey, code string, cause error) {
	service.logOperation(ctx, OperationLog{
		Operation:  operationCatalogLookup,
		AccountID:  accountID,
		FeatureKey: featureKey,
		Status:     operationStatusConfigurationGap,
		Error:      WrapError(errorOperationService, errorSubjectCatalog, code, cause),
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateDebit(accountID AccountID, featureKey FeatureKey) error {
	if accountID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if featureKey.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFeatureKey)
	}
	return nil
}

func alreadyApplied(ctx context.Context, store Store, accountID AccountID, existing Transaction) (CreditResult, error) {
	if existing.AccountID != accountID {
		return CreditResult{}, WrapError(errorOperationService, errorSubjectCredit, errorCodeReference, ErrPaymentReferenceConflict)
	}
	balance, err := lookupBalance(ctx, store, accountID)
	if err != nil {
		return CreditResult{}, err
	}
	return CreditResult{NewBalance: balance.Balance, TransactionID: existing.ID, AlreadyApplied: true}, nil
}

func lookupBalance(ctx context.Context, store Store, accountID AccountID) (Balance, error) {
	balance, err := store.GetBalance(ctx, accountID)
	if errors.Is(err, ErrUnknownAccount) {
		return Balance{AccountID: accountID}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}
