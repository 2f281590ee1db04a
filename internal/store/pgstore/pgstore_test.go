package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDatabaseEnv = "TOKENLEDGER_TEST_DATABASE_URL"

func TestConflictClassification(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name             string
		err              error
		paymentReference bool
		pendingPurchase  bool
	}{
		{
			name:             "payment reference constraint",
			err:              &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintPaymentReference},
			paymentReference: true,
		},
		{
			name:             "payment reference index",
			err:              fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintPaymentReferenceIndex}),
			paymentReference: true,
		},
		{
			name:            "pending purchase primary key",
			err:             &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintPendingPurchasePrimary},
			pendingPurchase: true,
		},
		{
			name: "other unique violation",
			err:  &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "ledger_transactions_transaction_id_key"},
		},
		{
			name: "check violation",
			err:  &pgconn.PgError{Code: "23514", ConstraintName: constraintPaymentReference},
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isPaymentReferenceConflict(testCase.err); got != testCase.paymentReference {
				test.Fatalf("payment reference conflict: expected %v, got %v", testCase.paymentReference, got)
			}
			if got := isPendingPurchaseConflict(testCase.err); got != testCase.pendingPurchase {
				test.Fatalf("pending purchase conflict: expected %v, got %v", testCase.pendingPurchase, got)
			}
		})
	}
}

func TestClassifyScanError(test *testing.T) {
	test.Parallel()
	invalid := classifyScanError(errorSubjectBalance, errorCodeGet, invalidRowError{err: ledger.ErrInvalidTokenAmount})
	if !errors.Is(invalid, ledger.ErrInvalidTokenAmount) || errors.Is(invalid, ledger.ErrStoreUnavailable) {
		test.Fatalf("expected validation error, got %v", invalid)
	}
	var operationError ledger.OperationError
	if !errors.As(invalid, &operationError) || operationError.Code() != errorCodeInvalid {
		test.Fatalf("expected invalid code, got %v", invalid)
	}
	failure := classifyScanError(errorSubjectBalance, errorCodeGet, errors.New("broken pipe"))
	if !errors.Is(failure, ledger.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", failure)
	}
}

// newIntegrationStore connects to a disposable Postgres database named by TOKENLEDGER_TEST_DATABASE_URL.
func newIntegrationStore(test *testing.T) *Store {
	test.Helper()
	databaseURL := os.Getenv(testDatabaseEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", testDatabaseEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("connect: %v", err)
	}
	test.Cleanup(pool.Close)
	if err := EnsureSchema(ctx, pool); err != nil {
		test.Fatalf("schema: %v", err)
	}
	return New(pool)
}

func TestPostgresConcurrentDebits(test *testing.T) {
	store := newIntegrationStore(test)
	ctx := context.Background()
	service, err := ledger.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	accountID, err := ledger.NewAccountID("pg-" + uuid.NewString())
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	featureKey, err := ledger.NewFeatureKey("pg_feature_" + uuid.NewString())
	if err != nil {
		test.Fatalf("feature: %v", err)
	}
	featureCost, err := ledger.NewFeatureCost(featureKey, 8, true, "")
	if err != nil {
		test.Fatalf("feature cost: %v", err)
	}
	if err := store.UpsertFeatureCost(ctx, featureCost); err != nil {
		test.Fatalf("upsert: %v", err)
	}
	if _, err := service.Credit(ctx, ledger.CreditRequest{AccountID: accountID, Amount: 10, Type: ledger.TransactionGrant}); err != nil {
		test.Fatalf("grant: %v", err)
	}

	const callers = 4
	results := make(chan error, callers)
	var waitGroup sync.WaitGroup
	for caller := 0; caller < callers; caller++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, debitErr := service.Debit(ctx, accountID, featureKey, ledger.MetadataJSON{})
			results <- debitErr
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for debitErr := range results {
		if debitErr == nil {
			succeeded++
			continue
		}
		if !errors.Is(debitErr, ledger.ErrInsufficientBalance) {
			test.Fatalf("unexpected error: %v", debitErr)
		}
	}
	if succeeded != 1 {
		test.Fatalf("expected one successful debit, got %d", succeeded)
	}
	reconciliation, err := service.Reconcile(ctx, accountID)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if !reconciliation.Consistent() || reconciliation.Stored.Balance != 2 {
		test.Fatalf("unexpected reconciliation: %+v", reconciliation)
	}
}

func TestPostgresDuplicatePurchaseCredit(test *testing.T) {
	store := newIntegrationStore(test)
	ctx := context.Background()
	service, err := ledger.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	accountID, err := ledger.NewAccountID("pg-" + uuid.NewString())
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	reference, err := ledger.NewPaymentReference("pi_" + uuid.NewString())
	if err != nil {
		test.Fatalf("reference: %v", err)
	}

	const callers = 6
	results := make(chan ledger.CreditResult, callers)
	var waitGroup sync.WaitGroup
	for caller := 0; caller < callers; caller++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			result, creditErr := service.Credit(ctx, ledger.CreditRequest{AccountID: accountID, Amount: 25, Type: ledger.TransactionPurchase, PaymentReference: reference})
			if creditErr != nil {
				test.Errorf("credit: %v", creditErr)
				return
			}
			results <- result
		}()
	}
	waitGroup.Wait()
	close(results)

	fresh := 0
	for result := range results {
		if !result.AlreadyApplied {
			fresh++
		}
	}
	if fresh != 1 {
		test.Fatalf("expected one fresh credit, got %d", fresh)
	}
	balance, err := store.GetBalance(ctx, accountID)
	if err != nil || balance.Balance != 25 {
		test.Fatalf("unexpected balance: %+v (%v)", balance, err)
	}
}
