package pgstore

import (
	"context"
	_ "embed"
	"errors"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintPaymentReference       = "ledger_transactions_payment_reference_key"
	constraintPaymentReferenceIndex  = "idx_ledger_transactions_payment_reference"
	constraintPendingPurchasePrimary = "pending_purchases_pkey"
	pgUniqueViolationCode            = "23505"
	errorOperationStore              = "store"
	errorSubjectBalance              = "balance"
	errorSubjectCatalog              = "catalog"
	errorSubjectPurchase             = "purchase"
	errorSubjectSchema               = "schema"
	errorSubjectTransaction          = "transaction"
	errorCodeApply                   = "apply"
	errorCodeBegin                   = "begin"
	errorCodeCommit                  = "commit"
	errorCodeCreate                  = "create"
	errorCodeDuplicate               = "duplicate"
	errorCodeGet                     = "get"
	errorCodeInsert                  = "insert"
	errorCodeInvalid                 = "invalid"
	errorCodeList                    = "list"
	errorCodeUpdate                  = "update"
	errorCodeUpsert                  = "upsert"

	balanceColumns = `account_id, balance, lifetime_earned, lifetime_purchased, lifetime_spent, unlimited`

	sqlEnsureBalance = `
		insert into token_balances(account_id) values($1)
		on conflict (account_id) do nothing
	`

	sqlSelectBalance = `select ` + balanceColumns + ` from token_balances where account_id = $1`

	sqlIncrementEarned = `
		update token_balances
		set balance = balance + $2, lifetime_earned = lifetime_earned + $2, updated_at = now()
		where account_id = $1
		returning ` + balanceColumns

	sqlIncrementPurchased = `
		update token_balances
		set balance = balance + $2, lifetime_purchased = lifetime_purchased + $2, updated_at = now()
		where account_id = $1
		returning ` + balanceColumns

	sqlDecrementIfSufficient = `
		update token_balances
		set balance = balance - $2, lifetime_spent = lifetime_spent + $2, updated_at = now()
		where account_id = $1 and balance >= $2
		returning ` + balanceColumns

	sqlSetUnlimited = `
		update token_balances set unlimited = $2, updated_at = now() where account_id = $1
	`

	sqlInsertTransaction = `
		insert into ledger_transactions(
			transaction_id, account_id, type, amount, payment_reference, metadata, created_at
		)
		values(
			$1, $2, $3, $4,
			nullif($5,''),
			coalesce(nullif($6,''),'{}')::jsonb,
			to_timestamp($7)
		)
	`

	transactionColumns = `
		transaction_id,
		account_id,
		type,
		amount,
		coalesce(payment_reference,''),
		coalesce(metadata::text,'{}'),
		extract(epoch from created_at)::bigint
	`

	sqlSelectTransactionByReference = `select ` + transactionColumns + ` from ledger_transactions where payment_reference = $1`

	sqlListTransactions = `
		select ` + transactionColumns + `
		from ledger_transactions
		where account_id = $1
		order by created_at desc, entry_seq desc
		limit $2
	`

	featureCostColumns = `feature_key, token_cost, active, description`

	sqlSelectFeatureCost = `select ` + featureCostColumns + ` from feature_costs where feature_key = $1`

	sqlListFeatureCosts = `select ` + featureCostColumns + ` from feature_costs order by feature_key`

	sqlUpsertFeatureCost = `
		insert into feature_costs(feature_key, token_cost, active, description) values($1, $2, $3, $4)
		on conflict (feature_key) do update
		set token_cost = excluded.token_cost, active = excluded.active, description = excluded.description, updated_at = now()
	`

	tokenPackageColumns = `package_id, name, tokens, price_minor_units, currency, external_product_ref, active`

	sqlSelectTokenPackage = `select ` + tokenPackageColumns + ` from token_packages where package_id = $1`

	sqlListTokenPackages = `select ` + tokenPackageColumns + ` from token_packages order by tokens, package_id`

	sqlUpsertTokenPackage = `
		insert into token_packages(` + tokenPackageColumns + `) values($1, $2, $3, $4, $5, $6, $7)
		on conflict (package_id) do update
		set name = excluded.name, tokens = excluded.tokens, price_minor_units = excluded.price_minor_units,
			currency = excluded.currency, external_product_ref = excluded.external_product_ref,
			active = excluded.active, updated_at = now()
	`

	sqlInsertPendingPurchase = `
		insert into pending_purchases(payment_reference, account_id, package_id, status, created_at, completed_at)
		values($1, $2, $3, $4, to_timestamp($5), to_timestamp(nullif($6::bigint,0)))
	`

	sqlSelectPendingPurchase = `
		select
			payment_reference,
			account_id,
			package_id,
			status,
			extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from completed_at)::bigint,0)
		from pending_purchases
		where payment_reference = $1
	`

	sqlTransitionPendingPurchase = `
		update pending_purchases
		set status = $3::text,
			completed_at = case when $3::text = 'completed' then to_timestamp($4) else completed_at end
		where payment_reference = $1 and status = any($2)
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// statements holds every query shared by the pool-backed and transaction-backed stores.
type statements struct {
	db querier
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	statements
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	statements
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{statements: statements{db: pool}, pool: pool}
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapFailure(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapFailure(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{statements: statements{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapFailure(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx runs fn inside the already-open transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store statements) EnsureBalance(ctx context.Context, accountID ledger.AccountID) error {
	if _, err := store.db.Exec(ctx, sqlEnsureBalance, accountID.String()); err != nil {
		return wrapFailure(errorSubjectBalance, errorCodeCreate, err)
	}
	return nil
}

func (store statements) GetBalance(ctx context.Context, accountID ledger.AccountID) (ledger.Balance, error) {
	balance, err := scanBalance(store.db.QueryRow(ctx, sqlSelectBalance, accountID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Balance{}, classifyScanError(errorSubjectBalance, errorCodeGet, err)
	}
	return balance, nil
}

func (store statements) IncrementBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveTokenAmount, counter ledger.LifetimeCounter) (ledger.Balance, error) {
	query := sqlIncrementEarned
	if counter == ledger.CounterPurchased {
		query = sqlIncrementPurchased
	}
	balance, err := scanBalance(store.db.QueryRow(ctx, query, accountID.String(), amount.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Balance{}, classifyScanError(errorSubjectBalance, errorCodeUpdate, err)
	}
	return balance, nil
}

// DecrementBalanceIfSufficient performs the check and the write as one conditional UPDATE.
func (store statements) DecrementBalanceIfSufficient(ctx context.Context, accountID ledger.AccountID, amount ledger.TokenAmount) (ledger.Balance, error) {
	balance, err := scanBalance(store.db.QueryRow(ctx, sqlDecrementIfSufficient, accountID.String(), amount.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, ledger.ErrInsufficientBalance
	}
	if err != nil {
		return ledger.Balance{}, classifyScanError(errorSubjectBalance, errorCodeUpdate, err)
	}
	return balance, nil
}

func (store statements) SetUnlimited(ctx context.Context, accountID ledger.AccountID, unlimited bool) error {
	tag, err := store.db.Exec(ctx, sqlSetUnlimited, accountID.String(), unlimited)
	if err != nil {
		return wrapFailure(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store statements) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID.String(),
		transaction.AccountID.String(),
		transaction.Type.String(),
		transaction.Amount.Int64(),
		transaction.PaymentReference.String(),
		transaction.Metadata.String(),
		transaction.CreatedUnixUTC,
	)
	if isPaymentReferenceConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicatePaymentReference)
	}
	if err != nil {
		return wrapFailure(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store statements) FindTransactionByReference(ctx context.Context, reference ledger.PaymentReference) (ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlSelectTransactionByReference, reference.String())
	if err != nil {
		return ledger.Transaction{}, wrapFailure(errorSubjectTransaction, errorCodeGet, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return ledger.Transaction{}, classifyScanError(errorSubjectTransaction, errorCodeGet, err)
	}
	if len(transactions) == 0 {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
	}
	return transactions[0], nil
}

func (store statements) ListTransactions(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Transaction, error) {
	var limitArgument any
	if limit > 0 {
		limitArgument = limit
	}
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID.String(), limitArgument)
	if err != nil {
		return nil, wrapFailure(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, classifyScanError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store statements) FeatureCost(ctx context.Context, key ledger.FeatureKey) (ledger.FeatureCost, error) {
	featureCost, err := scanFeatureCost(store.db.QueryRow(ctx, sqlSelectFeatureCost, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.FeatureCost{}, ledger.ErrConfigurationGap
	}
	if err != nil {
		return ledger.FeatureCost{}, classifyScanError(errorSubjectCatalog, errorCodeGet, err)
	}
	return featureCost, nil
}

func (store statements) ListFeatureCosts(ctx context.Context) ([]ledger.FeatureCost, error) {
	rows, err := store.db.Query(ctx, sqlListFeatureCosts)
	if err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	defer rows.Close()
	featureCosts := make([]ledger.FeatureCost, 0, 16)
	for rows.Next() {
		featureCost, err := scanFeatureCost(rows)
		if err != nil {
			return nil, classifyScanError(errorSubjectCatalog, errorCodeList, err)
		}
		featureCosts = append(featureCosts, featureCost)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	return featureCosts, nil
}

func (store statements) UpsertFeatureCost(ctx context.Context, featureCost ledger.FeatureCost) error {
	_, err := store.db.Exec(ctx, sqlUpsertFeatureCost,
		featureCost.Key.String(),
		featureCost.TokenCost.Int64(),
		featureCost.Active,
		featureCost.Description,
	)
	if err != nil {
		return wrapFailure(errorSubjectCatalog, errorCodeUpsert, err)
	}
	return nil
}

func (store statements) TokenPackage(ctx context.Context, packageID ledger.PackageID) (ledger.TokenPackage, error) {
	tokenPackage, err := scanTokenPackage(store.db.QueryRow(ctx, sqlSelectTokenPackage, packageID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.TokenPackage{}, ledger.ErrConfigurationGap
	}
	if err != nil {
		return ledger.TokenPackage{}, classifyScanError(errorSubjectCatalog, errorCodeGet, err)
	}
	return tokenPackage, nil
}

func (store statements) ListTokenPackages(ctx context.Context) ([]ledger.TokenPackage, error) {
	rows, err := store.db.Query(ctx, sqlListTokenPackages)
	if err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	defer rows.Close()
	tokenPackages := make([]ledger.TokenPackage, 0, 8)
	for rows.Next() {
		tokenPackage, err := scanTokenPackage(rows)
		if err != nil {
			return nil, classifyScanError(errorSubjectCatalog, errorCodeList, err)
		}
		tokenPackages = append(tokenPackages, tokenPackage)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	return tokenPackages, nil
}

func (store statements) UpsertTokenPackage(ctx context.Context, tokenPackage ledger.TokenPackage) error {
	_, err := store.db.Exec(ctx, sqlUpsertTokenPackage,
		tokenPackage.ID.String(),
		tokenPackage.Name,
		tokenPackage.Tokens.Int64(),
		tokenPackage.PriceMinorUnits,
		tokenPackage.Currency,
		tokenPackage.ExternalProductRef,
		tokenPackage.Active,
	)
	if err != nil {
		return wrapFailure(errorSubjectCatalog, errorCodeUpsert, err)
	}
	return nil
}

func (store statements) CreatePendingPurchase(ctx context.Context, purchase ledger.PendingPurchase) error {
	_, err := store.db.Exec(ctx, sqlInsertPendingPurchase,
		purchase.PaymentReference.String(),
		purchase.AccountID.String(),
		purchase.PackageID.String(),
		purchase.Status.String(),
		purchase.CreatedUnixUTC,
		purchase.CompletedUnixUTC,
	)
	if isPendingPurchaseConflict(err) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, ledger.ErrPurchaseExists)
	}
	if err != nil {
		return wrapFailure(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store statements) GetPendingPurchase(ctx context.Context, reference ledger.PaymentReference) (ledger.PendingPurchase, error) {
	var (
		referenceValue   string
		accountValue     string
		packageValue     string
		statusValue      string
		createdUnixUTC   int64
		completedUnixUTC int64
	)
	err := store.db.QueryRow(ctx, sqlSelectPendingPurchase, reference.String()).Scan(
		&referenceValue,
		&accountValue,
		&packageValue,
		&statusValue,
		&createdUnixUTC,
		&completedUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PendingPurchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, ledger.ErrUnknownPurchase)
	}
	if err != nil {
		return ledger.PendingPurchase{}, wrapFailure(errorSubjectPurchase, errorCodeGet, err)
	}
	purchase, err := mapPendingPurchase(referenceValue, accountValue, packageValue, statusValue, createdUnixUTC, completedUnixUTC)
	if err != nil {
		return ledger.PendingPurchase{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	return purchase, nil
}

func (store statements) TransitionPendingPurchase(ctx context.Context, reference ledger.PaymentReference, from []ledger.PurchaseStatus, to ledger.PurchaseStatus, atUnixUTC int64) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	fromValues := make([]string, 0, len(from))
	for _, status := range from {
		fromValues = append(fromValues, status.String())
	}
	tag, err := store.db.Exec(ctx, sqlTransitionPendingPurchase, reference.String(), fromValues, to.String(), atUnixUTC)
	if err != nil {
		return false, wrapFailure(errorSubjectPurchase, errorCodeUpdate, err)
	}
	return tag.RowsAffected() > 0, nil
}

// invalidRowError marks a row that scanned cleanly but failed domain validation.
type invalidRowError struct {
	err error
}

func (invalid invalidRowError) Error() string { return invalid.err.Error() }

func (invalid invalidRowError) Unwrap() error { return invalid.err }

func classifyScanError(subject string, code string, err error) error {
	var invalid invalidRowError
	if errors.As(err, &invalid) {
		return wrapStoreError(subject, errorCodeInvalid, invalid.err)
	}
	return wrapFailure(subject, code, err)
}

func scanBalance(row pgx.Row) (ledger.Balance, error) {
	var (
		accountValue   string
		balanceValue   int64
		earnedValue    int64
		purchasedValue int64
		spentValue     int64
		unlimitedValue bool
	)
	if err := row.Scan(&accountValue, &balanceValue, &earnedValue, &purchasedValue, &spentValue, &unlimitedValue); err != nil {
		return ledger.Balance{}, err
	}
	accountID, err := ledger.NewAccountID(accountValue)
	if err != nil {
		return ledger.Balance{}, invalidRowError{err: err}
	}
	amounts := make([]ledger.TokenAmount, 0, 4)
	for _, raw := range []int64{balanceValue, earnedValue, purchasedValue, spentValue} {
		amount, err := ledger.NewTokenAmount(raw)
		if err != nil {
			return ledger.Balance{}, invalidRowError{err: err}
		}
		amounts = append(amounts, amount)
	}
	return ledger.Balance{
		AccountID:         accountID,
		Balance:           amounts[0],
		LifetimeEarned:    amounts[1],
		LifetimePurchased: amounts[2],
		LifetimeSpent:     amounts[3],
		Unlimited:         unlimitedValue,
	}, nil
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	transactions := make([]ledger.Transaction, 0, 32)
	for rows.Next() {
		var (
			transactionValue string
			accountValue     string
			typeValue        string
			amountValue      int64
			referenceValue   string
			metadataValue    string
			createdUnixUTC   int64
		)
		if err := rows.Scan(
			&transactionValue,
			&accountValue,
			&typeValue,
			&amountValue,
			&referenceValue,
			&metadataValue,
			&createdUnixUTC,
		); err != nil {
			return nil, err
		}
		transaction, err := mapTransaction(transactionValue, accountValue, typeValue, amountValue, referenceValue, metadataValue, createdUnixUTC)
		if err != nil {
			return nil, invalidRowError{err: err}
		}
		transactions = append(transactions, transaction)
	}
	return transactions, rows.Err()
}

func mapTransaction(transactionValue, accountValue, typeValue string, amountValue int64, referenceValue, metadataValue string, createdUnixUTC int64) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(transactionValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	accountID, err := ledger.NewAccountID(accountValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(typeValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var reference ledger.PaymentReference
	if referenceValue != "" {
		reference, err = ledger.NewPaymentReference(referenceValue)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	metadata, err := ledger.NewMetadataJSON(metadataValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.NewTransaction(transactionID, accountID, transactionType, ledger.SignedTokenAmount(amountValue), reference, metadata, createdUnixUTC)
}

func scanFeatureCost(row pgx.Row) (ledger.FeatureCost, error) {
	var (
		keyValue    string
		costValue   int64
		activeValue bool
		description string
	)
	if err := row.Scan(&keyValue, &costValue, &activeValue, &description); err != nil {
		return ledger.FeatureCost{}, err
	}
	key, err := ledger.NewFeatureKey(keyValue)
	if err != nil {
		return ledger.FeatureCost{}, invalidRowError{err: err}
	}
	featureCost, err := ledger.NewFeatureCost(key, costValue, activeValue, description)
	if err != nil {
		return ledger.FeatureCost{}, invalidRowError{err: err}
	}
	return featureCost, nil
}

func scanTokenPackage(row pgx.Row) (ledger.TokenPackage, error) {
	var (
		packageValue string
		name         string
		tokens       int64
		price        int64
		currency     string
		productRef   string
		activeValue  bool
	)
	if err := row.Scan(&packageValue, &name, &tokens, &price, &currency, &productRef, &activeValue); err != nil {
		return ledger.TokenPackage{}, err
	}
	packageID, err := ledger.NewPackageID(packageValue)
	if err != nil {
		return ledger.TokenPackage{}, invalidRowError{err: err}
	}
	tokenPackage, err := ledger.NewTokenPackage(packageID, name, tokens, price, currency, productRef, activeValue)
	if err != nil {
		return ledger.TokenPackage{}, invalidRowError{err: err}
	}
	return tokenPackage, nil
}

func mapPendingPurchase(referenceValue, accountValue, packageValue, statusValue string, createdUnixUTC, completedUnixUTC int64) (ledger.PendingPurchase, error) {
	reference, err := ledger.NewPaymentReference(referenceValue)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	accountID, err := ledger.NewAccountID(accountValue)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	packageID, err := ledger.NewPackageID(packageValue)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	status, err := ledger.ParsePurchaseStatus(statusValue)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	return ledger.NewPendingPurchase(reference, accountID, packageID, status, createdUnixUTC, completedUnixUTC)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapFailure(subject string, code string, err error) error {
	return wrapStoreError(subject, code, ledger.StoreFailure(err))
}

func isPaymentReferenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode &&
			(pgErr.ConstraintName == constraintPaymentReference || pgErr.ConstraintName == constraintPaymentReferenceIndex)
	}
	return false
}

func isPendingPurchaseConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPendingPurchasePrimary
	}
	return false
}
