package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectCatalog     = "catalog"
	errorSubjectPurchase    = "purchase"
	errorSubjectSchema      = "schema"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMigrate        = "migrate"
	errorCodeUpdate         = "update"
	errorCodeUpsert         = "upsert"
	columnBalance           = "balance"
	columnLifetimeEarned    = "lifetime_earned"
	columnLifetimePurchased = "lifetime_purchased"
	columnLifetimeSpent     = "lifetime_spent"
	columnUpdatedAt         = "updated_at"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the store needs.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapFailure(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	var callbackErr error
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		callbackErr = fn(ctx, &Store{db: transaction})
		return callbackErr
	})
	if err != nil && callbackErr == nil {
		return wrapFailure(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

func (store *Store) EnsureBalance(ctx context.Context, accountID ledger.AccountID) error {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TokenBalance{AccountID: accountID.String()}).Error
	if err != nil {
		return wrapFailure(errorSubjectBalance, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, accountID ledger.AccountID) (ledger.Balance, error) {
	var row TokenBalance
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Balance{}, wrapFailure(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := mapBalance(row)
	if err != nil {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) IncrementBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveTokenAmount, counter ledger.LifetimeCounter) (ledger.Balance, error) {
	lifetimeColumn := columnLifetimeEarned
	if counter == ledger.CounterPurchased {
		lifetimeColumn = columnLifetimePurchased
	}
	result := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]any{
			columnBalance:   gorm.Expr(columnBalance+" + ?", amount.Int64()),
			lifetimeColumn:  gorm.Expr(lifetimeColumn+" + ?", amount.Int64()),
			columnUpdatedAt: time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Balance{}, wrapFailure(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return store.GetBalance(ctx, accountID)
}

// DecrementBalanceIfSufficient performs the check and the write as one conditional UPDATE.
func (store *Store) DecrementBalanceIfSufficient(ctx context.Context, accountID ledger.AccountID, amount ledger.TokenAmount) (ledger.Balance, error) {
	result := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Where("account_id = ? AND balance >= ?", accountID.String(), amount.Int64()).
		Updates(map[string]any{
			columnBalance:       gorm.Expr(columnBalance+" - ?", amount.Int64()),
			columnLifetimeSpent: gorm.Expr(columnLifetimeSpent+" + ?", amount.Int64()),
			columnUpdatedAt:     time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Balance{}, wrapFailure(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.Balance{}, ledger.ErrInsufficientBalance
	}
	return store.GetBalance(ctx, accountID)
}

func (store *Store) SetUnlimited(ctx context.Context, accountID ledger.AccountID, unlimited bool) error {
	result := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]any{"unlimited": unlimited, columnUpdatedAt: time.Now().UTC()})
	if result.Error != nil {
		return wrapFailure(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	var paymentReference *string
	if !transaction.PaymentReference.IsZero() {
		value := transaction.PaymentReference.String()
		paymentReference = &value
	}
	row := LedgerTransaction{
		TransactionID:    transaction.ID.String(),
		AccountID:        transaction.AccountID.String(),
		Type:             transaction.Type.String(),
		Amount:           transaction.Amount.Int64(),
		PaymentReference: paymentReference,
		Metadata:         datatypesJSON(transaction.Metadata.String()),
		CreatedAt:        time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if transaction.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicatePaymentReference)
	}
	if err != nil {
		return wrapFailure(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindTransactionByReference(ctx context.Context, reference ledger.PaymentReference) (ledger.Transaction, error) {
	var row LedgerTransaction
	err := store.db.WithContext(ctx).Where("payment_reference = ?", reference.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
	}
	if err != nil {
		return ledger.Transaction{}, wrapFailure(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC").
		Order("entry_seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []LedgerTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapFailure(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) FeatureCost(ctx context.Context, key ledger.FeatureKey) (ledger.FeatureCost, error) {
	var row FeatureCostRecord
	err := store.db.WithContext(ctx).Where("feature_key = ?", key.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.FeatureCost{}, ledger.ErrConfigurationGap
	}
	if err != nil {
		return ledger.FeatureCost{}, wrapFailure(errorSubjectCatalog, errorCodeGet, err)
	}
	featureCost, err := mapFeatureCost(row)
	if err != nil {
		return ledger.FeatureCost{}, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
	}
	return featureCost, nil
}

func (store *Store) ListFeatureCosts(ctx context.Context) ([]ledger.FeatureCost, error) {
	var rows []FeatureCostRecord
	if err := store.db.WithContext(ctx).Order("feature_key").Find(&rows).Error; err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	featureCosts := make([]ledger.FeatureCost, 0, len(rows))
	for _, row := range rows {
		featureCost, err := mapFeatureCost(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
		}
		featureCosts = append(featureCosts, featureCost)
	}
	return featureCosts, nil
}

func (store *Store) UpsertFeatureCost(ctx context.Context, featureCost ledger.FeatureCost) error {
	row := FeatureCostRecord{
		FeatureKey:  featureCost.Key.String(),
		TokenCost:   featureCost.TokenCost.Int64(),
		Active:      featureCost.Active,
		Description: featureCost.Description,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "feature_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_cost", "active", "description", columnUpdatedAt}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapFailure(errorSubjectCatalog, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) TokenPackage(ctx context.Context, packageID ledger.PackageID) (ledger.TokenPackage, error) {
	var row TokenPackageRecord
	err := store.db.WithContext(ctx).Where("package_id = ?", packageID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.TokenPackage{}, ledger.ErrConfigurationGap
	}
	if err != nil {
		return ledger.TokenPackage{}, wrapFailure(errorSubjectCatalog, errorCodeGet, err)
	}
	tokenPackage, err := mapTokenPackage(row)
	if err != nil {
		return ledger.TokenPackage{}, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
	}
	return tokenPackage, nil
}

func (store *Store) ListTokenPackages(ctx context.Context) ([]ledger.TokenPackage, error) {
	var rows []TokenPackageRecord
	if err := store.db.WithContext(ctx).Order("tokens").Order("package_id").Find(&rows).Error; err != nil {
		return nil, wrapFailure(errorSubjectCatalog, errorCodeList, err)
	}
	tokenPackages := make([]ledger.TokenPackage, 0, len(rows))
	for _, row := range rows {
		tokenPackage, err := mapTokenPackage(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
		}
		tokenPackages = append(tokenPackages, tokenPackage)
	}
	return tokenPackages, nil
}

func (store *Store) UpsertTokenPackage(ctx context.Context, tokenPackage ledger.TokenPackage) error {
	row := TokenPackageRecord{
		PackageID:          tokenPackage.ID.String(),
		Name:               tokenPackage.Name,
		Tokens:             tokenPackage.Tokens.Int64(),
		PriceMinorUnits:    tokenPackage.PriceMinorUnits,
		Currency:           tokenPackage.Currency,
		ExternalProductRef: tokenPackage.ExternalProductRef,
		Active:             tokenPackage.Active,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "package_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "tokens", "price_minor_units", "currency", "external_product_ref", "active", columnUpdatedAt}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapFailure(errorSubjectCatalog, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) CreatePendingPurchase(ctx context.Context, purchase ledger.PendingPurchase) error {
	row := PendingPurchaseRecord{
		PaymentReference: purchase.PaymentReference.String(),
		AccountID:        purchase.AccountID.String(),
		PackageID:        purchase.PackageID.String(),
		Status:           purchase.Status.String(),
		CreatedAt:        time.Unix(purchase.CreatedUnixUTC, 0).UTC(),
	}
	if purchase.CompletedUnixUTC != 0 {
		completedAt := time.Unix(purchase.CompletedUnixUTC, 0).UTC()
		row.CompletedAt = &completedAt
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, ledger.ErrPurchaseExists)
	}
	if err != nil {
		return wrapFailure(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPendingPurchase(ctx context.Context, reference ledger.PaymentReference) (ledger.PendingPurchase, error) {
	var row PendingPurchaseRecord
	err := store.db.WithContext(ctx).Where("payment_reference = ?", reference.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.PendingPurchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, ledger.ErrUnknownPurchase)
	}
	if err != nil {
		return ledger.PendingPurchase{}, wrapFailure(errorSubjectPurchase, errorCodeGet, err)
	}
	purchase, err := mapPendingPurchase(row)
	if err != nil {
		return ledger.PendingPurchase{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	return purchase, nil
}

func (store *Store) TransitionPendingPurchase(ctx context.Context, reference ledger.PaymentReference, from []ledger.PurchaseStatus, to ledger.PurchaseStatus, atUnixUTC int64) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	fromValues := make([]string, 0, len(from))
	for _, status := range from {
		fromValues = append(fromValues, status.String())
	}
	updates := map[string]any{"status": to.String()}
	if to == ledger.PurchaseStatusCompleted {
		updates["completed_at"] = time.Unix(atUnixUTC, 0).UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&PendingPurchaseRecord{}).
		Where("payment_reference = ? AND status IN ?", reference.String(), fromValues).
		Updates(updates)
	if result.Error != nil {
		return false, wrapFailure(errorSubjectPurchase, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapFailure(subject string, code string, err error) error {
	return wrapStoreError(subject, code, ledger.StoreFailure(err))
}

func mapBalance(row TokenBalance) (ledger.Balance, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Balance{}, err
	}
	counters := make([]ledger.TokenAmount, 0, 4)
	for _, raw := range []int64{row.Balance, row.LifetimeEarned, row.LifetimePurchased, row.LifetimeSpent} {
		amount, err := ledger.NewTokenAmount(raw)
		if err != nil {
			return ledger.Balance{}, err
		}
		counters = append(counters, amount)
	}
	return ledger.Balance{
		AccountID:         accountID,
		Balance:           counters[0],
		LifetimeEarned:    counters[1],
		LifetimePurchased: counters[2],
		LifetimeSpent:     counters[3],
		Unlimited:         row.Unlimited,
	}, nil
}

func mapTransaction(row LedgerTransaction) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var reference ledger.PaymentReference
	if row.PaymentReference != nil {
		reference, err = ledger.NewPaymentReference(*row.PaymentReference)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.NewTransaction(transactionID, accountID, transactionType, ledger.SignedTokenAmount(row.Amount), reference, metadata, row.CreatedAt.Unix())
}

func mapFeatureCost(row FeatureCostRecord) (ledger.FeatureCost, error) {
	key, err := ledger.NewFeatureKey(row.FeatureKey)
	if err != nil {
		return ledger.FeatureCost{}, err
	}
	return ledger.NewFeatureCost(key, row.TokenCost, row.Active, row.Description)
}

func mapTokenPackage(row TokenPackageRecord) (ledger.TokenPackage, error) {
	packageID, err := ledger.NewPackageID(row.PackageID)
	if err != nil {
		return ledger.TokenPackage{}, err
	}
	return ledger.NewTokenPackage(packageID, row.Name, row.Tokens, row.PriceMinorUnits, row.Currency, row.ExternalProductRef, row.Active)
}

func mapPendingPurchase(row PendingPurchaseRecord) (ledger.PendingPurchase, error) {
	reference, err := ledger.NewPaymentReference(row.PaymentReference)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	packageID, err := ledger.NewPackageID(row.PackageID)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	status, err := ledger.ParsePurchaseStatus(row.Status)
	if err != nil {
		return ledger.PendingPurchase{}, err
	}
	var completedUnixUTC int64
	if row.CompletedAt != nil {
		completedUnixUTC = row.CompletedAt.Unix()
	}
	return ledger.NewPendingPurchase(reference, accountID, packageID, status, row.CreatedAt.Unix(), completedUnixUTC)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
