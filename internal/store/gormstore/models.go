package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// TokenBalance mirrors the token_balances table.
type TokenBalance struct {
	AccountID         string    `gorm:"primaryKey"`
	Balance           int64     `gorm:"not null"`
	LifetimeEarned    int64     `gorm:"not null"`
	LifetimePurchased int64     `gorm:"not null"`
	LifetimeSpent     int64     `gorm:"not null"`
	Unlimited         bool      `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (TokenBalance) TableName() string { return "token_balances" }

// LedgerTransaction mirrors the ledger_transactions table.
// EntrySeq breaks ties between rows written within the same second.
type LedgerTransaction struct {
	EntrySeq         int64          `gorm:"primaryKey;autoIncrement"`
	TransactionID    string         `gorm:"not null;uniqueIndex:idx_ledger_transactions_id"`
	AccountID        string         `gorm:"not null;index:idx_ledger_transactions_account_created,priority:1"`
	Type             string         `gorm:"not null"`
	Amount           int64          `gorm:"not null"`
	PaymentReference *string        `gorm:"uniqueIndex:idx_ledger_transactions_payment_reference"`
	Metadata         datatypes.JSON `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_ledger_transactions_account_created,priority:2"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// FeatureCostRecord mirrors the feature_costs table.
type FeatureCostRecord struct {
	FeatureKey  string    `gorm:"primaryKey"`
	TokenCost   int64     `gorm:"not null"`
	Active      bool      `gorm:"not null"`
	Description string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (FeatureCostRecord) TableName() string { return "feature_costs" }

// TokenPackageRecord mirrors the token_packages table.
type TokenPackageRecord struct {
	PackageID          string    `gorm:"primaryKey"`
	Name               string    `gorm:"not null"`
	Tokens             int64     `gorm:"not null"`
	PriceMinorUnits    int64     `gorm:"not null"`
	Currency           string    `gorm:"not null"`
	ExternalProductRef string    `gorm:"not null"`
	Active             bool      `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (TokenPackageRecord) TableName() string { return "token_packages" }

// PendingPurchaseRecord mirrors the pending_purchases table.
type PendingPurchaseRecord struct {
	PaymentReference string     `gorm:"primaryKey"`
	AccountID        string     `gorm:"not null;index:idx_pending_purchases_account"`
	PackageID        string     `gorm:"not null"`
	Status           string     `gorm:"not null"`
	CreatedAt        time.Time  `gorm:"not null"`
	CompletedAt      *time.Time `gorm:""`
}

func (PendingPurchaseRecord) TableName() string { return "pending_purchases" }

// Models lists every table managed by this package in migration order.
func Models() []any {
	return []any{
		&TokenBalance{},
		&LedgerTransaction{},
		&FeatureCostRecord{},
		&TokenPackageRecord{},
		&PendingPurchaseRecord{},
	}
}
