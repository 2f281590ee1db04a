// Package oplog writes ledger operation logs through zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	statusOK                  = "ok"
	statusAlreadyApplied      = "already_applied"
	statusInsufficientBalance = "insufficient_balance"
	statusConfigurationGap    = "configuration_gap"
)

// Logger adapts ledger.OperationLogger to a zap logger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger; a nil zap logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := make([]zap.Field, 0, 9)
	fields = append(fields,
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	)
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.String("account_id", entry.AccountID.String()))
	}
	if entry.FeatureKey.String() != "" {
		fields = append(fields, zap.String("feature_key", entry.FeatureKey.String()))
	}
	if !entry.PackageID.IsZero() {
		fields = append(fields, zap.String("package_id", entry.PackageID.String()))
	}
	if !entry.PaymentReference.IsZero() {
		fields = append(fields, zap.String("payment_reference", entry.PaymentReference.String()))
	}
	if entry.TransactionType != "" {
		fields = append(fields, zap.String("transaction_type", entry.TransactionType.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry.Status), "ledger operation", fields...)
}

func levelFor(status string) zapcore.Level {
	switch status {
	case statusOK, statusAlreadyApplied:
		return zapcore.InfoLevel
	case statusInsufficientBalance, statusConfigurationGap:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
