package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		status string
		level  zapcore.Level
	}{
		{status: "ok", level: zapcore.InfoLevel},
		{status: "already_applied", level: zapcore.InfoLevel},
		{status: "insufficient_balance", level: zapcore.WarnLevel},
		{status: "configuration_gap", level: zapcore.WarnLevel},
		{status: "error", level: zapcore.ErrorLevel},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.status, func(test *testing.T) {
			test.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			New(zap.New(core)).LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", Status: testCase.status})
			entries := logs.All()
			if len(entries) != 1 {
				test.Fatalf("expected one entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.level {
				test.Fatalf("expected level %s, got %s", testCase.level, entries[0].Level)
			}
		})
	}
}

func TestLogOperationFields(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	accountID, err := ledger.NewAccountID("account-1")
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	reference, err := ledger.NewPaymentReference("pi_1")
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	New(zap.New(core)).LogOperation(context.Background(), ledger.OperationLog{
		Operation:        "credit",
		AccountID:        accountID,
		PaymentReference: reference,
		TransactionType:  ledger.TransactionPurchase,
		Amount:           100,
		Status:           "error",
		Error:            errors.New("store offline"),
	})

	entry := logs.All()[0]
	fields := entry.ContextMap()
	if entry.LoggerName != "ledger" {
		test.Fatalf("unexpected logger name %q", entry.LoggerName)
	}
	if fields["account_id"] != "account-1" || fields["payment_reference"] != "pi_1" || fields["transaction_type"] != "purchase" {
		test.Fatalf("unexpected fields: %v", fields)
	}
	if fields["amount"] != int64(100) || fields["error"] != "store offline" {
		test.Fatalf("unexpected fields: %v", fields)
	}
	if _, exists := fields["feature_key"]; exists {
		test.Fatalf("empty feature key should be omitted")
	}
}

func TestNewToleratesNilLogger(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), ledger.OperationLog{Operation: "debit", Status: "ok"})
}
