package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

func executeCommand(test *testing.T, args ...string) (string, error) {
	test.Helper()
	cmd := newRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestResolveDriver(test *testing.T) {
	test.Parallel()
	directory := test.TempDir()
	testCases := []struct {
		name         string
		databaseURL  string
		wantDatabase string
		wantPath     string
	}{
		{name: "postgres", databaseURL: "postgres://user@localhost/ledger", wantDatabase: databasePostgres},
		{name: "postgresql scheme", databaseURL: "postgresql://user@localhost/ledger", wantDatabase: databasePostgres},
		{name: "sqlite url", databaseURL: "sqlite://" + filepath.Join(directory, "url.db"), wantDatabase: databaseSQLite, wantPath: filepath.Join(directory, "url.db")},
		{name: "bare path", databaseURL: filepath.Join(directory, "nested", "bare.db"), wantDatabase: databaseSQLite, wantPath: filepath.Join(directory, "nested", "bare.db")},
		{name: "memory", databaseURL: ":memory:", wantDatabase: databaseSQLite, wantPath: ":memory:"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			database, path, err := resolveDriver(testCase.databaseURL)
			if err != nil {
				test.Fatalf("resolve: %v", err)
			}
			if database != testCase.wantDatabase || path != testCase.wantPath {
				test.Fatalf("expected %s %q, got %s %q", testCase.wantDatabase, testCase.wantPath, database, path)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(directory, "nested")); err != nil {
		test.Fatalf("expected sqlite directory to be created: %v", err)
	}
}

func TestRuntimeConfigValidate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		config  runtimeConfig
		wantErr string
	}{
		{name: "gorm sqlite", config: runtimeConfig{DatabaseURL: "ledger.db", StoreDriver: driverGorm}},
		{name: "pgx postgres", config: runtimeConfig{DatabaseURL: "postgres://localhost/ledger", StoreDriver: driverPgx}},
		{name: "pgx sqlite", config: runtimeConfig{DatabaseURL: "ledger.db", StoreDriver: driverPgx}, wantErr: "requires a postgres"},
		{name: "unknown driver", config: runtimeConfig{DatabaseURL: "ledger.db", StoreDriver: "mongo"}, wantErr: "unsupported"},
		{name: "missing database", config: runtimeConfig{StoreDriver: driverGorm}, wantErr: flagDatabaseURL},
		{name: "half stripe", config: runtimeConfig{DatabaseURL: "ledger.db", StoreDriver: driverGorm, StripeSecretKey: "sk_test"}, wantErr: "set together"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			err := testCase.config.validate()
			if testCase.wantErr == "" {
				if err != nil {
					test.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				test.Fatalf("expected error containing %q, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestBuildCreditRequest(test *testing.T) {
	test.Parallel()
	request, err := buildCreditRequest("user-1", 25, "", "grant", `{"reason":"support"}`)
	if err != nil {
		test.Fatalf("build: %v", err)
	}
	if request.Type != ledger.TransactionGrant || request.Amount.Int64() != 25 {
		test.Fatalf("unexpected request: %+v", request)
	}
	metadata := request.Metadata.Map()
	if metadata["reason"] != "support" || metadata[metadataSource] != sourceCLI {
		test.Fatalf("unexpected metadata: %v", metadata)
	}
	if _, err := buildCreditRequest("user-1", 0, "", "grant", ""); !errors.Is(err, ledger.ErrInvalidTokenAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := buildCreditRequest("user-1", 5, "", "bonus", ""); !errors.Is(err, ledger.ErrInvalidTransactionType) {
		test.Fatalf("expected invalid type, got %v", err)
	}
	if _, err := buildCreditRequest("user-1", 5, "", "grant", "[]"); !errors.Is(err, ledger.ErrInvalidMetadataJSON) {
		test.Fatalf("expected invalid metadata, got %v", err)
	}
}

func TestAdminCommandsAgainstSQLite(test *testing.T) {
	databaseURL := "sqlite://" + filepath.Join(test.TempDir(), "admin.db")
	catalogPath := filepath.Join(test.TempDir(), "catalog.yaml")
	catalogYAML := "features:\n  - key: summarize\n    token_cost: 3\npackages:\n  - id: starter\n    name: Starter\n    tokens: 100\n    price_minor_units: 499\n"
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0o600); err != nil {
		test.Fatalf("write catalog: %v", err)
	}

	steps := []struct {
		name       string
		args       []string
		wantOutput string
	}{
		{name: "migrate", args: []string{"migrate"}, wantOutput: "schema ready"},
		{name: "catalog", args: []string{"catalog", "load", catalogPath}, wantOutput: "applied 1 features and 1 packages"},
		{name: "grant", args: []string{"grant", "--account", "admin-user", "--amount", "40", "--reference", "manual-1"}, wantOutput: "credited 40 tokens"},
		{name: "grant replay", args: []string{"grant", "--account", "admin-user", "--amount", "40", "--reference", "manual-1"}, wantOutput: "already applied"},
		{name: "unlimited", args: []string{"unlimited", "--account", "admin-user", "--enabled=false"}, wantOutput: "unlimited=false"},
		{name: "reconcile", args: []string{"reconcile", "--account", "admin-user"}, wantOutput: "consistent"},
	}
	for _, step := range steps {
		args := append([]string{"--database-url", databaseURL}, step.args...)
		output, err := executeCommand(test, args...)
		if err != nil {
			test.Fatalf("%s: %v", step.name, err)
		}
		if !strings.Contains(output, step.wantOutput) {
			test.Fatalf("%s: expected output containing %q, got %q", step.name, step.wantOutput, output)
		}
	}

	if _, err := executeCommand(test, "--database-url", databaseURL, "grant", "--account", "admin-user", "--amount", "5", "--type", "debit"); !errors.Is(err, ledger.ErrUnsupportedTransactionType) {
		test.Fatalf("expected unsupported credit type, got %v", err)
	}
}
