package main

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/catalog"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagAccount   = "account"
	flagAmount    = "amount"
	flagReference = "reference"
	flagType      = "type"
	flagEnabled   = "enabled"
	flagMetadata  = "metadata"

	metadataSource = "source"
	sourceCLI      = "tokenledgerd"
)

// withLedger opens the store, runs fn against a ledger service and closes the store.
func withLedger(ctx context.Context, cfg *runtimeConfig, fn func(ctx context.Context, service *ledger.Service) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer opened.close()
	if opened.database == databaseSQLite {
		if err := opened.migrate(ctx); err != nil {
			return err
		}
	}
	service, err := newLedgerService(opened.store, logger, metrics.NewRecorder())
	if err != nil {
		return err
	}
	return fn(ctx, service)
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer opened.close()
			if err := opened.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s, %s)\n", opened.database, cfg.StoreDriver)
			return nil
		},
	}
}

func newCatalogCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage feature costs and token packages",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Upsert feature costs and token packages from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
				if err := loaded.Apply(ctx, service); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d features and %d packages\n", len(loaded.Features), len(loaded.Packages))
				return nil
			})
		},
	})
	return cmd
}

func newGrantCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		account     string
		amount      int64
		reference   string
		creditType  string
		rawMetadata string
	)
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Credit tokens to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := buildCreditRequest(account, amount, reference, creditType, rawMetadata)
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
				result, err := service.Credit(ctx, request)
				if err != nil {
					return err
				}
				if result.AlreadyApplied {
					fmt.Fprintf(cmd.OutOrStdout(), "reference already applied as %s; balance %d\n", result.TransactionID.String(), result.NewBalance.Int64())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "credited %d tokens as %s; balance %d\n", request.Amount.Int64(), result.TransactionID.String(), result.NewBalance.Int64())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, flagAccount, "", "account id")
	cmd.Flags().Int64Var(&amount, flagAmount, 0, "tokens to credit")
	cmd.Flags().StringVar(&reference, flagReference, "", "idempotency reference (required for purchase)")
	cmd.Flags().StringVar(&creditType, flagType, ledger.TransactionGrant.String(), "credit type: grant, purchase or refund")
	cmd.Flags().StringVar(&rawMetadata, flagMetadata, "", "metadata JSON object")
	_ = cmd.MarkFlagRequired(flagAccount)
	_ = cmd.MarkFlagRequired(flagAmount)
	return cmd
}

func buildCreditRequest(account string, amount int64, reference string, creditType string, rawMetadata string) (ledger.CreditRequest, error) {
	accountID, err := ledger.NewAccountID(account)
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	tokens, err := ledger.NewPositiveTokenAmount(amount)
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	transactionType, err := ledger.ParseTransactionType(creditType)
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	var paymentReference ledger.PaymentReference
	if reference != "" {
		paymentReference, err = ledger.NewPaymentReference(reference)
		if err != nil {
			return ledger.CreditRequest{}, err
		}
	}
	metadata, err := ledger.NewMetadataJSON(rawMetadata)
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	metadata, err = metadata.With(map[string]any{metadataSource: sourceCLI})
	if err != nil {
		return ledger.CreditRequest{}, err
	}
	return ledger.CreditRequest{
		AccountID:        accountID,
		Amount:           tokens,
		Type:             transactionType,
		PaymentReference: paymentReference,
		Metadata:         metadata,
	}, nil
}

func newUnlimitedCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		account string
		enabled bool
	)
	cmd := &cobra.Command{
		Use:   "unlimited",
		Short: "Set or clear the unlimited flag of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := ledger.NewAccountID(account)
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
				if err := service.SetUnlimited(ctx, accountID, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s unlimited=%t\n", accountID.String(), enabled)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, flagAccount, "", "account id")
	cmd.Flags().BoolVar(&enabled, flagEnabled, true, "whether the account bypasses balance checks")
	_ = cmd.MarkFlagRequired(flagAccount)
	return cmd
}

func newReconcileCommand(cfg *runtimeConfig) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay an account's transactions against its stored balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := ledger.NewAccountID(account)
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), cfg, func(ctx context.Context, service *ledger.Service) error {
				reconciliation, err := service.Reconcile(ctx, accountID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "transactions: %d\n", reconciliation.TransactionCount)
				fmt.Fprintf(out, "stored balance: %d, replayed: %d\n", reconciliation.Stored.Balance.Int64(), reconciliation.ReplayedBalance())
				if !reconciliation.Consistent() {
					return fmt.Errorf("account %s is inconsistent", accountID.String())
				}
				fmt.Fprintln(out, "consistent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, flagAccount, "", "account id")
	_ = cmd.MarkFlagRequired(flagAccount)
	return cmd
}
