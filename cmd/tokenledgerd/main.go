package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig              = "config"
	flagDatabaseURL         = "database-url"
	flagStoreDriver         = "store-driver"
	flagHTTPListenAddr      = "http-listen-addr"
	flagGRPCListenAddr      = "grpc-listen-addr"
	flagLedgerTimeout       = "ledger-timeout"
	flagAllowedOrigins      = "allowed-origins"
	flagJWTSigningKey       = "jwt-signing-key"
	flagJWTIssuer           = "jwt-issuer"
	flagJWTCookieName       = "jwt-cookie-name"
	flagStripeSecretKey     = "stripe-secret-key"
	flagStripeWebhookSecret = "stripe-webhook-secret"
	envPrefix               = "TOKENLEDGER"

	driverGorm = "gorm"
	driverPgx  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/tokenledger.db"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
)

// runtimeConfig is resolved once, before any subcommand runs.
type runtimeConfig struct {
	DatabaseURL         string
	StoreDriver         string
	HTTPListenAddr      string
	GRPCListenAddr      string
	LedgerTimeout       time.Duration
	AllowedOrigins      string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	StripeSecretKey     string
	StripeWebhookSecret string
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tokenledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "tokenledgerd",
		Short:         "Token usage ledger: HTTP and gRPC server plus admin commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "optional YAML config file")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// URL or sqlite path")
	flags.String(flagStoreDriver, driverGorm, "store implementation: gorm or pgx (pgx requires postgres)")
	flags.String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	flags.Duration(flagLedgerTimeout, 3*time.Second, "per-request ledger timeout")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required by serve)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.String(flagStripeSecretKey, "", "Stripe secret key; purchases are disabled when empty")
	flags.String(flagStripeWebhookSecret, "", "Stripe webhook signing secret")

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newCatalogCommand(cfg),
		newGrantCommand(cfg),
		newUnlimitedCommand(cfg),
		newReconcileCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagConfig, flagDatabaseURL, flagStoreDriver, flagHTTPListenAddr, flagGRPCListenAddr, flagLedgerTimeout,
		flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagStripeSecretKey, flagStripeWebhookSecret,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	if configFile := strings.TrimSpace(v.GetString(flagConfig)); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.LedgerTimeout = v.GetDuration(flagLedgerTimeout)
	cfg.AllowedOrigins = v.GetString(flagAllowedOrigins)
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.StripeSecretKey = strings.TrimSpace(v.GetString(flagStripeSecretKey))
	cfg.StripeWebhookSecret = strings.TrimSpace(v.GetString(flagStripeWebhookSecret))

	return cfg.validate()
}

func (cfg *runtimeConfig) validate() error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	switch cfg.StoreDriver {
	case driverGorm:
	case driverPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%s %q requires a postgres database url", flagStoreDriver, driverPgx)
		}
	default:
		return fmt.Errorf("unsupported %s %q", flagStoreDriver, cfg.StoreDriver)
	}
	if (cfg.StripeSecretKey == "") != (cfg.StripeWebhookSecret == "") {
		return fmt.Errorf("%s and %s must be set together", flagStripeSecretKey, flagStripeWebhookSecret)
	}
	return nil
}
