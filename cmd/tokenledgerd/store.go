package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	databasePostgres = "postgres"
	databaseSQLite   = "sqlite"
	defaultSQLite    = "tokenledger.db"
)

// openedStore bundles a ledger.Store with its schema hook and cleanup.
type openedStore struct {
	store    ledger.Store
	database string
	migrate  func(ctx context.Context) error
	close    func()
}

func openStore(ctx context.Context, cfg *runtimeConfig) (*openedStore, error) {
	if cfg.StoreDriver == driverPgx {
		return openPgxStore(ctx, cfg.DatabaseURL)
	}
	return openGormStore(ctx, cfg.DatabaseURL)
}

func openPgxStore(ctx context.Context, databaseURL string) (*openedStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return &openedStore{
		store:    pgstore.New(pool),
		database: databasePostgres,
		migrate: func(ctx context.Context) error {
			return pgstore.EnsureSchema(ctx, pool)
		},
		close: pool.Close,
	}, nil
}

func openGormStore(ctx context.Context, databaseURL string) (*openedStore, error) {
	database, sqlitePath, err := resolveDriver(databaseURL)
	if err != nil {
		return nil, err
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch database {
	case databasePostgres:
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	case databaseSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", database)
	}
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if database == databaseSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return &openedStore{
		store:    gormstore.New(db),
		database: database,
		migrate: func(ctx context.Context) error {
			return gormstore.Migrate(ctx, db)
		},
		close: func() { _ = sqlDB.Close() },
	}, nil
}

func isPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

func resolveDriver(databaseURL string) (string, string, error) {
	if isPostgresURL(databaseURL) {
		return databasePostgres, "", nil
	}
	if strings.HasPrefix(databaseURL, "sqlite://") {
		parsed, err := url.Parse(databaseURL)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLite
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(databaseURL)
	return databaseSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
