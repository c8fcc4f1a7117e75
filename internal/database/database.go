// package database provides database connection management.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	applog "github.com/blockedby/memesite/internal/logger"
)

const sqliteScheme = "sqlite://"

// DB wraps a postgresql connection pool and GORM instance.
// Pool is nil for sqlite databases.
type DB struct {
	Pool *pgxpool.Pool
	GORM *gorm.DB
}

// New opens the database behind databaseURL. "sqlite://<path>" opens a local
// sqlite file (":memory:" for an in-memory database); anything else is
// treated as a postgres URL.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	if IsSQLite(databaseURL) {
		return newSQLite(strings.TrimPrefix(databaseURL, sqliteScheme))
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.Open(databaseURL), gormConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &DB{
		Pool: pool,
		GORM: gormDB,
	}, nil
}

// IsSQLite reports whether databaseURL selects the sqlite backend.
func IsSQLite(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, sqliteScheme)
}

func newSQLite(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	gormDB, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every pooled connection would get its own in-memory database
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &DB{GORM: gormDB}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

// Close closes the underlying connections.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if sqlDB, err := db.GORM.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			applog.Get().Warn().Err(err).Msg("failed to close database")
		}
	}
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if db.Pool != nil {
		return db.Pool.Ping(ctx)
	}
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
