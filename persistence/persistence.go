// Package persistence opens the bun database used by the local identity
// provider and applies its embedded migrations.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/migrate"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the database configuration
type Config interface {
	GetDriver() string
	GetDSN() string
	GetDebug() bool
}

type Logger interface {
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Open connects to the configured database and returns a bun DB
func Open(cfg Config) (*bun.DB, error) {
	driver := normalizeDriver(cfg.GetDriver())
	dsn := cfg.GetDSN()

	var db *bun.DB

	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if strings.Contains(dsn, ":memory:") {
			sqldb.SetMaxOpenConns(1)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.GetDriver())
	}

	if cfg.GetDebug() {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db, nil
}

// Migrate applies every pending migration found in fsys
func Migrate(ctx context.Context, db *bun.DB, fsys fs.FS, logger Logger) error {
	migrator, err := newMigrator(db, fsys)
	if err != nil {
		return err
	}

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if logger != nil {
		if group.IsZero() {
			logger.Info("database schema is up to date")
		} else {
			logger.Info("database migrated", "group", group.String())
		}
	}

	return nil
}

// Rollback reverts the last applied migration group
func Rollback(ctx context.Context, db *bun.DB, fsys fs.FS, logger Logger) error {
	migrator, err := newMigrator(db, fsys)
	if err != nil {
		return err
	}

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	if logger != nil {
		if group.IsZero() {
			logger.Info("there are no groups to roll back")
		} else {
			logger.Info("rolled back", "group", group.String())
		}
	}

	return nil
}

func newMigrator(db *bun.DB, fsys fs.FS) (*migrate.Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(fsys); err != nil {
		return nil, fmt.Errorf("discover migrations: %w", err)
	}
	return migrate.NewMigrator(db, migrations), nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres
	default:
		return driver
	}
}

// Options is a static Config
type Options struct {
	Driver string
	DSN    string
	Debug  bool
}

func (o Options) GetDriver() string { return o.Driver }
func (o Options) GetDSN() string    { return o.DSN }
func (o Options) GetDebug() bool    { return o.Debug }
