package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Options struct {
	Driver        string
	DatabaseURL   string
	SQLitePath    string
	MigrationsDir string
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenDocumentStore opens the configured backend. For Postgres it also applies
// pending migrations and returns the underlying *sql.DB so callers can share
// it (full-text search); the *sql.DB is nil for the other drivers.
func OpenDocumentStore(ctx context.Context, opts Options) (DocumentStore, *sql.DB, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		db, err := Open(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		migrations, err := Migrations(opts.MigrationsDir)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := ApplyMigrations(ctx, db, migrations); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return NewPostgresStore(db), db, nil
	case DriverSQLite:
		sqlite, err := OpenSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite, nil, nil
	case DriverMemory:
		return NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
