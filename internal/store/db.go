package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// EnsureSchema creates the timesheet tables when they do not exist yet.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS employees (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS sites (
			id       TEXT PRIMARY KEY,
			name     TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS day_records (
			employee_id TEXT NOT NULL,
			date        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'Normal',
			activities  JSONB NOT NULL DEFAULT '[]',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (employee_id, date)
		);
		CREATE TABLE IF NOT EXISTS sessions (
			employee_id TEXT NOT NULL,
			id          TEXT NOT NULL,
			date        TEXT NOT NULL,
			entry_time  TIMESTAMPTZ NOT NULL,
			exit_time   TIMESTAMPTZ,
			minutes     INTEGER NOT NULL DEFAULT 0,
			is_open     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (employee_id, id)
		);
		CREATE INDEX IF NOT EXISTS sessions_open_idx
			ON sessions (employee_id, date) WHERE is_open;
	`)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
