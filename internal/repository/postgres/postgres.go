// Package postgres implements repository.Store on PostgreSQL via lib/pq.
//
// It mirrors the sqlite package statement for statement. The differences are
// the placeholder syntax ($1), native TIMESTAMPTZ columns (so the stale
// event check compares timestamps directly) and a real connection pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Registers the "postgres" driver with database/sql.
	_ "github.com/lib/pq"

	"github.com/sakif/resize-credits/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	conn *sql.DB
}

// PoolConfig bounds the connection pool. Zero values fall back to defaults
// sized for a small service behind a managed database.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New connects to dsn, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string, pool PoolConfig) (*DB, error) {
	// Env values copied from dashboards often carry a trailing newline.
	dsn = strings.TrimSpace(dsn)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = 10
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = 2
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id                  TEXT PRIMARY KEY,
				provider            TEXT NOT NULL DEFAULT '',
				email               TEXT NOT NULL DEFAULT '',
				name                TEXT NOT NULL DEFAULT '',
				credits             BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
				subscription_id     TEXT NOT NULL DEFAULT '',
				subscription_status TEXT NOT NULL DEFAULT 'none',
				subscription_plan   TEXT NOT NULL DEFAULT '',
				created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"credit_transactions", `
			CREATE TABLE IF NOT EXISTS credit_transactions (
				seq       BIGSERIAL PRIMARY KEY,
				id        TEXT NOT NULL UNIQUE,
				user_id   TEXT NOT NULL REFERENCES users(id),
				type      TEXT NOT NULL,
				amount    BIGINT NOT NULL,
				reason    TEXT NOT NULL DEFAULT '',
				balance   BIGINT NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"credit_transactions index", `
			CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_seq
				ON credit_transactions(user_id, seq DESC)`},
		{"subscriptions", `
			CREATE TABLE IF NOT EXISTS subscriptions (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL,
				plan          TEXT NOT NULL,
				status        TEXT NOT NULL,
				price_id      TEXT NOT NULL DEFAULT '',
				last_event_at TIMESTAMPTZ,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"subscription_owners", `
			CREATE TABLE IF NOT EXISTS subscription_owners (
				subscription_id TEXT PRIMARY KEY,
				user_id         TEXT NOT NULL
			)`},
		{"webhook_events", `
			CREATE TABLE IF NOT EXISTS webhook_events (
				provider    TEXT NOT NULL,
				event_id    TEXT NOT NULL,
				event_type  TEXT NOT NULL DEFAULT '',
				received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (provider, event_id)
			)`},
		{"reservations", `
			CREATE TABLE IF NOT EXISTS reservations (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id),
				amount     BIGINT NOT NULL,
				reason     TEXT NOT NULL DEFAULT '',
				status     TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
	}

	for _, st := range statements {
		if _, err := db.conn.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("creating %s: %w", st.name, err)
		}
	}
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
