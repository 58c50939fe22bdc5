// Package sqlite implements repository.Store on an embedded SQLite file.
//
// WHY SQLITE AS THE DEFAULT?
// A single binary with a single file is enough for most deployments of this
// service, and ":memory:" gives every test its own throwaway database.
// Postgres and Mongo live next to this package for larger installs.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so no CGo and no C compiler are
// needed to build or cross-compile.
//
// ONE CONNECTION:
// SQLite allows a single writer at a time. We cap the pool at one connection,
// which serialises writes inside the process (no SQLITE_BUSY under load) and
// keeps ":memory:" databases shared instead of one per pooled connection.
// Every credit mutation is still a single conditional UPDATE, so correctness
// does not depend on this cap.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/resize-credits/internal/repository"
)

// compile-time check that *DB implements the full store
var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/resize.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers run while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Ping reports whether the database file is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates all tables. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
//
// TIMESTAMPS FOR ORDERING:
// subscriptions.last_event_at is stored as unix nanoseconds so the stale
// event check can compare it inside the UPDATE's WHERE clause.
// credit_transactions.seq gives a strict insertion order even when two
// entries share a timestamp.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                  TEXT PRIMARY KEY,
			provider            TEXT NOT NULL DEFAULT '',
			email               TEXT NOT NULL DEFAULT '',
			name                TEXT NOT NULL DEFAULT '',
			credits             INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			subscription_id     TEXT NOT NULL DEFAULT '',
			subscription_status TEXT NOT NULL DEFAULT 'none',
			subscription_plan   TEXT NOT NULL DEFAULT '',
			created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS credit_transactions (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT NOT NULL UNIQUE,
			user_id   TEXT NOT NULL REFERENCES users(id),
			type      TEXT NOT NULL,
			amount    INTEGER NOT NULL,
			reason    TEXT NOT NULL DEFAULT '',
			balance   INTEGER NOT NULL,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_seq
			ON credit_transactions(user_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("creating credit_transactions table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			plan          TEXT NOT NULL,
			status        TEXT NOT NULL,
			price_id      TEXT NOT NULL DEFAULT '',
			last_event_at INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS subscription_owners (
			subscription_id TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating subscription tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_events (
			provider    TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			event_type  TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (provider, event_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating webhook_events table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS reservations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			amount     INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating reservations table: %w", err)
	}

	return nil
}
