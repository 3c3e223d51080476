// Package sqlite is the durable store for deckd: accounts, the credit
// transaction log, reservations, generation jobs (which double as the
// durable work queue), presentations and slides.
//
// A single sqlite file backs everything so that a job claim, a ledger write
// and a presentation write can share one transaction when they must.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection.
type DB struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the database under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "deckd.db")
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes all writers; ledger atomicity relies on it.
	conn.SetMaxOpenConns(1)

	db := &DB{db: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, stmt)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Accounts hold the settled balance only. Availability is derived:
		// balance minus the sum of OPEN reservations.
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Append-only credit transaction log.
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id                TEXT PRIMARY KEY,
			account_id        TEXT NOT NULL,
			amount            INTEGER NOT NULL,
			kind              TEXT NOT NULL,
			job_id            TEXT,
			resulting_balance INTEGER NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_account ON credit_transactions(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_job ON credit_transactions(job_id)`,

		// Credit holds. A retried job gets a fresh row, so job_id is not
		// unique; "the reservation for a job" means the OPEN one.
		`CREATE TABLE IF NOT EXISTS reservations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id      TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			status      TEXT NOT NULL DEFAULT 'OPEN',
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			resolved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resv_job ON reservations(job_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_resv_account ON reservations(account_id, status)`,

		// Generation jobs. QUEUED rows are the durable work queue.
		`CREATE TABLE IF NOT EXISTS jobs (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			presentation_id  TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'QUEUED',
			progress         INTEGER NOT NULL DEFAULT 0,
			reserved_amount  INTEGER NOT NULL DEFAULT 0,
			input_json       TEXT NOT NULL DEFAULT '{}',
			error            TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL DEFAULT (datetime('now')),
			started_at       TEXT,
			completed_at     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_account ON jobs(account_id)`,

		// Output decks. Status mirrors the owning job's terminal status.
		`CREATE TABLE IF NOT EXISTS presentations (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'GENERATING',
			slide_count INTEGER NOT NULL DEFAULT 0,
			language    TEXT NOT NULL DEFAULT 'en',
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pres_account ON presentations(account_id)`,

		`CREATE TABLE IF NOT EXISTS slides (
			presentation_id TEXT NOT NULL,
			ord             INTEGER NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL DEFAULT 'content',
			layout          TEXT NOT NULL DEFAULT '',
			heading         TEXT NOT NULL DEFAULT '',
			subheading      TEXT NOT NULL DEFAULT '',
			body            TEXT NOT NULL DEFAULT '',
			bullets_json    TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (presentation_id, ord)
		)`,
	}
}
