package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty
	// database, so pin the pool to a single connection.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			exception_status TEXT NOT NULL DEFAULT 'none',
			currency TEXT NOT NULL,
			amount REAL NOT NULL,
			paid_amount REAL NOT NULL DEFAULT 0,
			payment_currency TEXT NOT NULL DEFAULT '',
			payment_rate REAL NOT NULL DEFAULT 0,
			paid_crypto REAL NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status)`,

		`CREATE TABLE IF NOT EXISTS invoice_tags (
			invoice_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (invoice_id, tag),
			FOREIGN KEY (invoice_id) REFERENCES invoices(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoice_tags_tag ON invoice_tags(tag)`,

		`CREATE TABLE IF NOT EXISTS invoice_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (invoice_id) REFERENCES invoices(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoice_logs_invoice ON invoice_logs(invoice_id)`,

		// UNIQUE(invoice_id) backs the one-refund-per-invoice invariant at
		// the schema level, in addition to the engine's pre-check.
		`CREATE TABLE IF NOT EXISTS refund_records (
			id TEXT PRIMARY KEY,
			invoice_id TEXT UNIQUE NOT NULL,
			payout_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (invoice_id) REFERENCES invoices(id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}
