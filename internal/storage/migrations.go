package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS receipts (
					id TEXT PRIMARY KEY,
					hash TEXT NOT NULL,
					merchant_name TEXT NOT NULL,
					amount REAL NOT NULL,
					date DATETIME NOT NULL,
					category TEXT,
					payment_method TEXT,
					ocr_text TEXT,
					latitude REAL,
					longitude REAL,
					items TEXT,
					tags TEXT,
					metadata TEXT,
					status TEXT NOT NULL DEFAULT 'PENDING',
					transaction_id TEXT,
					duplicate_count INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_receipts_date ON receipts(date)`,
				`CREATE INDEX idx_receipts_merchant ON receipts(merchant_name)`,
				`CREATE INDEX idx_receipts_status ON receipts(status)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					account_id TEXT,
					date DATETIME NOT NULL,
					amount REAL NOT NULL,
					description TEXT NOT NULL,
					merchant_name TEXT,
					category TEXT,
					payment_method TEXT,
					latitude REAL,
					longitude REAL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_merchant ON transactions(merchant_name)`,

				`CREATE TABLE IF NOT EXISTS merchant_profiles (
					name TEXT PRIMARY KEY,
					category TEXT,
					aliases TEXT,
					confidence REAL DEFAULT 0,
					recognition_rate REAL DEFAULT 0,
					average_amount REAL DEFAULT 0,
					transaction_count INTEGER DEFAULT 0,
					item_patterns TEXT,
					header_patterns TEXT,
					footer_patterns TEXT,
					subscription TEXT,
					last_updated DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Derived state: duplicate groups, merge history, subscriptions, match cache",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS duplicate_groups (
					id TEXT PRIMARY KEY,
					original_id TEXT NOT NULL,
					receipt_ids TEXT NOT NULL,
					reasons TEXT,
					confidence REAL NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_duplicate_groups_original ON duplicate_groups(original_id)`,

				`CREATE TABLE IF NOT EXISTS merge_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					receipt_id TEXT NOT NULL,
					duplicate_id TEXT NOT NULL,
					confidence REAL NOT NULL,
					reasons TEXT,
					merged_at DATETIME NOT NULL,
					FOREIGN KEY (receipt_id) REFERENCES receipts(id)
				)`,

				`CREATE TABLE IF NOT EXISTS subscription_patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					merchant_name TEXT NOT NULL,
					amount REAL NOT NULL,
					frequency TEXT NOT NULL,
					state TEXT NOT NULL,
					amount_tolerance REAL DEFAULT 0,
					day_tolerance INTEGER DEFAULT 0,
					confidence REAL NOT NULL,
					occurrences INTEGER DEFAULT 0,
					last_seen DATETIME,
					UNIQUE(merchant_name, amount)
				)`,

				`CREATE TABLE IF NOT EXISTS match_results (
					receipt_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					confidence REAL NOT NULL,
					scores TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (receipt_id, transaction_id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// SchemaVersion reports the highest migration applied so far. A database
// without a migrations ledger is at version zero.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Migrate brings the database schema up to the expected version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		slog.Info("Applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
			m.Version, m.Description); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
