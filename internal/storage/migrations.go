package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

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
				`CREATE TABLE IF NOT EXISTS recurring_definitions (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					category_id TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL,
					amount REAL NOT NULL,
					description TEXT NOT NULL,
					merchant TEXT NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					frequency TEXT NOT NULL,
					start_date DATETIME NOT NULL,
					end_date DATETIME,
					next_occurrence DATETIME NOT NULL,
					last_created DATETIME,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					auto_create BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_definitions_owner ON recurring_definitions(owner_id)`,
				`CREATE INDEX idx_definitions_next ON recurring_definitions(next_occurrence)`,

				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					owner_id TEXT NOT NULL,
					category_id TEXT NOT NULL DEFAULT '',
					kind TEXT NOT NULL,
					amount REAL NOT NULL,
					description TEXT NOT NULL,
					merchant TEXT NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					date DATETIME NOT NULL,
					is_recurring BOOLEAN NOT NULL DEFAULT 0,
					recurring_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (recurring_id) REFERENCES recurring_definitions(id)
				)`,
				`CREATE INDEX idx_entries_owner_date ON ledger_entries(owner_id, date)`,
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
		Description: "Add tags to definitions and entries",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`ALTER TABLE recurring_definitions ADD COLUMN tags TEXT`,
				`ALTER TABLE ledger_entries ADD COLUMN tags TEXT`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Optimize due-definition scan",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// Covering index for the batch driver's selection predicate
				`CREATE INDEX IF NOT EXISTS idx_definitions_due ON recurring_definitions(is_active, auto_create, next_occurrence)`,
				// Superseded by idx_definitions_due
				`DROP INDEX IF EXISTS idx_definitions_next`,
				// Pattern discovery scans by owner and recurrence flag
				`CREATE INDEX IF NOT EXISTS idx_entries_recurring ON ledger_entries(owner_id, is_recurring, date)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Track checkpoint metadata",
		Up: func(tx *sql.Tx) error {
			query := `CREATE TABLE IF NOT EXISTS checkpoint_metadata (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				file_size INTEGER NOT NULL,
				row_counts TEXT NOT NULL DEFAULT '{}',
				schema_version INTEGER NOT NULL,
				is_auto BOOLEAN NOT NULL DEFAULT 0
			)`
			if _, err := tx.Exec(query); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
