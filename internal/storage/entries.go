package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
)

const entryColumns = `id, hash, owner_id, category_id, kind, amount, description, merchant,
	notes, date, is_recurring, recurring_id, tags, created_at`

// SaveEntries inserts ledger entries, skipping rows whose hash is already
// present. Returns the number of entries actually inserted so importers can
// report how many were new versus duplicates.
func (s *SQLiteStorage) SaveEntries(ctx context.Context, entries []model.LedgerEntry) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateEntries(entries); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO ledger_entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range entries {
			entry := &entries[i]
			if entry.Hash == "" {
				entry.Hash = entry.GenerateHash()
			}

			result, err := stmt.ExecContext(ctx,
				entry.ID,
				entry.Hash,
				entry.OwnerID,
				entry.CategoryID,
				string(entry.Kind),
				entry.Amount,
				entry.Description,
				entry.Merchant,
				entry.Notes,
				entry.Date.UTC(),
				entry.IsRecurring,
				nullableString(entry.RecurringID),
				tagsToJSON(entry.Tags),
				entry.CreatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
			}

			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check insert result: %w", err)
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// insertEntryTx inserts a single entry inside an existing transaction. Unlike
// SaveEntries it does not tolerate hash collisions: the materializer must
// either create its entry or fail loudly.
func insertEntryTx(ctx context.Context, tx *sql.Tx, entry *model.LedgerEntry) error {
	if entry.Hash == "" {
		entry.Hash = entry.GenerateHash()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Hash,
		entry.OwnerID,
		entry.CategoryID,
		string(entry.Kind),
		entry.Amount,
		entry.Description,
		entry.Merchant,
		entry.Notes,
		entry.Date.UTC(),
		entry.IsRecurring,
		nullableString(entry.RecurringID),
		tagsToJSON(entry.Tags),
		entry.CreatedAt.UTC(),
	)
	return err
}

// GetEntries returns an owner's ledger entries matching the filter, oldest
// first.
func (s *SQLiteStorage) GetEntries(ctx context.Context, filter service.EntryFilter) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.OwnerID, "ownerID"); err != nil {
		return nil, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: %v is after %v", ErrInvalidDateRange, filter.StartDate, filter.EndDate)
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE owner_id = ?
	`
	args := []any{filter.OwnerID}

	if filter.StartDate != nil {
		query += " AND date >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		query += " AND date <= ?"
		args = append(args, filter.EndDate.UTC())
	}
	if filter.Recurring != nil {
		query += " AND is_recurring = ?"
		args = append(args, *filter.Recurring)
	}

	query += " ORDER BY date ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	return entries, nil
}

// GetEntryByID retrieves a single ledger entry.
func (s *SQLiteStorage) GetEntryByID(ctx context.Context, id string) (*model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}

	return entry, nil
}

func scanEntry(row rowScanner) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	var kind string
	var recurringID, tagsJSON sql.NullString

	err := row.Scan(
		&entry.ID,
		&entry.Hash,
		&entry.OwnerID,
		&entry.CategoryID,
		&kind,
		&entry.Amount,
		&entry.Description,
		&entry.Merchant,
		&entry.Notes,
		&entry.Date,
		&entry.IsRecurring,
		&recurringID,
		&tagsJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Kind = model.EntryKind(kind)
	if recurringID.Valid {
		entry.RecurringID = recurringID.String
	}
	entry.Tags = tagsFromJSON(tagsJSON)

	return &entry, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
