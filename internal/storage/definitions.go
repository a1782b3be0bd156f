package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
)

// Time values are normalized to UTC before binding so the text comparisons
// SQLite performs on DATETIME columns stay total across rows.
const definitionColumns = `id, owner_id, category_id, kind, amount, description, merchant, notes,
	frequency, start_date, end_date, next_occurrence, last_created, is_active, auto_create,
	tags, created_at, updated_at`

// CreateDefinition persists a new recurring definition.
func (s *SQLiteStorage) CreateDefinition(ctx context.Context, def *model.RecurringDefinition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDefinition(def); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_definitions (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		def.ID,
		def.OwnerID,
		def.CategoryID,
		string(def.Kind),
		def.Amount,
		def.Description,
		def.Merchant,
		def.Notes,
		string(def.Frequency),
		def.StartDate.UTC(),
		nullableTime(def.EndDate),
		def.NextOccurrence.UTC(),
		nullableTime(def.LastCreated),
		def.IsActive,
		def.AutoCreate,
		tagsToJSON(def.Tags),
		def.CreatedAt.UTC(),
		def.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert definition %s: %w", def.ID, err)
	}

	return nil
}

// GetDefinition retrieves a definition by id, scoped to its owner.
func (s *SQLiteStorage) GetDefinition(ctx context.Context, ownerID, id string) (*model.RecurringDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM recurring_definitions
		WHERE id = ? AND owner_id = ?
	`, id, ownerID)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition %s: %w", id, err)
	}

	return def, nil
}

// ListDefinitions returns an owner's definitions ordered by next occurrence.
func (s *SQLiteStorage) ListDefinitions(ctx context.Context, filter service.DefinitionFilter) ([]model.RecurringDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.OwnerID, "ownerID"); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + definitionColumns + `
		FROM recurring_definitions
		WHERE owner_id = ?
	`
	if !filter.IncludeInactive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY next_occurrence ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, filter.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDefinitions(rows)
}

// UpdateDefinition stores the definition's current state over the existing row.
func (s *SQLiteStorage) UpdateDefinition(ctx context.Context, def *model.RecurringDefinition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDefinition(def); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE recurring_definitions
		SET category_id = ?, kind = ?, amount = ?, description = ?, merchant = ?,
		    notes = ?, frequency = ?, start_date = ?, end_date = ?, next_occurrence = ?,
		    last_created = ?, is_active = ?, auto_create = ?, tags = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`,
		def.CategoryID,
		string(def.Kind),
		def.Amount,
		def.Description,
		def.Merchant,
		def.Notes,
		string(def.Frequency),
		def.StartDate.UTC(),
		nullableTime(def.EndDate),
		def.NextOccurrence.UTC(),
		nullableTime(def.LastCreated),
		def.IsActive,
		def.AutoCreate,
		tagsToJSON(def.Tags),
		def.UpdatedAt.UTC(),
		def.ID,
		def.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update definition %s: %w", def.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}

	return nil
}

// DeleteDefinition removes a definition permanently. Ledger entries it
// materialized keep their back-reference and are not touched.
func (s *SQLiteStorage) DeleteDefinition(ctx context.Context, ownerID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM recurring_definitions WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete definition %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}

	return nil
}

// GetDueDefinitions returns every definition the batch driver should process
// at now: active, auto-creating, due, and not past its end date.
func (s *SQLiteStorage) GetDueDefinitions(ctx context.Context, now time.Time) ([]model.RecurringDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+definitionColumns+`
		FROM recurring_definitions
		WHERE is_active = 1
		  AND auto_create = 1
		  AND next_occurrence <= ?
		  AND (end_date IS NULL OR end_date >= ?)
		ORDER BY next_occurrence ASC, id ASC
	`, now.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDefinitions(rows)
}

// MaterializeDueDefinition atomically inserts entry and advances the
// definition to the state carried in def. The update is guarded by
// expectedNext: when another run has already advanced the stored
// NextOccurrence the guard misses, nothing changes, and (false, nil) is
// returned so callers skip the occurrence instead of duplicating it.
func (s *SQLiteStorage) MaterializeDueDefinition(ctx context.Context, def *model.RecurringDefinition, expectedNext time.Time, entry *model.LedgerEntry) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateDefinition(def); err != nil {
		return false, err
	}
	if err := validateEntry(entry); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE recurring_definitions
		SET next_occurrence = ?, last_created = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND is_active = 1 AND next_occurrence = ?
	`,
		def.NextOccurrence.UTC(),
		nullableTime(def.LastCreated),
		def.IsActive,
		def.UpdatedAt.UTC(),
		def.ID,
		def.OwnerID,
		expectedNext.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance definition %s: %w", def.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check advance result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertEntryTx(ctx, tx, entry); err != nil {
		return false, fmt.Errorf("failed to insert materialized entry for %s: %w", def.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit materialization for %s: %w", def.ID, err)
	}

	return true, nil
}

// collectDefinitions drains rows into a slice.
func collectDefinitions(rows *sql.Rows) ([]model.RecurringDefinition, error) {
	var defs []model.RecurringDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*model.RecurringDefinition, error) {
	var def model.RecurringDefinition
	var kind, frequency string
	var endDate, lastCreated sql.NullTime
	var tagsJSON sql.NullString

	err := row.Scan(
		&def.ID,
		&def.OwnerID,
		&def.CategoryID,
		&kind,
		&def.Amount,
		&def.Description,
		&def.Merchant,
		&def.Notes,
		&frequency,
		&def.StartDate,
		&endDate,
		&def.NextOccurrence,
		&lastCreated,
		&def.IsActive,
		&def.AutoCreate,
		&tagsJSON,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Kind = model.EntryKind(kind)
	def.Frequency = model.Frequency(frequency)
	if endDate.Valid {
		t := endDate.Time
		def.EndDate = &t
	}
	if lastCreated.Valid {
		t := lastCreated.Time
		def.LastCreated = &t
	}
	def.Tags = tagsFromJSON(tagsJSON)

	return &def, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func tagsToJSON(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(data)
}

func tagsFromJSON(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil
	}
	return tags
}
