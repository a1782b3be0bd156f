// Package testutil provides shared helpers for tests that need a real
// storage layer. Databases are in-memory SQLite instances that are migrated
// and torn down automatically.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
	"github.com/ledgerbeat/ostinato/internal/storage"

	"github.com/google/uuid"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database. It automatically
// handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// MustCreateDefinition persists def, filling in the fields most tests do not
// care about, and returns the stored value.
func (db *TestDB) MustCreateDefinition(def model.RecurringDefinition) model.RecurringDefinition {
	db.t.Helper()

	now := time.Now().UTC()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.OwnerID == "" {
		def.OwnerID = "test-owner"
	}
	if def.Kind == "" {
		def.Kind = model.KindExpense
	}
	if def.Description == "" {
		def.Description = "Test definition"
	}
	if def.Amount == 0 {
		def.Amount = 10.00
	}
	if def.Frequency == "" {
		def.Frequency = model.FrequencyMonthly
	}
	if def.StartDate.IsZero() {
		def.StartDate = now
	}
	if def.NextOccurrence.IsZero() {
		def.NextOccurrence = def.StartDate
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = now
	}

	if err := db.Storage.CreateDefinition(context.Background(), &def); err != nil {
		db.t.Fatalf("failed to create definition: %v", err)
	}
	return def
}

// MustSaveEntries persists entries, generating ids where missing.
func (db *TestDB) MustSaveEntries(entries ...model.LedgerEntry) []model.LedgerEntry {
	db.t.Helper()

	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
		if entries[i].OwnerID == "" {
			entries[i].OwnerID = "test-owner"
		}
		if entries[i].Kind == "" {
			entries[i].Kind = model.KindExpense
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	if _, err := db.Storage.SaveEntries(context.Background(), entries); err != nil {
		db.t.Fatalf("failed to save entries: %v", err)
	}
	return entries
}
