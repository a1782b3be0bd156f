package storage

import (
	"context"
	"testing"
)

func TestMigrate_FreshDatabase(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	var version int
	if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, ExpectedSchemaVersion)
	}

	// All tables exist and are queryable.
	for _, table := range []string{"recurring_definitions", "ledger_entries", "checkpoint_metadata"} {
		var count int
		if err := store.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	// createTestStorage already migrated once.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var version int
	if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, ExpectedSchemaVersion)
	}
}

func TestMigrate_VersionsAreOrdered(t *testing.T) {
	last := 0
	for _, m := range migrations {
		if m.Version != last+1 {
			t.Errorf("migration versions must be contiguous: got %d after %d", m.Version, last)
		}
		if m.Description == "" {
			t.Errorf("migration %d has no description", m.Version)
		}
		last = m.Version
	}
	if last != ExpectedSchemaVersion {
		t.Errorf("latest migration = %d, ExpectedSchemaVersion = %d", last, ExpectedSchemaVersion)
	}
}
