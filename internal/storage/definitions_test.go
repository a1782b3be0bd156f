package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

// Helper function to create a fully populated test definition.
func makeTestDefinition(id, owner string, next time.Time) model.RecurringDefinition {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.RecurringDefinition{
		ID:             id,
		OwnerID:        owner,
		CategoryID:     "cat-streaming",
		Kind:           model.KindExpense,
		Amount:         15.99,
		Description:    "Video streaming",
		Merchant:       "NETFLIX",
		Notes:          "family plan",
		Frequency:      model.FrequencyMonthly,
		StartDate:      next,
		NextOccurrence: next,
		Tags:           []string{"subscriptions", "media"},
		IsActive:       true,
		AutoCreate:     true,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestSQLiteStorage_CreateAndGetDefinition(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	next := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	def := makeTestDefinition("def-1", "owner-1", next)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	def.EndDate = &end

	if err := store.CreateDefinition(ctx, &def); err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	got, err := store.GetDefinition(ctx, "owner-1", "def-1")
	if err != nil {
		t.Fatalf("GetDefinition() error = %v", err)
	}

	if got.ID != def.ID || got.OwnerID != def.OwnerID {
		t.Errorf("identity mismatch: got %s/%s", got.OwnerID, got.ID)
	}
	if got.Kind != model.KindExpense {
		t.Errorf("Kind = %q, want %q", got.Kind, model.KindExpense)
	}
	if got.Frequency != model.FrequencyMonthly {
		t.Errorf("Frequency = %q, want %q", got.Frequency, model.FrequencyMonthly)
	}
	if got.Amount != 15.99 {
		t.Errorf("Amount = %v, want 15.99", got.Amount)
	}
	if !got.NextOccurrence.Equal(next) {
		t.Errorf("NextOccurrence = %v, want %v", got.NextOccurrence, next)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Errorf("EndDate = %v, want %v", got.EndDate, end)
	}
	if got.LastCreated != nil {
		t.Errorf("LastCreated = %v, want nil", got.LastCreated)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "subscriptions" || got.Tags[1] != "media" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if !got.IsActive || !got.AutoCreate {
		t.Error("flags did not round-trip")
	}
}

func TestSQLiteStorage_GetDefinition_NotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	def := makeTestDefinition("def-1", "owner-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := store.CreateDefinition(ctx, &def); err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	if _, err := store.GetDefinition(ctx, "owner-1", "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("unknown id: error = %v, want ErrNotFound", err)
	}

	// Definitions are owner-scoped: another owner cannot see them.
	if _, err := store.GetDefinition(ctx, "owner-2", "def-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("wrong owner: error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_ListDefinitions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	later := makeTestDefinition("def-later", "owner-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	sooner := makeTestDefinition("def-sooner", "owner-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	paused := makeTestDefinition("def-paused", "owner-1", time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC))
	paused.IsActive = false
	other := makeTestDefinition("def-other", "owner-2", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	for _, def := range []model.RecurringDefinition{later, sooner, paused, other} {
		d := def
		if err := store.CreateDefinition(ctx, &d); err != nil {
			t.Fatalf("CreateDefinition(%s) error = %v", d.ID, err)
		}
	}

	active, err := store.ListDefinitions(ctx, service.DefinitionFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("ListDefinitions() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active list has %d definitions, want 2", len(active))
	}
	if active[0].ID != "def-sooner" || active[1].ID != "def-later" {
		t.Errorf("list order = [%s %s], want [def-sooner def-later]", active[0].ID, active[1].ID)
	}

	all, err := store.ListDefinitions(ctx, service.DefinitionFilter{OwnerID: "owner-1", IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListDefinitions(include inactive) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("full list has %d definitions, want 3", len(all))
	}
}

func TestSQLiteStorage_UpdateDefinition(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	def := makeTestDefinition("def-1", "owner-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := store.CreateDefinition(ctx, &def); err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	def.Amount = 17.99
	def.Frequency = model.FrequencyYearly
	def.NextOccurrence = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	def.IsActive = false
	def.Tags = []string{"subscriptions"}
	def.UpdatedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := store.UpdateDefinition(ctx, &def); err != nil {
		t.Fatalf("UpdateDefinition() error = %v", err)
	}

	got, err := store.GetDefinition(ctx, "owner-1", "def-1")
	if err != nil {
		t.Fatalf("GetDefinition() error = %v", err)
	}
	if got.Amount != 17.99 {
		t.Errorf("Amount = %v, want 17.99", got.Amount)
	}
	if got.Frequency != model.FrequencyYearly {
		t.Errorf("Frequency = %q, want yearly", got.Frequency)
	}
	if got.IsActive {
		t.Error("IsActive = true, want false")
	}
	if len(got.Tags) != 1 {
		t.Errorf("Tags = %v, want one tag", got.Tags)
	}

	missing := makeTestDefinition("ghost", "owner-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := store.UpdateDefinition(ctx, &missing); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("update of missing definition: error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_DeleteDefinition(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	def := makeTestDefinition("def-1", "owner-1", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := store.CreateDefinition(ctx, &def); err != nil {
		t.Fatalf("CreateDefinition() error = %v", err)
	}

	if err := store.DeleteDefinition(ctx, "owner-1", "def-1"); err != nil {
		t.Fatalf("DeleteDefinition() error = %v", err)
	}
	if _, err := store.GetDefinition(ctx, "owner-1", "def-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("definition still present after delete: %v", err)
	}
	if err := store.DeleteDefinition(ctx, "owner-1", "def-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("second delete: error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_GetDueDefinitions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	due := makeTestDefinition("def-due", "owner-1", now.AddDate(0, 0, -3))
	dueToday := makeTestDefinition("def-today", "owner-1", now)
	future := makeTestDefinition("def-future", "owner-1", now.AddDate(0, 0, 1))
	paused := makeTestDefinition("def-paused", "owner-1", now.AddDate(0, 0, -3))
	paused.IsActive = false
	manual := makeTestDefinition("def-manual", "owner-1", now.AddDate(0, 0, -3))
	manual.AutoCreate = false
	ended := makeTestDefinition("def-ended", "owner-1", now.AddDate(0, 0, -3))
	endDate := now.AddDate(0, 0, -1)
	ended.EndDate = &endDate

	for _, def := range []model.RecurringDefinition{due, dueToday, future, paused, manual, ended} {
		d := def
		if err := store.CreateDefinition(ctx, &d); err != nil {
			t.Fatalf("CreateDefinition(%s) error = %v", d.ID, err)
		}
	}

	got, err := store.GetDueDefinitions(ctx, now)
	if err != nil {
		t.Fatalf("GetDueDefinitions() error = %v", err)
	}

	if len(got) != 2 {
		ids := make([]string, len(got))
		for i, d := range got {
			ids[i] = d.ID
		}
		t.Fatalf("due definitions = %v, want [def-due def-today]", ids)
	}
	if got[0].ID != "def-due" || got[1].ID != "def-today" {
		t.Errorf("due order = [%s %s], want [def-due def-today]", got[0].ID, got[1].ID)
	}
}

func TestSQLiteStorage_MaterializeDueDefinition(t *testing.T) {
	occurrence := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	advanced := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	makeEntry := func(def *model.RecurringDefinition) *model.LedgerEntry {
		return &model.LedgerEntry{
			ID:          "entry-1",
			OwnerID:     def.OwnerID,
			CategoryID:  def.CategoryID,
			Kind:        def.Kind,
			Amount:      def.Amount,
			Description: def.Description,
			Date:        occurrence,
			IsRecurring: true,
			RecurringID: def.ID,
			Hash:        model.RecurrenceHash(def.ID, occurrence),
			CreatedAt:   time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		}
	}

	t.Run("advances and inserts atomically", func(t *testing.T) {
		store, cleanup := createTestStorage(t)
		defer cleanup()
		ctx := context.Background()

		def := makeTestDefinition("def-1", "owner-1", occurrence)
		if err := store.CreateDefinition(ctx, &def); err != nil {
			t.Fatalf("CreateDefinition() error = %v", err)
		}

		def.NextOccurrence = advanced
		def.LastCreated = &occurrence
		def.UpdatedAt = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

		ok, err := store.MaterializeDueDefinition(ctx, &def, occurrence, makeEntry(&def))
		if err != nil {
			t.Fatalf("MaterializeDueDefinition() error = %v", err)
		}
		if !ok {
			t.Fatal("MaterializeDueDefinition() = false, want true")
		}

		got, err := store.GetDefinition(ctx, "owner-1", "def-1")
		if err != nil {
			t.Fatalf("GetDefinition() error = %v", err)
		}
		if !got.NextOccurrence.Equal(advanced) {
			t.Errorf("NextOccurrence = %v, want %v", got.NextOccurrence, advanced)
		}
		if got.LastCreated == nil || !got.LastCreated.Equal(occurrence) {
			t.Errorf("LastCreated = %v, want %v", got.LastCreated, occurrence)
		}

		entries, err := store.GetEntries(ctx, service.EntryFilter{OwnerID: "owner-1"})
		if err != nil {
			t.Fatalf("GetEntries() error = %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1", len(entries))
		}
		if entries[0].RecurringID != "def-1" || !entries[0].IsRecurring {
			t.Errorf("entry back-reference missing: %+v", entries[0])
		}
		if !entries[0].Date.Equal(occurrence) {
			t.Errorf("entry date = %v, want %v", entries[0].Date, occurrence)
		}
	})

	t.Run("stale guard skips without side effects", func(t *testing.T) {
		store, cleanup := createTestStorage(t)
		defer cleanup()
		ctx := context.Background()

		def := makeTestDefinition("def-1", "owner-1", occurrence)
		if err := store.CreateDefinition(ctx, &def); err != nil {
			t.Fatalf("CreateDefinition() error = %v", err)
		}

		update := def
		update.NextOccurrence = advanced
		update.LastCreated = &occurrence

		// Guard value does not match the stored NextOccurrence.
		stale := occurrence.AddDate(0, -1, 0)
		ok, err := store.MaterializeDueDefinition(ctx, &update, stale, makeEntry(&update))
		if err != nil {
			t.Fatalf("MaterializeDueDefinition() error = %v", err)
		}
		if ok {
			t.Fatal("MaterializeDueDefinition() = true with a stale guard")
		}

		got, err := store.GetDefinition(ctx, "owner-1", "def-1")
		if err != nil {
			t.Fatalf("GetDefinition() error = %v", err)
		}
		if !got.NextOccurrence.Equal(occurrence) {
			t.Errorf("NextOccurrence moved to %v despite stale guard", got.NextOccurrence)
		}

		entries, err := store.GetEntries(ctx, service.EntryFilter{OwnerID: "owner-1"})
		if err != nil {
			t.Fatalf("GetEntries() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("entries = %d, want 0", len(entries))
		}
	})

	t.Run("stores deactivation with the final occurrence", func(t *testing.T) {
		store, cleanup := createTestStorage(t)
		defer cleanup()
		ctx := context.Background()

		def := makeTestDefinition("def-1", "owner-1", occurrence)
		end := occurrence.AddDate(0, 0, 7)
		def.EndDate = &end
		if err := store.CreateDefinition(ctx, &def); err != nil {
			t.Fatalf("CreateDefinition() error = %v", err)
		}

		def.NextOccurrence = advanced
		def.LastCreated = &occurrence
		def.IsActive = false

		ok, err := store.MaterializeDueDefinition(ctx, &def, occurrence, makeEntry(&def))
		if err != nil {
			t.Fatalf("MaterializeDueDefinition() error = %v", err)
		}
		if !ok {
			t.Fatal("MaterializeDueDefinition() = false, want true")
		}

		got, err := store.GetDefinition(ctx, "owner-1", "def-1")
		if err != nil {
			t.Fatalf("GetDefinition() error = %v", err)
		}
		if got.IsActive {
			t.Error("definition still active after deactivating materialization")
		}

		// A second attempt with the old guard must refuse: the definition is
		// no longer active and its occurrence already advanced.
		ok, err = store.MaterializeDueDefinition(ctx, &def, occurrence, makeEntry(&def))
		if err != nil {
			t.Fatalf("second MaterializeDueDefinition() error = %v", err)
		}
		if ok {
			t.Error("second materialization succeeded, want refusal")
		}
	})
}
