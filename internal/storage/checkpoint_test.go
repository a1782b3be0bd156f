package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCheckpointStore(t *testing.T) (*SQLiteStorage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "checkpoint-test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))

	return store, dbPath
}

func seedCheckpointData(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	next := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		def := makeTestDefinition(fmt.Sprintf("def-%d", i), "owner-1", next)
		require.NoError(t, store.CreateDefinition(ctx, &def))
	}

	entries := []model.LedgerEntry{
		{ID: "entry-1", Hash: "hash-1", OwnerID: "owner-1", Date: next, Description: "NETFLIX", Kind: model.KindExpense, Amount: 15.99},
		{ID: "entry-2", Hash: "hash-2", OwnerID: "owner-1", Date: next, Description: "SPOTIFY", Kind: model.KindExpense, Amount: 9.99},
	}
	_, err := store.SaveEntries(ctx, entries)
	require.NoError(t, err)
}

func TestCheckpointManager_Create(t *testing.T) {
	store, dbPath := setupCheckpointStore(t)
	seedCheckpointData(t, store)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	tests := []struct {
		errType     error
		name        string
		tag         string
		description string
		wantErr     bool
	}{
		{
			name:        "Create checkpoint with tag",
			tag:         "test-checkpoint",
			description: "Test checkpoint",
			wantErr:     false,
		},
		{
			name:        "Create checkpoint without tag (auto-generated)",
			tag:         "",
			description: "Unnamed checkpoint",
			wantErr:     false,
		},
		{
			name:        "Create checkpoint with invalid tag (path traversal)",
			tag:         "../invalid",
			description: "Invalid checkpoint",
			wantErr:     true,
		},
		{
			name:        "Create duplicate checkpoint",
			tag:         "test-checkpoint",
			description: "Duplicate checkpoint",
			wantErr:     true,
			errType:     ErrCheckpointExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := manager.Create(ctx, tt.tag, tt.description)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errType != nil {
					assert.ErrorIs(t, err, tt.errType)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, info)

			if tt.tag != "" {
				assert.Equal(t, tt.tag, info.ID)
			} else {
				assert.Contains(t, info.ID, "checkpoint-")
			}

			assert.Equal(t, tt.description, info.Description)
			assert.Greater(t, info.FileSize, int64(0))
			assert.Equal(t, 3, info.Definitions)
			assert.Equal(t, 2, info.Entries)
			assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
			assert.False(t, info.IsAuto)

			// Snapshot and its metadata sidecar both exist
			checkpointsDir := filepath.Join(filepath.Dir(dbPath), "checkpoints")
			_, err = os.Stat(filepath.Join(checkpointsDir, info.ID+".db"))
			assert.NoError(t, err)
			_, err = os.Stat(filepath.Join(checkpointsDir, info.ID+".meta.json"))
			assert.NoError(t, err)
		})
	}
}

func TestCheckpointManager_List(t *testing.T) {
	store, _ := setupCheckpointStore(t)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	_, err = manager.Create(ctx, "checkpoint-1", "First checkpoint")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond) // Ensure different timestamps

	_, err = manager.Create(ctx, "checkpoint-2", "Second checkpoint")
	require.NoError(t, err)

	checkpoints, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)

	// Newest first
	assert.Equal(t, "checkpoint-2", checkpoints[0].ID)
	assert.Equal(t, "checkpoint-1", checkpoints[1].ID)
	assert.Equal(t, "Second checkpoint", checkpoints[0].Description)
	assert.Equal(t, "First checkpoint", checkpoints[1].Description)
}

func TestCheckpointManager_Restore(t *testing.T) {
	store, dbPath := setupCheckpointStore(t)
	seedCheckpointData(t, store)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	_, err = manager.Create(ctx, "restore-test", "Checkpoint for restore test")
	require.NoError(t, err)

	// Mutate the database after the snapshot
	require.NoError(t, store.DeleteDefinition(ctx, "owner-1", "def-1"))

	filter := service.DefinitionFilter{OwnerID: "owner-1", IncludeInactive: true}
	defs, err := store.ListDefinitions(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	// The database must be closed before Restore swaps the file
	require.NoError(t, store.Close())
	require.NoError(t, manager.Restore(ctx, "restore-test"))

	reopened, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	defs, err = reopened.ListDefinitions(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, defs, 3, "deleted definition should be back after restore")

	err = manager.Restore(ctx, "non-existent")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointManager_Delete(t *testing.T) {
	store, dbPath := setupCheckpointStore(t)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	_, err = manager.Create(ctx, "delete-test", "Checkpoint for delete test")
	require.NoError(t, err)

	checkpoints, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)

	require.NoError(t, manager.Delete(ctx, "delete-test"))

	checkpoints, err = manager.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	checkpointPath := filepath.Join(filepath.Dir(dbPath), "checkpoints", "delete-test.db")
	_, err = os.Stat(checkpointPath)
	assert.True(t, os.IsNotExist(err))

	err = manager.Delete(ctx, "non-existent")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointManager_AutoCheckpoint(t *testing.T) {
	store, _ := setupCheckpointStore(t)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, manager.AutoCheckpoint(ctx, "process"))

	checkpoints, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.True(t, checkpoints[0].IsAuto)
	assert.Contains(t, checkpoints[0].ID, "auto-process-")
	assert.Contains(t, checkpoints[0].Description, "Automatic checkpoint before process")

	// A second snapshot in the same minute is a no-op, not an error
	require.NoError(t, manager.AutoCheckpoint(ctx, "process"))
}

func TestCheckpointManager_IntegrityCheck(t *testing.T) {
	store, dbPath := setupCheckpointStore(t)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	_, err = manager.Create(ctx, "integrity-test", "Checkpoint for integrity test")
	require.NoError(t, err)

	// Corrupt the snapshot file
	checkpointPath := filepath.Join(filepath.Dir(dbPath), "checkpoints", "integrity-test.db")
	require.NoError(t, os.WriteFile(checkpointPath, []byte("corrupted data"), 0600))

	err = manager.Restore(ctx, "integrity-test")
	assert.ErrorIs(t, err, ErrCheckpointCorrupted)
}

func TestCheckpointManager_CollectRowCounts(t *testing.T) {
	store, _ := setupCheckpointStore(t)
	seedCheckpointData(t, store)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	counts := manager.collectRowCounts(context.Background())
	assert.Equal(t, 3, counts["definitions"])
	assert.Equal(t, 2, counts["entries"])
}

func TestCheckpointManager_CleanupOldAutoCheckpoints(t *testing.T) {
	store, _ := setupCheckpointStore(t)

	manager, err := store.NewCheckpointManager()
	require.NoError(t, err)

	ctx := context.Background()

	// Distinct prefixes keep the generated tags unique within a minute
	for i := 0; i < 7; i++ {
		require.NoError(t, manager.AutoCheckpoint(ctx, fmt.Sprintf("run-%d", i)))
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	checkpoints, err := manager.List(ctx)
	require.NoError(t, err)

	autoCount := 0
	for _, cp := range checkpoints {
		if cp.IsAuto {
			autoCount++
		}
	}
	assert.Equal(t, maxAutoCheckpoints, autoCount)
}
