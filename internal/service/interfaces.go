// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/ledgerbeat/ostinato/internal/model"
)

// DefinitionFilter defines filtering options for definition listings.
type DefinitionFilter struct {
	OwnerID         string
	IncludeInactive bool
}

// EntryFilter defines filtering options for ledger entry queries. Nil date
// bounds are open; Recurring nil matches both engine-created and imported
// entries.
type EntryFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Recurring *bool
	OwnerID   string
	Limit     int
}

// DefinitionPatch carries the fields an update may change. Nil pointers
// leave the stored value untouched; Tags replaces the whole set when
// non-nil. ClearEndDate removes an end date, which EndDate alone cannot
// express.
type DefinitionPatch struct {
	EndDate      *time.Time
	CategoryID   *string
	Description  *string
	Merchant     *string
	Notes        *string
	Frequency    *model.Frequency
	Amount       *float64
	AutoCreate   *bool
	Tags         []string
	ClearEndDate bool
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Recurring definition operations
	CreateDefinition(ctx context.Context, def *model.RecurringDefinition) error
	GetDefinition(ctx context.Context, ownerID, id string) (*model.RecurringDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]model.RecurringDefinition, error)
	UpdateDefinition(ctx context.Context, def *model.RecurringDefinition) error
	DeleteDefinition(ctx context.Context, ownerID, id string) error
	GetDueDefinitions(ctx context.Context, now time.Time) ([]model.RecurringDefinition, error)

	// MaterializeDueDefinition atomically inserts entry and stores def's new
	// schedule state, guarded by expectedNext: when the stored NextOccurrence
	// no longer equals expectedNext (a concurrent run advanced it first) it
	// returns false and changes nothing.
	MaterializeDueDefinition(ctx context.Context, def *model.RecurringDefinition, expectedNext time.Time, entry *model.LedgerEntry) (bool, error)

	// Ledger entry operations
	SaveEntries(ctx context.Context, entries []model.LedgerEntry) (int, error)
	GetEntries(ctx context.Context, filter EntryFilter) ([]model.LedgerEntry, error)
	GetEntryByID(ctx context.Context, id string) (*model.LedgerEntry, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// ListingCache caches owner-scoped definition listings so repeated List
// calls skip the database. Implementations are best effort: failures are
// logged, never surfaced, and a miss simply falls through to storage.
type ListingCache interface {
	GetListing(ctx context.Context, ownerID string, includeInactive bool) ([]model.RecurringDefinition, bool)
	SetListing(ctx context.Context, ownerID string, includeInactive bool, defs []model.RecurringDefinition)
	InvalidateOwner(ctx context.Context, ownerID string)
}

// ProcessSummary shows the results of a materialization run.
type ProcessSummary struct {
	Processed    int
	Materialized int
	Skipped      int
	Deactivated  int
	Failed       int
	Duration     time.Duration
}

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
