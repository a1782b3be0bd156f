package cache

import (
	"context"

	"github.com/ledgerbeat/ostinato/internal/model"
)

// Noop is the listing cache used when no Redis server is configured. Every
// read misses and writes are discarded, so the service always falls through
// to storage.
type Noop struct{}

// GetListing always misses.
func (Noop) GetListing(_ context.Context, _ string, _ bool) ([]model.RecurringDefinition, bool) {
	return nil, false
}

// SetListing discards the listing.
func (Noop) SetListing(_ context.Context, _ string, _ bool, _ []model.RecurringDefinition) {}

// InvalidateOwner does nothing.
func (Noop) InvalidateOwner(_ context.Context, _ string) {}
