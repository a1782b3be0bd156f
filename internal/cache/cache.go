// Package cache provides the owner-scoped definition listing cache. The
// recurring service consults it on reads and invalidates on every mutation;
// implementations are best effort and never surface failures to callers.
package cache

import (
	"github.com/ledgerbeat/ostinato/internal/service"
)

// Listing cache keys are namespaced per owner and listing flavor so an
// owner's mutations can drop both flavors in one invalidation.
func listingKey(ownerID string, includeInactive bool) string {
	if includeInactive {
		return "ostinato:definitions:" + ownerID + ":all"
	}
	return "ostinato:definitions:" + ownerID + ":active"
}

func ownerKeys(ownerID string) []string {
	return []string{
		listingKey(ownerID, false),
		listingKey(ownerID, true),
	}
}

var _ service.ListingCache = Noop{}
