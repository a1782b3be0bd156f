// Package pattern mines historical ledger entries for undeclared recurring
// charges and ranks them as suggestions.
package pattern

import (
	"fmt"
	"math"
	"strings"

	"github.com/ledgerbeat/ostinato/internal/model"
)

// maxSignatureRunes bounds the description part of a cluster key.
const maxSignatureRunes = 20

// clusterKey builds the signature that groups candidate observations of a
// single recurring pattern: the amount rounded to the nearest ten units
// joined with the normalized description. Entries colliding on this key are
// treated as repeat sightings of the same charge.
func clusterKey(entry model.LedgerEntry) string {
	return fmt.Sprintf("%d_%s", roundToTen(entry.Amount), normalizeDescription(entry.Description))
}

func roundToTen(amount float64) int {
	return int(math.Round(amount/10)) * 10
}

// normalizeDescription lowercases the description, collapses whitespace runs
// to single underscores, and truncates to maxSignatureRunes runes.
func normalizeDescription(description string) string {
	fields := strings.Fields(strings.ToLower(description))
	normalized := strings.Join(fields, "_")

	runes := []rune(normalized)
	if len(runes) > maxSignatureRunes {
		runes = runes[:maxSignatureRunes]
	}
	return string(runes)
}
