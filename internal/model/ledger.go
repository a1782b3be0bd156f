package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// LedgerEntry represents a single dated financial event in a user's ledger.
// Entries arrive from two sources: statement imports and the recurring engine.
// Engine-created entries carry IsRecurring=true and a back-reference to the
// definition that produced them.
type LedgerEntry struct {
	Date        time.Time
	CreatedAt   time.Time
	ID          string
	OwnerID     string
	CategoryID  string
	Description string
	Merchant    string
	Notes       string
	RecurringID string
	Hash        string
	Kind        EntryKind
	Tags        []string
	Amount      float64
	IsRecurring bool
}

// GenerateHash creates a unique hash for duplicate detection on import.
func (e *LedgerEntry) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		e.Date.Format("2006-01-02"),
		e.Amount,
		e.Description,
		e.OwnerID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// RecurrenceHash derives the hash for an engine-created entry. Keying on the
// definition and occurrence date makes re-materializing the same occurrence
// collide with the existing row instead of duplicating it.
func RecurrenceHash(definitionID string, occurrence time.Time) string {
	data := fmt.Sprintf("%s:%s", definitionID, occurrence.Format("2006-01-02"))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
