// Package model defines the core domain models used throughout the application.
package model

import "time"

// Frequency describes how often a recurring definition fires.
type Frequency string

// Supported frequencies, ordered from shortest to longest cadence.
const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Frequencies lists every supported frequency.
func Frequencies() []Frequency {
	return []Frequency{
		FrequencyDaily,
		FrequencyWeekly,
		FrequencyBiweekly,
		FrequencyMonthly,
		FrequencyQuarterly,
		FrequencyYearly,
	}
}

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly,
		FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// EntryKind distinguishes money coming in from money going out.
type EntryKind string

const (
	// KindIncome marks deposits: paychecks, refunds, interest.
	KindIncome EntryKind = "income"
	// KindExpense marks withdrawals: rent, subscriptions, purchases.
	KindExpense EntryKind = "expense"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// RecurringDefinition is a template for a financial event that repeats on a
// fixed cadence. The engine materializes it into ledger entries as occurrences
// come due; definitions are deactivated rather than deleted when they expire.
type RecurringDefinition struct {
	StartDate      time.Time
	NextOccurrence time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EndDate        *time.Time
	LastCreated    *time.Time
	ID             string
	OwnerID        string
	CategoryID     string
	Description    string
	Merchant       string
	Notes          string
	Kind           EntryKind
	Frequency      Frequency
	Tags           []string
	Amount         float64
	IsActive       bool
	AutoCreate     bool
}

// IsDue reports whether the definition should materialize an entry at now.
// A definition past its end date is not due; the engine deactivates it when
// the advance crosses the end date.
func (d *RecurringDefinition) IsDue(now time.Time) bool {
	if !d.IsActive || !d.AutoCreate {
		return false
	}
	if d.NextOccurrence.After(now) {
		return false
	}
	if d.EndDate != nil && d.EndDate.Before(now) {
		return false
	}
	return true
}

// Expired reports whether occurrence falls past the definition's end date.
func (d *RecurringDefinition) Expired(occurrence time.Time) bool {
	return d.EndDate != nil && occurrence.After(*d.EndDate)
}
