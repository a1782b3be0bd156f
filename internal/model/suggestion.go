package model

// PatternSuggestion is a candidate recurring pattern mined from historical
// ledger entries. Suggestions are recomputed on every detection run and never
// persisted; accepting one is the caller's job (typically by creating a
// RecurringDefinition from it).
type PatternSuggestion struct {
	Description string
	Frequency   Frequency
	EntryIDs    []string
	Amount      float64
	Confidence  float64
	MeanGapDays float64
	Occurrences int
}
