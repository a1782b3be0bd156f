package sheets

import (
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
)

// ExportData holds everything one schedule report writes: the owner's
// recurring definitions, the pattern suggestions mined for them, and the
// lookback window the suggestions were computed over.
type ExportData struct {
	Definitions []model.RecurringDefinition
	Suggestions []model.PatternSuggestion
	Window      service.DateRange
}
