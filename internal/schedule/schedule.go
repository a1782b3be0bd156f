// Package schedule computes occurrence dates for recurring definitions.
package schedule

import (
	"time"

	"github.com/ledgerbeat/ostinato/internal/model"
)

// NextOccurrence returns the occurrence that follows from for the given
// frequency. The result is strictly after from for every valid frequency;
// unknown frequencies return from unchanged, so callers validate upstream.
//
// Month-based steps clamp to the last day of the target month when the
// anchor day does not exist there: Jan 31 plus one month lands on Feb 28
// (or Feb 29 in a leap year), and Feb 29 plus one year lands on Feb 28.
func NextOccurrence(from time.Time, f model.Frequency) time.Time {
	switch f {
	case model.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case model.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case model.FrequencyMonthly:
		return addMonths(from, 1)
	case model.FrequencyQuarterly:
		return addMonths(from, 3)
	case model.FrequencyYearly:
		return addMonths(from, 12)
	default:
		return from
	}
}

// addMonths steps forward by whole calendar months, clamping the day of
// month instead of letting the stdlib normalize Jan 31 + 1 month into
// March 2.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	m := int(month) + months
	y := year + (m-1)/12
	m = (m-1)%12 + 1

	if last := daysIn(y, time.Month(m)); day > last {
		day = last
	}

	return time.Date(y, time.Month(m), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
