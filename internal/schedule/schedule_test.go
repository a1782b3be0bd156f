package schedule

import (
	"testing"
	"time"

	"github.com/ledgerbeat/ostinato/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		freq model.Frequency
		want time.Time
	}{
		{
			name: "daily advances one day",
			from: date(2024, 3, 15),
			freq: model.FrequencyDaily,
			want: date(2024, 3, 16),
		},
		{
			name: "daily crosses month boundary",
			from: date(2024, 1, 31),
			freq: model.FrequencyDaily,
			want: date(2024, 2, 1),
		},
		{
			name: "weekly advances seven days",
			from: date(2024, 1, 1),
			freq: model.FrequencyWeekly,
			want: date(2024, 1, 8),
		},
		{
			name: "biweekly advances fourteen days",
			from: date(2024, 1, 1),
			freq: model.FrequencyBiweekly,
			want: date(2024, 1, 15),
		},
		{
			name: "monthly keeps the day of month",
			from: date(2024, 1, 1),
			freq: model.FrequencyMonthly,
			want: date(2024, 2, 1),
		},
		{
			name: "monthly from mid-month",
			from: date(2024, 4, 15),
			freq: model.FrequencyMonthly,
			want: date(2024, 5, 15),
		},
		{
			name: "monthly clamps Jan 31 to leap February",
			from: date(2024, 1, 31),
			freq: model.FrequencyMonthly,
			want: date(2024, 2, 29),
		},
		{
			name: "monthly clamps Jan 31 to Feb 28 in a common year",
			from: date(2023, 1, 31),
			freq: model.FrequencyMonthly,
			want: date(2023, 2, 28),
		},
		{
			name: "monthly clamps Oct 31 to Nov 30",
			from: date(2024, 10, 31),
			freq: model.FrequencyMonthly,
			want: date(2024, 11, 30),
		},
		{
			name: "monthly crosses the year boundary",
			from: date(2024, 12, 15),
			freq: model.FrequencyMonthly,
			want: date(2025, 1, 15),
		},
		{
			name: "quarterly advances three months",
			from: date(2024, 1, 15),
			freq: model.FrequencyQuarterly,
			want: date(2024, 4, 15),
		},
		{
			name: "quarterly clamps Jan 31 to Apr 30",
			from: date(2024, 1, 31),
			freq: model.FrequencyQuarterly,
			want: date(2024, 4, 30),
		},
		{
			name: "quarterly crosses the year boundary",
			from: date(2024, 11, 5),
			freq: model.FrequencyQuarterly,
			want: date(2025, 2, 5),
		},
		{
			name: "yearly advances one year",
			from: date(2024, 6, 1),
			freq: model.FrequencyYearly,
			want: date(2025, 6, 1),
		},
		{
			name: "yearly clamps Feb 29 to Feb 28",
			from: date(2024, 2, 29),
			freq: model.FrequencyYearly,
			want: date(2025, 2, 28),
		},
		{
			name: "unknown frequency returns input unchanged",
			from: date(2024, 1, 1),
			freq: model.Frequency("fortnightly"),
			want: date(2024, 1, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.from, tt.freq)
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence(%s, %s) = %s, want %s",
					tt.from.Format("2006-01-02"), tt.freq,
					got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestNextOccurrence_StrictlyAfter(t *testing.T) {
	// Anchors chosen to stress month-end clamping and leap handling.
	anchors := []time.Time{
		date(2024, 1, 1),
		date(2024, 1, 31),
		date(2024, 2, 29),
		date(2023, 12, 31),
		date(2025, 6, 15),
	}

	for _, freq := range model.Frequencies() {
		for _, anchor := range anchors {
			current := anchor
			for step := 0; step < 48; step++ {
				next := NextOccurrence(current, freq)
				if !next.After(current) {
					t.Fatalf("%s step %d from %s: %s is not strictly after %s",
						freq, step, anchor.Format("2006-01-02"),
						next.Format("2006-01-02"), current.Format("2006-01-02"))
				}
				current = next
			}
		}
	}
}

func TestNextOccurrence_DayBasedComposition(t *testing.T) {
	// k daily steps equal adding k days; weekly and biweekly scale the same way.
	start := date(2024, 2, 27)

	current := start
	for i := 0; i < 30; i++ {
		current = NextOccurrence(current, model.FrequencyDaily)
	}
	if want := start.AddDate(0, 0, 30); !current.Equal(want) {
		t.Errorf("30 daily steps = %s, want %s", current.Format("2006-01-02"), want.Format("2006-01-02"))
	}

	current = start
	for i := 0; i < 10; i++ {
		current = NextOccurrence(current, model.FrequencyWeekly)
	}
	if want := start.AddDate(0, 0, 70); !current.Equal(want) {
		t.Errorf("10 weekly steps = %s, want %s", current.Format("2006-01-02"), want.Format("2006-01-02"))
	}

	current = start
	for i := 0; i < 5; i++ {
		current = NextOccurrence(current, model.FrequencyBiweekly)
	}
	if want := start.AddDate(0, 0, 70); !current.Equal(want) {
		t.Errorf("5 biweekly steps = %s, want %s", current.Format("2006-01-02"), want.Format("2006-01-02"))
	}
}

func TestNextOccurrence_ClampAnchorsToClampedDay(t *testing.T) {
	// Once clamped, later steps follow the clamped day rather than the
	// original anchor: Jan 31 -> Feb 29 -> Mar 29.
	first := NextOccurrence(date(2024, 1, 31), model.FrequencyMonthly)
	second := NextOccurrence(first, model.FrequencyMonthly)
	if want := date(2024, 3, 29); !second.Equal(want) {
		t.Errorf("second step = %s, want %s", second.Format("2006-01-02"), want.Format("2006-01-02"))
	}
}

func TestNextOccurrence_PreservesClockAndZone(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	from := time.Date(2024, 5, 31, 9, 30, 0, 0, zone)

	got := NextOccurrence(from, model.FrequencyMonthly)
	if got.Hour() != 9 || got.Minute() != 30 {
		t.Errorf("clock changed: got %s", got.Format(time.RFC3339))
	}
	if got.Location() != zone {
		t.Errorf("location changed: got %v", got.Location())
	}
	if got.Day() != 30 || got.Month() != time.June {
		t.Errorf("date = %s, want 2024-06-30", got.Format("2006-01-02"))
	}
}
