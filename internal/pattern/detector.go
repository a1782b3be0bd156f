package pattern

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
)

// EntrySource provides the read access the detector needs. The full storage
// implementation satisfies it.
type EntrySource interface {
	GetEntries(ctx context.Context, filter service.EntryFilter) ([]model.LedgerEntry, error)
}

var _ EntrySource = (service.Storage)(nil)

// Config holds the thresholds that gate a cluster's promotion to a
// suggestion. The defaults preserve the historical scoring behavior; change
// them only if downstream consumers can absorb a different suggestion set.
type Config struct {
	LookbackMonths int
	MaxSuggestions int
	MinOccurrences int
	MinConfidence  float64
	MaxGapSpread   float64
	FuzzyDedupe    bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LookbackMonths: 6,
		MaxSuggestions: 10,
		MinOccurrences: 3,
		MinConfidence:  60,
		MaxGapSpread:   0.3,
		FuzzyDedupe:    false,
	}
}

// Detector scans a window of historical, non-recurring ledger entries and
// surfaces the regular ones as promotion candidates.
type Detector struct {
	source EntrySource
	now    func() time.Time
	config Config
}

// NewDetector creates a detector with the default configuration.
func NewDetector(source EntrySource) *Detector {
	return NewDetectorWithConfig(source, DefaultConfig())
}

// NewDetectorWithConfig creates a detector with custom thresholds.
func NewDetectorWithConfig(source EntrySource, config Config) *Detector {
	return &Detector{
		source: source,
		now:    time.Now,
		config: config,
	}
}

// DetectPatterns clusters the owner's non-recurring entries from the
// lookback window and returns ranked suggestions, most confident first. A
// non-positive lookbackMonths falls back to the configured default. Thin
// data is not an error: it yields an empty list.
func (d *Detector) DetectPatterns(ctx context.Context, ownerID string, lookbackMonths int) ([]model.PatternSuggestion, error) {
	if lookbackMonths <= 0 {
		lookbackMonths = d.config.LookbackMonths
	}
	now := d.now().UTC()
	from := now.AddDate(0, -lookbackMonths, 0)

	notRecurring := false
	entries, err := d.source.GetEntries(ctx, service.EntryFilter{
		OwnerID:   ownerID,
		StartDate: &from,
		EndDate:   &now,
		Recurring: &notRecurring,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	clusters := groupEntries(entries)
	if d.config.FuzzyDedupe {
		clusters = mergeSimilarClusters(clusters)
	}

	var suggestions []model.PatternSuggestion
	for _, c := range clusters {
		if suggestion := d.analyzeCluster(c); suggestion != nil {
			suggestions = append(suggestions, *suggestion)
		}
	}

	sortSuggestions(suggestions)
	if len(suggestions) > d.config.MaxSuggestions {
		suggestions = suggestions[:d.config.MaxSuggestions]
	}
	return suggestions, nil
}

// cluster collects the entries sharing one signature.
type cluster struct {
	name    string
	members []model.LedgerEntry
	bucket  int
}

// groupEntries buckets entries by signature, in deterministic key order.
func groupEntries(entries []model.LedgerEntry) []cluster {
	grouped := make(map[string]*cluster)
	keys := make([]string, 0)

	for _, entry := range entries {
		key := clusterKey(entry)
		c, ok := grouped[key]
		if !ok {
			c = &cluster{
				name:   normalizeDescription(entry.Description),
				bucket: roundToTen(entry.Amount),
			}
			grouped[key] = c
			keys = append(keys, key)
		}
		c.members = append(c.members, entry)
	}

	sort.Strings(keys)
	clusters := make([]cluster, 0, len(keys))
	for _, key := range keys {
		clusters = append(clusters, *grouped[key])
	}
	return clusters
}

const (
	maxFuzzyDistance = 2
	minFuzzyRunes    = 6
)

// mergeSimilarClusters folds clusters whose normalized descriptions are a
// couple of keystrokes apart into the larger cluster, provided their amounts
// landed in the same bucket. Short names are exempt: at that length a small
// edit distance matches unrelated merchants.
func mergeSimilarClusters(clusters []cluster) []cluster {
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].members) != len(clusters[j].members) {
			return len(clusters[i].members) > len(clusters[j].members)
		}
		return clusters[i].name < clusters[j].name
	})

	merged := make([]cluster, 0, len(clusters))
	for _, c := range clusters {
		target := -1
		if len([]rune(c.name)) >= minFuzzyRunes {
			for i := range merged {
				if merged[i].bucket != c.bucket || len([]rune(merged[i].name)) < minFuzzyRunes {
					continue
				}
				if levenshtein.ComputeDistance(c.name, merged[i].name) <= maxFuzzyDistance {
					target = i
					break
				}
			}
		}
		if target >= 0 {
			merged[target].members = append(merged[target].members, c.members...)
		} else {
			merged = append(merged, c)
		}
	}
	return merged
}

// analyzeCluster decides whether a cluster's inter-entry gaps are regular
// enough to report, and if so builds the suggestion.
func (d *Detector) analyzeCluster(c cluster) *model.PatternSuggestion {
	if len(c.members) < d.config.MinOccurrences {
		return nil
	}

	members := make([]model.LedgerEntry, len(c.members))
	copy(members, c.members)
	sort.Slice(members, func(i, j int) bool {
		if !members[i].Date.Equal(members[j].Date) {
			return members[i].Date.Before(members[j].Date)
		}
		return members[i].ID < members[j].ID
	})

	gaps := dayGaps(members)
	meanGap := mean(gaps)
	if meanGap <= 0 {
		// Every observation landed on one day; there is no interval to estimate.
		return nil
	}
	spread := stdDev(gaps, meanGap)
	if spread >= d.config.MaxGapSpread*meanGap {
		return nil
	}

	confidence := clamp(100-(spread/meanGap)*100, 0, 100)
	if confidence < d.config.MinConfidence {
		return nil
	}

	total := 0.0
	ids := make([]string, len(members))
	for i, member := range members {
		total += member.Amount
		ids[i] = member.ID
	}

	return &model.PatternSuggestion{
		Description: members[0].Description,
		Frequency:   classifyGap(meanGap),
		Amount:      math.Round(total / float64(len(members))),
		Confidence:  confidence,
		EntryIDs:    ids,
		MeanGapDays: meanGap,
		Occurrences: len(members),
	}
}

// dayGaps returns the day distances between consecutive member dates.
// Members must already be sorted by date.
func dayGaps(members []model.LedgerEntry) []float64 {
	gaps := make([]float64, 0, len(members)-1)
	for i := 1; i < len(members); i++ {
		prev := dateOnly(members[i-1].Date)
		curr := dateOnly(members[i].Date)
		gaps = append(gaps, curr.Sub(prev).Hours()/24)
	}
	return gaps
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

// stdDev is the population standard deviation: a cluster is the whole
// observed population, not a sample drawn from one.
func stdDev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, x := range xs {
		d := x - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// classifyGap maps a mean day gap onto the nearest frequency bucket.
func classifyGap(meanGapDays float64) model.Frequency {
	switch {
	case meanGapDays <= 3:
		return model.FrequencyDaily
	case meanGapDays <= 10:
		return model.FrequencyWeekly
	case meanGapDays <= 18:
		return model.FrequencyBiweekly
	case meanGapDays <= 35:
		return model.FrequencyMonthly
	case meanGapDays <= 100:
		return model.FrequencyQuarterly
	default:
		return model.FrequencyYearly
	}
}

// sortSuggestions ranks by confidence, breaking ties toward more
// observations and then lexical description order so output is stable.
func sortSuggestions(suggestions []model.PatternSuggestion) {
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		if suggestions[i].Occurrences != suggestions[j].Occurrences {
			return suggestions[i].Occurrences > suggestions[j].Occurrences
		}
		return suggestions[i].Description < suggestions[j].Description
	})
}
