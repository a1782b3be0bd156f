// Package engine implements the batch driver that materializes due recurring
// definitions into ledger entries.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/schedule"
	"github.com/ledgerbeat/ostinato/internal/service"
)

// Engine drives the periodic materialization of recurring definitions.
type Engine struct {
	storage service.Storage
	workers int
}

// Config holds configuration options for the engine.
type Config struct {
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
	}
}

// New creates an engine with the default configuration.
func New(storage service.Storage) *Engine {
	return NewWithConfig(storage, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(storage service.Storage, config Config) *Engine {
	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		storage: storage,
		workers: workers,
	}
}

// materializeResult reports the outcome of processing a single definition.
type materializeResult struct {
	Err          error
	DefinitionID string
	Description  string
	Materialized bool
	Deactivated  bool
}

// ProcessDue finds every active, auto-creating definition whose next
// occurrence is on or before now, creates one ledger entry per definition,
// and advances (or deactivates) its schedule. Each definition is updated
// with a conditional write guarded on its current next occurrence, so
// overlapping invocations materialize each occurrence exactly once. One
// definition failing never aborts the rest of the batch.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time) (*service.ProcessSummary, error) {
	startTime := time.Now()
	now = now.UTC()

	due, err := e.storage.GetDueDefinitions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due definitions: %w", err)
	}

	if len(due) == 0 {
		slog.Debug("no due definitions", "now", now.Format("2006-01-02"))
		return &service.ProcessSummary{Duration: time.Since(startTime)}, nil
	}

	slog.Info("Starting materialization run",
		"due_definitions", len(due),
		"now", now.Format("2006-01-02"),
		"workers", e.workers)

	results := e.processParallel(ctx, due, now)

	summary := &service.ProcessSummary{}
	for _, result := range results {
		summary.Processed++
		switch {
		case result.Err != nil:
			summary.Failed++
			common.LogError(result.Err, "failed to materialize definition", common.Fields{
				"definition_id": result.DefinitionID,
				"description":   result.Description,
			})
		case !result.Materialized:
			summary.Skipped++
			slog.Debug("occurrence already materialized by a concurrent run",
				"definition_id", result.DefinitionID)
		default:
			summary.Materialized++
			if result.Deactivated {
				summary.Deactivated++
			}
		}
	}
	summary.Duration = time.Since(startTime)

	slog.Info("Materialization run complete",
		"processed", summary.Processed,
		"materialized", summary.Materialized,
		"skipped", summary.Skipped,
		"deactivated", summary.Deactivated,
		"failed", summary.Failed,
		"duration", summary.Duration.Round(time.Millisecond))

	if ctx.Err() != nil {
		return summary, fmt.Errorf("materialization run interrupted: %w", ctx.Err())
	}
	return summary, nil
}

// processParallel fans the due definitions out across the worker pool.
func (e *Engine) processParallel(ctx context.Context, due []model.RecurringDefinition, now time.Time) []materializeResult {
	workChan := make(chan model.RecurringDefinition, len(due))
	for _, def := range due {
		workChan <- def
	}
	close(workChan)

	resultsChan := make(chan materializeResult, len(due))

	var wg sync.WaitGroup
	wg.Add(e.workers)
	for i := 0; i < e.workers; i++ {
		go func() {
			defer wg.Done()
			for def := range workChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				resultsChan <- e.materialize(ctx, def, now)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]materializeResult, 0, len(due))
	for result := range resultsChan {
		results = append(results, result)
	}
	return results
}

// materialize creates the ledger entry for one due occurrence and advances
// the definition past it. The storage write is conditional on the occurrence
// still being current; a stale read reports Materialized=false with no error.
func (e *Engine) materialize(ctx context.Context, def model.RecurringDefinition, now time.Time) materializeResult {
	result := materializeResult{
		DefinitionID: def.ID,
		Description:  def.Description,
	}

	occurrence := def.NextOccurrence
	next := schedule.NextOccurrence(occurrence, def.Frequency)
	if !next.After(occurrence) {
		result.Err = common.NewStoreError("advance definition", def.ID,
			fmt.Errorf("unsupported frequency %q", def.Frequency))
		return result
	}

	updated := def
	updated.LastCreated = &occurrence
	updated.NextOccurrence = next
	updated.UpdatedAt = now
	if updated.Expired(next) {
		updated.IsActive = false
		result.Deactivated = true
	}

	entry := &model.LedgerEntry{
		ID:          uuid.New().String(),
		OwnerID:     def.OwnerID,
		CategoryID:  def.CategoryID,
		Kind:        def.Kind,
		Amount:      def.Amount,
		Description: def.Description,
		Merchant:    def.Merchant,
		Notes:       def.Notes,
		Tags:        def.Tags,
		Date:        occurrence,
		IsRecurring: true,
		RecurringID: def.ID,
		Hash:        model.RecurrenceHash(def.ID, occurrence),
		CreatedAt:   now,
	}

	materialized, err := e.storage.MaterializeDueDefinition(ctx, &updated, occurrence, entry)
	if err != nil {
		result.Err = common.NewStoreError("materialize definition", def.ID, err)
		return result
	}
	result.Materialized = materialized

	if materialized {
		slog.Debug("materialized occurrence",
			"definition_id", def.ID,
			"description", def.Description,
			"occurrence", occurrence.Format("2006-01-02"),
			"next_occurrence", next.Format("2006-01-02"),
			"deactivated", result.Deactivated)
	}
	return result
}
