// Package storage provides the data persistence layer for the ostinato engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerbeat/ostinato/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidDateRange  = errors.New("start date must be before end date")
	ErrInvalidDefinition = errors.New("invalid recurring definition")
	ErrInvalidEntry      = errors.New("invalid ledger entry")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDefinition checks the fields storage relies on. Domain-level
// validation (frequency vocabulary, positive amounts) happens in the
// recurring service before a definition reaches this layer.
func validateDefinition(def *model.RecurringDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition", ErrNilParameter)
	}
	if def.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDefinition)
	}
	if def.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidDefinition)
	}
	if def.StartDate.IsZero() {
		return fmt.Errorf("%w: missing start date", ErrInvalidDefinition)
	}
	if def.NextOccurrence.IsZero() {
		return fmt.Errorf("%w: missing next occurrence", ErrInvalidDefinition)
	}
	return nil
}

// validateEntry validates a single ledger entry.
func validateEntry(entry *model.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEntry)
	}
	if entry.OwnerID == "" {
		return fmt.Errorf("%w: missing owner ID", ErrInvalidEntry)
	}
	if entry.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidEntry)
	}
	if entry.Description == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidEntry)
	}
	return nil
}

// validateEntries validates a slice of ledger entries.
func validateEntries(entries []model.LedgerEntry) error {
	if entries == nil {
		return fmt.Errorf("%w: entries", ErrNilParameter)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: entries", ErrEmptySlice)
	}

	for i, entry := range entries {
		if err := validateEntry(&entry); err != nil {
			return fmt.Errorf("entry at index %d: %w", i, err)
		}
	}
	return nil
}
