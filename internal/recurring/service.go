// Package recurring implements the definition lifecycle: validation,
// creation, listing, updates, and the pause/resume transitions. All
// operations are owner-scoped; schedule advancement belongs to the engine.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cache"
	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/schedule"
	"github.com/ledgerbeat/ostinato/internal/service"

	"github.com/google/uuid"
)

// Service manages recurring definitions on top of the storage layer.
type Service struct {
	storage service.Storage
	cache   service.ListingCache
	now     func() time.Time
}

// NewService creates a definition lifecycle service. A nil listing cache
// falls back to the no-op cache.
func NewService(storage service.Storage, listingCache service.ListingCache) (*Service, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if listingCache == nil {
		listingCache = cache.Noop{}
	}

	return &Service{
		storage: storage,
		cache:   listingCache,
		now:     time.Now,
	}, nil
}

// CreateParams carries the fields for a new definition.
type CreateParams struct {
	StartDate   time.Time
	EndDate     *time.Time
	OwnerID     string
	CategoryID  string
	Description string
	Merchant    string
	Notes       string
	Kind        model.EntryKind
	Frequency   model.Frequency
	Tags        []string
	Amount      float64
	AutoCreate  bool
}

func (p *CreateParams) validate() error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return common.NewValidationError("ownerID", "is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return common.NewValidationError("description", "is required")
	}
	if p.Amount <= 0 {
		return common.NewValidationError("amount", "must be greater than zero")
	}
	if !p.Kind.Valid() {
		return common.NewValidationError("kind", "must be income or expense")
	}
	if !p.Frequency.Valid() {
		return common.NewValidationError("frequency", "must be one of daily, weekly, biweekly, monthly, quarterly, yearly")
	}
	if p.StartDate.IsZero() {
		return common.NewValidationError("startDate", "is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return common.NewValidationError("endDate", "must not be before the start date")
	}
	return nil
}

// Create validates params and persists a new active definition. The first
// occurrence is the start date itself, so a definition starting today is
// already due.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.RecurringDefinition, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	def := &model.RecurringDefinition{
		ID:             uuid.New().String(),
		OwnerID:        params.OwnerID,
		CategoryID:     params.CategoryID,
		Kind:           params.Kind,
		Amount:         params.Amount,
		Description:    strings.TrimSpace(params.Description),
		Merchant:       params.Merchant,
		Notes:          params.Notes,
		Frequency:      params.Frequency,
		StartDate:      params.StartDate,
		EndDate:        params.EndDate,
		NextOccurrence: params.StartDate,
		Tags:           params.Tags,
		IsActive:       true,
		AutoCreate:     params.AutoCreate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.storage.CreateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}
	s.cache.InvalidateOwner(ctx, def.OwnerID)

	slog.Info("created recurring definition",
		"definition_id", def.ID,
		"owner_id", def.OwnerID,
		"frequency", def.Frequency,
		"next_occurrence", def.NextOccurrence.Format("2006-01-02"))

	return def, nil
}

// Get retrieves a single definition scoped to its owner.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*model.RecurringDefinition, error) {
	def, err := s.storage.GetDefinition(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("definition %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// List returns the owner's definitions, consulting the listing cache first.
// Active definitions only unless includeInactive is set.
func (s *Service) List(ctx context.Context, ownerID string, includeInactive bool) ([]model.RecurringDefinition, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, common.NewValidationError("ownerID", "is required")
	}

	if defs, ok := s.cache.GetListing(ctx, ownerID, includeInactive); ok {
		return defs, nil
	}

	defs, err := s.storage.ListDefinitions(ctx, service.DefinitionFilter{
		OwnerID:         ownerID,
		IncludeInactive: includeInactive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	s.cache.SetListing(ctx, ownerID, includeInactive, defs)
	return defs, nil
}

// Update applies a patch to an existing definition. Changing the frequency
// restarts the schedule: the next occurrence is recomputed from the current
// clock rather than the old anchor.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch service.DefinitionPatch) (*model.RecurringDefinition, error) {
	def, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if patch.Amount != nil {
		if *patch.Amount <= 0 {
			return nil, common.NewValidationError("amount", "must be greater than zero")
		}
		def.Amount = *patch.Amount
	}
	if patch.Description != nil {
		if strings.TrimSpace(*patch.Description) == "" {
			return nil, common.NewValidationError("description", "is required")
		}
		def.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.CategoryID != nil {
		def.CategoryID = *patch.CategoryID
	}
	if patch.Merchant != nil {
		def.Merchant = *patch.Merchant
	}
	if patch.Notes != nil {
		def.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		def.Tags = patch.Tags
	}
	if patch.AutoCreate != nil {
		def.AutoCreate = *patch.AutoCreate
	}
	if patch.Frequency != nil {
		if !patch.Frequency.Valid() {
			return nil, common.NewValidationError("frequency", "must be one of daily, weekly, biweekly, monthly, quarterly, yearly")
		}
		if *patch.Frequency != def.Frequency {
			def.Frequency = *patch.Frequency
			def.NextOccurrence = schedule.NextOccurrence(s.now().UTC(), def.Frequency)
			if def.NextOccurrence.Before(def.StartDate) {
				def.NextOccurrence = def.StartDate
			}
		}
	}

	switch {
	case patch.ClearEndDate:
		def.EndDate = nil
	case patch.EndDate != nil:
		if patch.EndDate.Before(def.StartDate) {
			return nil, common.NewValidationError("endDate", "must not be before the start date")
		}
		def.EndDate = patch.EndDate
	}

	// An end date behind the schedule ends the definition immediately.
	if def.IsActive && def.Expired(def.NextOccurrence) {
		def.IsActive = false
	}

	def.UpdatedAt = s.now().UTC()
	if err := s.storage.UpdateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	return def, nil
}

// Pause stops materialization without touching the schedule; the definition
// keeps its NextOccurrence so a later resume can decide what to do with it.
func (s *Service) Pause(ctx context.Context, ownerID, id string) (*model.RecurringDefinition, error) {
	def, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return def, nil
	}

	def.IsActive = false
	def.UpdatedAt = s.now().UTC()
	if err := s.storage.UpdateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to pause definition: %w", err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	slog.Info("paused recurring definition", "definition_id", id, "owner_id", ownerID)
	return def, nil
}

// Resume reactivates a paused definition. The next occurrence is recomputed
// from the current clock so the engine does not fire catch-up occurrences
// for the paused stretch; a resume before the start date schedules the
// first occurrence on the start date as usual.
func (s *Service) Resume(ctx context.Context, ownerID, id string) (*model.RecurringDefinition, error) {
	def, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if def.IsActive {
		return def, nil
	}

	now := s.now().UTC()
	next := schedule.NextOccurrence(now, def.Frequency)
	if next.Before(def.StartDate) {
		next = def.StartDate
	}
	if def.EndDate != nil && next.After(*def.EndDate) {
		return nil, common.NewValidationError("endDate", "definition has already ended")
	}

	def.IsActive = true
	def.NextOccurrence = next
	def.UpdatedAt = now
	if err := s.storage.UpdateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to resume definition: %w", err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	slog.Info("resumed recurring definition",
		"definition_id", id,
		"owner_id", ownerID,
		"next_occurrence", next.Format("2006-01-02"))
	return def, nil
}

// Delete removes a definition permanently. Ledger entries it produced are
// kept; only the template disappears.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	err := s.storage.DeleteDefinition(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("definition %s: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	slog.Info("deleted recurring definition", "definition_id", id, "owner_id", ownerID)
	return nil
}
