// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evertrail/evertrail/internal/logging"
)

// ErrMigrationOrder is returned when a tier migration violates the
// strict HOT -> WARM -> COLD order.
var ErrMigrationOrder = errors.New("tier migration must follow hot -> warm -> cold")

// ErrNoArchiver is returned for WARM -> COLD migration when no archival
// target is configured.
var ErrNoArchiver = errors.New("no cold archiver configured")

// Classifier assigns classification fields to raw events at write time.
// Satisfied by classify.Engine.
type Classifier interface {
	Classify(ev *RawEvent) Classification
	ClassifyBatch(events []*RawEvent) []Classification
	RiskStatistics(events []Event) RiskStatistics
}

// Repository persists classified audit events across the tiered trail.
// Events are classified on write, always start in HOT, migrate forward
// only, and are never deleted by this subsystem (only migrated).
type Repository struct {
	store      Store
	classifier Classifier
	archiver   Archiver // nil disables WARM -> COLD migration
}

// NewRepository creates a repository over the given store and classifier.
// The archiver may be nil; WARM -> COLD migration then fails with
// ErrNoArchiver.
func NewRepository(store Store, classifier Classifier, archiver Archiver) *Repository {
	return &Repository{
		store:      store,
		classifier: classifier,
		archiver:   archiver,
	}
}

// newEvent builds the persisted event shape from a raw event and its
// classification, stamped into the HOT tier.
func newEvent(raw *RawEvent, cls Classification) *Event {
	now := time.Now().UTC()
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &Event{
		ID:             uuid.New().String(),
		TenantID:       raw.TenantID,
		Timestamp:      ts,
		Actor:          raw.Actor,
		EventType:      raw.EventType,
		Category:       cls.Category,
		Severity:       cls.Severity,
		Entity:         raw.Entity,
		OperationType:  cls.OperationType,
		Changes:        raw.Changes,
		Result:         raw.Result,
		Action:         raw.Action,
		Description:    raw.Description,
		Error:          raw.Error,
		Context:        raw.Context,
		Metadata:       raw.Metadata,
		Classification: cls,
		Tier:           TierHot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Create classifies a raw event, stamps the HOT tier, persists it and
// returns the stored event with its assigned ID.
func (r *Repository) Create(ctx context.Context, raw *RawEvent) (*Event, error) {
	ev := newEvent(raw, r.classifier.Classify(raw))

	if err := r.store.Insert(ctx, TierHot, []*Event{ev}); err != nil {
		return nil, fmt.Errorf("insert audit event: %w", err)
	}
	return ev, nil
}

// CreateBatch classifies raw events as a batch and persists them
// sequentially. There is no atomicity guarantee across the batch: a
// mid-batch failure leaves earlier events persisted and returns the
// events stored so far along with the error.
func (r *Repository) CreateBatch(ctx context.Context, raws []*RawEvent) ([]*Event, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	classifications := r.classifier.ClassifyBatch(raws)

	stored := make([]*Event, 0, len(raws))
	for i, raw := range raws {
		ev := newEvent(raw, classifications[i])
		if err := r.store.Insert(ctx, TierHot, []*Event{ev}); err != nil {
			return stored, fmt.Errorf("insert audit event %d of %d: %w", i+1, len(raws), err)
		}
		stored = append(stored, ev)
	}
	return stored, nil
}

// GetByID retrieves an event from the given tier. A HOT lookup that
// misses falls back to WARM automatically; nothing ever falls back to
// COLD. Returns ErrNotFound when the event is in neither tier.
func (r *Repository) GetByID(ctx context.Context, id string, tier Tier) (*Event, error) {
	if tier == "" {
		tier = TierHot
	}

	ev, err := r.store.Get(ctx, tier, id)
	if err == nil {
		return ev, nil
	}
	if tier == TierHot && errors.Is(err, ErrNotFound) {
		return r.store.Get(ctx, TierWarm, id)
	}
	return nil, err
}

// Query retrieves events matching the options within one tier, ordered
// by timestamp descending.
func (r *Repository) Query(ctx context.Context, opts QueryOptions) ([]Event, error) {
	return r.store.Query(ctx, opts)
}

// Update applies a review annotation, the review path being the only
// permitted post-creation mutation.
func (r *Repository) Update(ctx context.Context, id string, tier Tier, review ReviewAnnotation) error {
	if tier == "" {
		tier = TierHot
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}
	return r.store.Update(ctx, tier, id, review)
}

// MigrateTier moves an event one step forward in the tier order, stamping
// a migration timestamp. WARM -> COLD hands the record to the archiver.
//
// Migration is not transactional: a crash between the destination write
// and the source delete can leave the record in both tiers or neither.
// This is a known limitation of the trail, not a handled case.
func (r *Repository) MigrateTier(ctx context.Context, id string, from, to Tier) error {
	next, ok := from.Next()
	if !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrMigrationOrder, from, to)
	}

	ev, err := r.store.Get(ctx, from, id)
	if err != nil {
		return fmt.Errorf("read %s event for migration: %w", from, err)
	}

	now := time.Now().UTC()
	ev.Tier = to
	ev.MigratedAt = &now
	ev.UpdatedAt = now

	if to == TierCold {
		if r.archiver == nil {
			return ErrNoArchiver
		}
		if err := r.archiver.Archive(ctx, ev); err != nil {
			return fmt.Errorf("archive event to cold tier: %w", err)
		}
	} else {
		if err := r.store.Insert(ctx, to, []*Event{ev}); err != nil {
			return fmt.Errorf("write event to %s tier: %w", to, err)
		}
	}

	if err := r.store.Delete(ctx, from, id); err != nil {
		return fmt.Errorf("delete event from %s tier after migration: %w", from, err)
	}

	logging.Debug().
		Str("event_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Audit event migrated")
	return nil
}

// GetRiskStatistics computes risk statistics over the query result.
func (r *Repository) GetRiskStatistics(ctx context.Context, opts QueryOptions) (RiskStatistics, error) {
	events, err := r.store.Query(ctx, opts)
	if err != nil {
		return RiskStatistics{}, err
	}
	return r.classifier.RiskStatistics(events), nil
}
