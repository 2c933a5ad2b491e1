// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an event does not exist in the queried tier.
var ErrNotFound = errors.New("audit event not found")

// ErrInvalidTier is returned for operations on a tier the store does not hold.
// The store holds HOT and WARM only; COLD lives behind an Archiver.
var ErrInvalidTier = errors.New("invalid storage tier")

// Store defines tier-aware persistence for classified audit events.
// Implementations hold the HOT and WARM tiers; the COLD tier is an
// external archival target (see Archiver).
type Store interface {
	// Insert persists events into the given tier.
	Insert(ctx context.Context, tier Tier, events []*Event) error

	// Get retrieves an event by ID from the given tier.
	// Returns ErrNotFound if absent.
	Get(ctx context.Context, tier Tier, id string) (*Event, error)

	// Query retrieves events matching the options within opts.Tier,
	// ordered by timestamp descending (ID descending as tie-break so
	// repeated queries return identical ordered results).
	Query(ctx context.Context, opts QueryOptions) ([]Event, error)

	// Update applies a review annotation to an event. This is the only
	// field mutation the trail permits.
	Update(ctx context.Context, tier Tier, id string, review ReviewAnnotation) error

	// Delete removes an event from the given tier. Used by tier migration.
	Delete(ctx context.Context, tier Tier, id string) error

	// Close releases store resources.
	Close() error
}

// Archiver is the COLD-tier archival target. Records handed to the
// archiver have left the hot/warm store; the physical archive format is
// implementation-defined.
type Archiver interface {
	Archive(ctx context.Context, event *Event) error
	Retrieve(ctx context.Context, id string) (*Event, error)
	Close() error
}

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	tiers map[Tier][]Event
}

// NewMemoryStore creates a new in-memory audit store holding the HOT and
// WARM tiers.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiers: map[Tier][]Event{
			TierHot:  {},
			TierWarm: {},
		},
	}
}

func (s *MemoryStore) checkTier(tier Tier) error {
	if tier != TierHot && tier != TierWarm {
		return ErrInvalidTier
	}
	return nil
}

// Insert persists events into the given tier.
func (s *MemoryStore) Insert(ctx context.Context, tier Tier, events []*Event) error {
	if err := s.checkTier(tier); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		s.tiers[tier] = append(s.tiers[tier], *ev)
	}
	return nil
}

// Get retrieves an event by ID from the given tier.
func (s *MemoryStore) Get(ctx context.Context, tier Tier, id string) (*Event, error) {
	if err := s.checkTier(tier); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.tiers[tier]
	for i := range events {
		if events[i].ID == id {
			ev := events[i]
			return &ev, nil
		}
	}
	return nil, ErrNotFound
}

// Query retrieves events matching the options, most recent first.
func (s *MemoryStore) Query(ctx context.Context, opts QueryOptions) ([]Event, error) {
	opts = opts.normalized()
	if err := s.checkTier(opts.Tier); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Event
	for i := range s.tiers[opts.Tier] {
		ev := s.tiers[opts.Tier][i]
		if matchesOptions(&ev, &opts) {
			results = append(results, ev)
		}
	}

	// Timestamp descending, ID tie-break for stable ordering.
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.After(results[j].Timestamp)
		}
		return strings.Compare(results[i].ID, results[j].ID) > 0
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// matchesOptions returns true if the event matches all filter criteria.
//
//nolint:gocyclo // complexity inherent to multi-criteria filter matching
func matchesOptions(ev *Event, opts *QueryOptions) bool {
	if opts.TenantID != "" && ev.TenantID != opts.TenantID {
		return false
	}
	if opts.ActorID != "" && ev.Actor.ID != opts.ActorID {
		return false
	}
	if opts.ResourceType != "" {
		if ev.Entity == nil || ev.Entity.Type != opts.ResourceType {
			return false
		}
	}
	if opts.ResourceID != "" {
		if ev.Entity == nil || ev.Entity.ID != opts.ResourceID {
			return false
		}
	}
	if opts.Severity != "" && ev.Severity != opts.Severity {
		return false
	}
	if opts.Category != "" && ev.Category != opts.Category {
		return false
	}
	if opts.Result != "" && ev.Result != opts.Result {
		return false
	}
	if opts.Start != nil && ev.Timestamp.Before(*opts.Start) {
		return false
	}
	if opts.End != nil && ev.Timestamp.After(*opts.End) {
		return false
	}
	return true
}

// Update applies a review annotation to an event.
func (s *MemoryStore) Update(ctx context.Context, tier Tier, id string, review ReviewAnnotation) error {
	if err := s.checkTier(tier); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.tiers[tier]
	for i := range events {
		if events[i].ID == id {
			at := review.ReviewedAt
			events[i].ReviewedAt = &at
			events[i].ReviewedBy = review.ReviewedBy
			events[i].ReviewNotes = review.Notes
			events[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes an event from the given tier.
func (s *MemoryStore) Delete(ctx context.Context, tier Tier, id string) error {
	if err := s.checkTier(tier); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.tiers[tier]
	for i := range events {
		if events[i].ID == id {
			s.tiers[tier] = append(events[:i], events[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close implements Store. The memory store holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}
