// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evertrail/evertrail/internal/audit"
)

type noopClassifier struct{}

func (noopClassifier) Classify(ev *audit.RawEvent) audit.Classification {
	return audit.Classification{}
}

func (noopClassifier) ClassifyBatch(events []*audit.RawEvent) []audit.Classification {
	return make([]audit.Classification, len(events))
}

func (noopClassifier) RiskStatistics(events []audit.Event) audit.RiskStatistics {
	return audit.RiskStatistics{}
}

type stubArchiver struct {
	mu     sync.Mutex
	events map[string]*audit.Event
}

func newStubArchiver() *stubArchiver {
	return &stubArchiver{events: make(map[string]*audit.Event)}
}

func (a *stubArchiver) Archive(ctx context.Context, ev *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events[ev.ID] = ev
	return nil
}

func (a *stubArchiver) Retrieve(ctx context.Context, id string) (*audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev, ok := a.events[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	return ev, nil
}

func (a *stubArchiver) Close() error { return nil }

func (a *stubArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func seedTier(t *testing.T, store audit.Store, tier audit.Tier, id string, age time.Duration) {
	t.Helper()
	ev := &audit.Event{
		ID:        id,
		Timestamp: time.Now().UTC().Add(-age),
		EventType: "task.created",
		Tier:      tier,
	}
	if err := store.Insert(context.Background(), tier, []*audit.Event{ev}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestSweepMigratesAgedEvents(t *testing.T) {
	store := audit.NewMemoryStore()
	archiver := newStubArchiver()
	repo := audit.NewRepository(store, noopClassifier{}, archiver)

	seedTier(t, store, audit.TierHot, "hot-aged", 10*24*time.Hour)
	seedTier(t, store, audit.TierHot, "hot-fresh", time.Hour)
	seedTier(t, store, audit.TierWarm, "warm-aged", 120*24*time.Hour)
	seedTier(t, store, audit.TierWarm, "warm-fresh", 30*24*time.Hour)

	sweeper := NewSweeper(repo, Config{
		MigrationsPerSecond: 0, // unpaced
		BatchLimit:          100,
	})
	sweeper.Sweep(context.Background())

	ctx := context.Background()

	// Aged HOT event moved to WARM; fresh one stayed.
	if _, err := store.Get(ctx, audit.TierHot, "hot-aged"); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("hot-aged still in HOT: err = %v", err)
	}
	if _, err := store.Get(ctx, audit.TierWarm, "hot-aged"); err != nil {
		t.Errorf("hot-aged not in WARM: %v", err)
	}
	if _, err := store.Get(ctx, audit.TierHot, "hot-fresh"); err != nil {
		t.Errorf("hot-fresh evicted early: %v", err)
	}

	// Aged WARM event archived; fresh one stayed.
	if _, err := store.Get(ctx, audit.TierWarm, "warm-aged"); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("warm-aged still in WARM: err = %v", err)
	}
	if _, err := archiver.Retrieve(ctx, "warm-aged"); err != nil {
		t.Errorf("warm-aged not archived: %v", err)
	}
	if _, err := store.Get(ctx, audit.TierWarm, "warm-fresh"); err != nil {
		t.Errorf("warm-fresh archived early: %v", err)
	}
}

func TestSweepMovesOneStepPerPass(t *testing.T) {
	store := audit.NewMemoryStore()
	archiver := newStubArchiver()
	repo := audit.NewRepository(store, noopClassifier{}, archiver)

	// Older than both retention windows. The first sweep moves it only
	// HOT -> WARM; it reaches the archive on the next pass.
	seedTier(t, store, audit.TierHot, "ancient", 365*24*time.Hour)

	sweeper := NewSweeper(repo, Config{BatchLimit: 100})
	ctx := context.Background()

	sweeper.Sweep(ctx)
	if archiver.count() != 0 {
		t.Fatalf("archived %d events after first sweep, want 0", archiver.count())
	}
	if _, err := store.Get(ctx, audit.TierWarm, "ancient"); err != nil {
		t.Fatalf("event not in WARM after first sweep: %v", err)
	}

	sweeper.Sweep(ctx)
	if archiver.count() != 1 {
		t.Errorf("archived %d events after second sweep, want 1", archiver.count())
	}
}

func TestSweepSkipsFailedMigrations(t *testing.T) {
	repo := &failingMigrator{failID: "ev-2"}
	sweeper := NewSweeper(repo, Config{BatchLimit: 100})

	sweeper.Sweep(context.Background())

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.migrated) != 2 {
		t.Errorf("migrated %d events, want 2 (failure skipped)", len(repo.migrated))
	}
	for _, id := range repo.migrated {
		if id == "ev-2" {
			t.Error("failed event reported as migrated")
		}
	}
}

// failingMigrator serves three aged HOT events and fails migration for
// one of them.
type failingMigrator struct {
	mu       sync.Mutex
	failID   string
	migrated []string
}

func (m *failingMigrator) Query(ctx context.Context, opts audit.QueryOptions) ([]audit.Event, error) {
	if opts.Tier != audit.TierHot {
		return nil, nil
	}
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	return []audit.Event{
		{ID: "ev-1", Timestamp: old, Tier: audit.TierHot},
		{ID: "ev-2", Timestamp: old, Tier: audit.TierHot},
		{ID: "ev-3", Timestamp: old, Tier: audit.TierHot},
	}, nil
}

func (m *failingMigrator) MigrateTier(ctx context.Context, id string, from, to audit.Tier) error {
	if id == m.failID {
		return errors.New("migration failed")
	}
	m.mu.Lock()
	m.migrated = append(m.migrated, id)
	m.mu.Unlock()
	return nil
}
