// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package retention ages events through the storage tiers. A periodic
// sweep migrates HOT events past their retention window to WARM, and
// WARM events to the COLD archive, pacing migrations so sweeps never
// starve the write path.
package retention

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/metrics"
)

// Migrator is the repository surface the sweeper needs. Satisfied by
// audit.Repository.
type Migrator interface {
	Query(ctx context.Context, opts audit.QueryOptions) ([]audit.Event, error)
	MigrateTier(ctx context.Context, id string, from, to audit.Tier) error
}

// Config holds sweeper tuning parameters.
type Config struct {
	// SweepInterval is the period between sweeps.
	SweepInterval time.Duration

	// MigrationsPerSecond paces individual migrations. Zero disables
	// pacing.
	MigrationsPerSecond float64

	// BatchLimit caps how many events one sweep migrates per tier.
	BatchLimit int

	// HotRetention and WarmRetention override the tier retention windows.
	// Zero values use the trail defaults (7 days, 90 days).
	HotRetention  time.Duration
	WarmRetention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:       time.Hour,
		MigrationsPerSecond: 100,
		BatchLimit:          5000,
	}
}

// Sweeper migrates aged events forward through the tiers.
// Implements suture.Service.
type Sweeper struct {
	repo    Migrator
	config  Config
	limiter *rate.Limiter
}

// NewSweeper creates a sweeper over the given repository.
func NewSweeper(repo Migrator, cfg Config) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.HotRetention <= 0 {
		cfg.HotRetention = audit.RetentionHot
	}
	if cfg.WarmRetention <= 0 {
		cfg.WarmRetention = audit.RetentionWarm
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MigrationsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MigrationsPerSecond), 1)
	}

	return &Sweeper{
		repo:    repo,
		config:  cfg,
		limiter: limiter,
	}
}

// Serve runs the sweep loop until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full retention pass: WARM -> COLD first, then
// HOT -> WARM, so an event aged past both windows moves only one step
// per sweep instead of racing through to the archive.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	warm := s.sweepTier(ctx, audit.TierWarm, audit.TierCold, now.Add(-s.config.WarmRetention))
	hot := s.sweepTier(ctx, audit.TierHot, audit.TierWarm, now.Add(-s.config.HotRetention))

	if hot > 0 || warm > 0 {
		logging.Info().
			Int("hot_to_warm", hot).
			Int("warm_to_cold", warm).
			Msg("Retention sweep completed")
	}
}

// sweepTier migrates events older than the cutoff out of one tier and
// returns how many moved. Individual migration failures are logged and
// skipped; the event stays put and the next sweep retries it.
func (s *Sweeper) sweepTier(ctx context.Context, from, to audit.Tier, cutoff time.Time) int {
	events, err := s.repo.Query(ctx, audit.QueryOptions{
		End:   &cutoff,
		Tier:  from,
		Limit: s.config.BatchLimit,
	})
	if err != nil {
		logging.Error().
			Str("tier", string(from)).
			Err(err).
			Msg("Retention sweep query failed")
		return 0
	}

	migrated := 0
	for _, ev := range events {
		if err := s.limiter.Wait(ctx); err != nil {
			return migrated
		}

		if err := s.repo.MigrateTier(ctx, ev.ID, from, to); err != nil {
			metrics.RecordTierMigrationError(string(from), string(to))
			logging.Warn().
				Str("event_id", ev.ID).
				Str("from", string(from)).
				Str("to", string(to)).
				Err(err).
				Msg("Tier migration failed")
			continue
		}
		metrics.RecordTierMigration(string(from), string(to))
		migrated++
	}
	return migrated
}

// String identifies the sweeper in supervisor logs.
func (s *Sweeper) String() string {
	return "retention-sweeper"
}
