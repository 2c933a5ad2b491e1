// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package metrics provides Prometheus instrumentation for the audit
// pipeline: ingestion throughput, batch flush behavior, circuit breaker
// activity, store latency, and tier migration counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Collector metrics
	EventsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_collected_total",
			Help: "Total number of raw audit events received from the bus",
		},
	)

	EventsClassified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_classified_total",
			Help: "Total number of audit events classified",
		},
	)

	EventsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_persisted_total",
			Help: "Total number of audit events written to the trail",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped while the circuit breaker was open",
		},
	)

	ParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_parse_errors_total",
			Help: "Total number of bus payloads that failed to deserialize",
		},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_batch_flush_duration_seconds",
			Help:    "Duration of audit batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_batch_flush_size",
			Help:    "Number of events per flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
	)

	StorageFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_storage_failures_total",
			Help: "Total number of failed trail writes",
		},
	)

	CircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker open transitions",
		},
	)

	// Store metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_store_query_duration_seconds",
			Help:    "Duration of trail store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "tier"},
	)

	// Retention metrics
	TierMigrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_tier_migrations_total",
			Help: "Total number of events migrated between storage tiers",
		},
		[]string{"from", "to"},
	)

	TierMigrationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_tier_migration_errors_total",
			Help: "Total number of failed tier migrations",
		},
		[]string{"from", "to"},
	)
)

// RecordBatchFlush records a successful batch flush.
func RecordBatchFlush(d time.Duration, size int) {
	BatchFlushDuration.Observe(d.Seconds())
	BatchFlushSize.Observe(float64(size))
	EventsPersisted.Add(float64(size))
}

// RecordBatchDropped records a batch dropped by the open circuit breaker.
func RecordBatchDropped(size int) {
	EventsDropped.Add(float64(size))
}

// RecordStoreQuery records a trail store query duration.
func RecordStoreQuery(operation, tier string, d time.Duration) {
	StoreQueryDuration.WithLabelValues(operation, tier).Observe(d.Seconds())
}

// RecordTierMigration records one event migrated between tiers.
func RecordTierMigration(from, to string) {
	TierMigrations.WithLabelValues(from, to).Inc()
}

// RecordTierMigrationError records a failed tier migration.
func RecordTierMigrationError(from, to string) {
	TierMigrationErrors.WithLabelValues(from, to).Inc()
}
