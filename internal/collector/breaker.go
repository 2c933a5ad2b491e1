// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package collector

import (
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/metrics"
)

// newBreaker creates the storage circuit breaker. The breaker opens after
// the configured number of consecutive failures, drops writes while open,
// and permits exactly one trial write after the reset timeout. Each transition
// to open increments trips, the collector's statistics counter.
func newBreaker(maxFailures uint32, resetTimeout time.Duration, trips *int64) *gobreaker.CircuitBreaker[[]*audit.Event] {
	settings := gobreaker.Settings{
		Name:        "audit-storage",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				atomic.AddInt64(trips, 1)
				metrics.CircuitBreakerTrips.Inc()
			}
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Storage circuit breaker state change")
		},
	}

	return gobreaker.NewCircuitBreaker[[]*audit.Event](settings)
}

// breakerRejected reports whether an error means the breaker refused the
// call without invoking storage.
func breakerRejected(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
