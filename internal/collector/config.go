// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package collector consumes domain events from the bus, classifies them
// through the audit repository and persists them in batches behind a
// circuit breaker.
package collector

import (
	"fmt"
	"time"

	"github.com/evertrail/evertrail/internal/bus"
)

// Config holds collector tuning parameters.
type Config struct {
	// Topics are the bus subscription patterns. Defaults to the wildcard
	// pattern for every audited namespace.
	Topics []string

	// BatchSize triggers a flush when the buffer reaches this many events.
	BatchSize int

	// FlushInterval triggers a flush for partial batches.
	FlushInterval time.Duration

	// FlushTimeout bounds a single flush operation.
	FlushTimeout time.Duration

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerMaxFailures uint32

	// BreakerResetTimeout is how long the breaker stays open before
	// permitting a single half-open trial write.
	BreakerResetTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Topics:              bus.WildcardTopics(),
		BatchSize:           50,
		FlushInterval:       5 * time.Second,
		FlushTimeout:        30 * time.Second,
		BreakerMaxFailures:  3,
		BreakerResetTimeout: 60 * time.Second,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one topic required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush timeout must be positive")
	}
	if c.BreakerMaxFailures == 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.BreakerResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}
	return nil
}
