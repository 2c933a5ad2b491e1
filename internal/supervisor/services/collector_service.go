// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package services

import (
	"context"
	"fmt"

	"github.com/evertrail/evertrail/internal/collector"
)

// CollectorService runs the audit collector under supervision. Start
// subscribes and begins consuming; on context cancellation Close flushes
// pending events before returning.
type CollectorService struct {
	collector *collector.Collector
}

// NewCollectorService creates a collector service wrapper.
func NewCollectorService(c *collector.Collector) *CollectorService {
	return &CollectorService{collector: c}
}

// Serve implements suture.Service.
func (s *CollectorService) Serve(ctx context.Context) error {
	if err := s.collector.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}

	<-ctx.Done()

	if err := s.collector.Close(); err != nil {
		return fmt.Errorf("close collector: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *CollectorService) String() string {
	return "audit-collector"
}
