// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package services

import (
	"context"
	"time"

	"github.com/evertrail/evertrail/internal/logging"
)

// GarbageCollector is the maintenance surface of the cold archive.
// Satisfied by archive.ColdArchive.
type GarbageCollector interface {
	RunGC() error
}

// ArchiveGCService periodically reclaims value-log space in the cold
// archive. TTL-expired records free their space only when a GC cycle
// rewrites the log, so the archive grows unbounded without this service.
type ArchiveGCService struct {
	archive  GarbageCollector
	interval time.Duration
}

// NewArchiveGCService creates an archive GC service. A non-positive
// interval defaults to 10 minutes.
func NewArchiveGCService(archive GarbageCollector, interval time.Duration) *ArchiveGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ArchiveGCService{
		archive:  archive,
		interval: interval,
	}
}

// Serve implements suture.Service.
func (s *ArchiveGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.archive.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("Archive garbage collection failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *ArchiveGCService) String() string {
	return "archive-gc"
}
