// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evertrail/evertrail/internal/audit"
)

func openTestArchive(t *testing.T) *ColdArchive {
	t.Helper()
	a, err := Open(Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func TestArchiveRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	ev := &audit.Event{
		ID:        "ev-cold-1",
		TenantID:  "tenant-1",
		Timestamp: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
		EventType: "user.deleted",
		Severity:  audit.SeverityWarning,
		Tier:      audit.TierCold,
		Classification: audit.Classification{
			RiskScore:      65,
			ComplianceTags: []string{"GDPR"},
		},
	}
	if err := a.Archive(ctx, ev); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := a.Retrieve(ctx, "ev-cold-1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.ID != ev.ID || got.EventType != ev.EventType {
		t.Errorf("retrieved %s/%s, want %s/%s", got.ID, got.EventType, ev.ID, ev.EventType)
	}
	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, ev.Timestamp)
	}
	if got.Classification.RiskScore != 65 {
		t.Errorf("risk score = %d, want 65", got.Classification.RiskScore)
	}
}

func TestRetrieveMissing(t *testing.T) {
	a := openTestArchive(t)

	if _, err := a.Retrieve(context.Background(), "no-such-event"); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestArchiveNilEvent(t *testing.T) {
	a := openTestArchive(t)

	if err := a.Archive(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestRunGCNoRewrite(t *testing.T) {
	a := openTestArchive(t)

	if err := a.RunGC(); err != nil {
		t.Errorf("RunGC on empty archive: %v", err)
	}
}
