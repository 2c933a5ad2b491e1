// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package query

import (
	"context"
	"testing"
	"time"

	"github.com/evertrail/evertrail/internal/audit"
)

var baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// seedStore builds a memory store with a fixed event set spanning both
// queryable tiers.
func seedStore(t *testing.T) *audit.MemoryStore {
	t.Helper()
	store := audit.NewMemoryStore()

	hot := []*audit.Event{
		{
			ID:             "ev-1",
			TenantID:       "tenant-1",
			Timestamp:      baseTime,
			EventType:      "task.created",
			Action:         "create task",
			Actor:          audit.Actor{ID: "user-1", Name: "Alice Ray", Type: audit.ActorUser},
			Entity:         &audit.Entity{Type: "task", ID: "task-9", Name: "Quarterly rollup"},
			Category:       audit.CategoryTaskManagement,
			Severity:       audit.SeverityInfo,
			Result:         audit.ResultSuccess,
			OperationType:  audit.OperationCreate,
			Classification: audit.Classification{RiskScore: 15},
			Tier:           audit.TierHot,
		},
		{
			ID:             "ev-2",
			TenantID:       "tenant-1",
			Timestamp:      baseTime.Add(time.Minute),
			EventType:      "auth.login.failed",
			Action:         "login",
			Actor:          audit.Actor{ID: "user-1", Type: audit.ActorUser},
			Category:       audit.CategoryAuthentication,
			Severity:       audit.SeverityWarning,
			Result:         audit.ResultFailure,
			Error:          &audit.ErrorInfo{Message: "invalid password"},
			Classification: audit.Classification{RiskScore: 60},
			Tier:           audit.TierHot,
		},
		{
			ID:        "ev-3",
			TenantID:  "tenant-1",
			Timestamp: baseTime.Add(2 * time.Minute),
			EventType: "security.violation.detected",
			Action:    "block request",
			Actor:     audit.Actor{ID: "system", Type: audit.ActorSystem},
			Category:  audit.CategorySecurityIncident,
			Severity:  audit.SeverityCritical,
			Result:    audit.ResultFailure,
			Metadata:  map[string]any{"source_ip": "10.0.0.8"},
			Classification: audit.Classification{
				RiskScore:          95,
				ComplianceTags:     []string{"SOC2", "ISO27001"},
				AutoReviewRequired: true,
			},
			Tier: audit.TierHot,
		},
		{
			ID:             "ev-4",
			TenantID:       "tenant-1",
			Timestamp:      baseTime.Add(3 * time.Minute),
			EventType:      "task.updated",
			Action:         "update task",
			Actor:          audit.Actor{ID: "user-2", Type: audit.ActorUser},
			Entity:         &audit.Entity{Type: "task", ID: "task-9"},
			Category:       audit.CategoryTaskManagement,
			Severity:       audit.SeverityInfo,
			Result:         audit.ResultSuccess,
			OperationType:  audit.OperationUpdate,
			Classification: audit.Classification{RiskScore: 15},
			Tier:           audit.TierHot,
		},
	}
	warm := []*audit.Event{
		{
			ID:            "ev-5",
			TenantID:      "tenant-1",
			Timestamp:     baseTime.Add(-48 * time.Hour),
			EventType:     "user.deleted",
			Action:        "delete user",
			Actor:         audit.Actor{ID: "user-2", Type: audit.ActorUser},
			Category:      audit.CategoryUserManagement,
			Severity:      audit.SeverityWarning,
			Result:        audit.ResultSuccess,
			OperationType: audit.OperationDelete,
			Classification: audit.Classification{
				RiskScore:      65,
				ComplianceTags: []string{"GDPR", "SOC2"},
			},
			Tier: audit.TierWarm,
		},
	}

	ctx := context.Background()
	if err := store.Insert(ctx, audit.TierHot, hot); err != nil {
		t.Fatalf("Insert hot: %v", err)
	}
	if err := store.Insert(ctx, audit.TierWarm, warm); err != nil {
		t.Fatalf("Insert warm: %v", err)
	}
	return store
}

func newTestService(t *testing.T) *Service {
	return NewService(seedStore(t))
}

func TestTimelineSequenceAscending(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.Timeline(context.Background(), TimelineRequest{
		TenantID: "tenant-1",
		Start:    baseTime,
		End:      baseTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("len = %d, want 4", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != i+1 {
			t.Errorf("entry %d sequence = %d, want %d", i, entry.Sequence, i+1)
		}
		if i > 0 && entry.Event.Timestamp.Before(entries[i-1].Event.Timestamp) {
			t.Error("timeline not ordered ascending")
		}
	}
	if entries[0].Event.ID != "ev-1" {
		t.Errorf("first event = %s, want ev-1", entries[0].Event.ID)
	}
}

func TestActorHistoryPrefixFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	all, err := svc.ActorHistory(ctx, ActorHistoryRequest{TenantID: "tenant-1", ActorID: "user-1"})
	if err != nil {
		t.Fatalf("ActorHistory: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].ID != "ev-2" || all[1].ID != "ev-1" {
		t.Errorf("order = %s,%s, want ev-2,ev-1", all[0].ID, all[1].ID)
	}

	auth, err := svc.ActorHistory(ctx, ActorHistoryRequest{
		TenantID:        "tenant-1",
		ActorID:         "user-1",
		EventTypePrefix: "auth.",
	})
	if err != nil {
		t.Fatalf("ActorHistory filtered: %v", err)
	}
	if len(auth) != 1 || auth[0].ID != "ev-2" {
		t.Errorf("filtered = %v, want [ev-2]", eventIDs(auth))
	}

	if _, err := svc.ActorHistory(ctx, ActorHistoryRequest{TenantID: "tenant-1"}); err == nil {
		t.Error("expected error without actor id")
	}
}

func TestEntityHistoryOperationFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	all, err := svc.EntityHistory(ctx, EntityHistoryRequest{
		TenantID:     "tenant-1",
		ResourceType: "task",
		ResourceID:   "task-9",
	})
	if err != nil {
		t.Fatalf("EntityHistory: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	updates, err := svc.EntityHistory(ctx, EntityHistoryRequest{
		TenantID:     "tenant-1",
		ResourceType: "task",
		ResourceID:   "task-9",
		Operation:    audit.OperationUpdate,
	})
	if err != nil {
		t.Fatalf("EntityHistory filtered: %v", err)
	}
	if len(updates) != 1 || updates[0].ID != "ev-4" {
		t.Errorf("filtered = %v, want [ev-4]", eventIDs(updates))
	}

	if _, err := svc.EntityHistory(ctx, EntityHistoryRequest{TenantID: "tenant-1", ResourceType: "task"}); err == nil {
		t.Error("expected error without resource id")
	}
}

func TestComplianceReportMergesTiersByRisk(t *testing.T) {
	svc := newTestService(t)

	// Default tier scope merges WARM and HOT: ev-3 (95, SOC2, hot) and
	// ev-5 (65, SOC2, warm).
	report, err := svc.ComplianceReport(context.Background(), ComplianceRequest{
		TenantID:  "tenant-1",
		Framework: "SOC2",
	})
	if err != nil {
		t.Fatalf("ComplianceReport: %v", err)
	}
	if got := eventIDs(report); len(got) != 2 || got[0] != "ev-3" || got[1] != "ev-5" {
		t.Errorf("report = %v, want [ev-3 ev-5] by risk descending", got)
	}
}

func TestComplianceReportFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	gdpr, err := svc.ComplianceReport(ctx, ComplianceRequest{TenantID: "tenant-1", Framework: "GDPR"})
	if err != nil {
		t.Fatalf("ComplianceReport: %v", err)
	}
	if got := eventIDs(gdpr); len(got) != 1 || got[0] != "ev-5" {
		t.Errorf("GDPR report = %v, want [ev-5]", got)
	}

	highRisk, err := svc.ComplianceReport(ctx, ComplianceRequest{
		TenantID:     "tenant-1",
		Framework:    "SOC2",
		HighRiskOnly: true,
	})
	if err != nil {
		t.Fatalf("ComplianceReport high risk: %v", err)
	}
	if got := eventIDs(highRisk); len(got) != 1 || got[0] != "ev-3" {
		t.Errorf("high-risk report = %v, want [ev-3]", got)
	}

	review, err := svc.ComplianceReport(ctx, ComplianceRequest{
		TenantID:           "tenant-1",
		Framework:          "SOC2",
		ReviewRequiredOnly: true,
	})
	if err != nil {
		t.Fatalf("ComplianceReport review only: %v", err)
	}
	if got := eventIDs(review); len(got) != 1 || got[0] != "ev-3" {
		t.Errorf("review report = %v, want [ev-3]", got)
	}

	if _, err := svc.ComplianceReport(ctx, ComplianceRequest{TenantID: "tenant-1"}); err == nil {
		t.Error("expected error without framework")
	}
}

func TestAggregateSinglePass(t *testing.T) {
	svc := newTestService(t)

	agg, err := svc.Aggregate(context.Background(), AggregateRequest{
		TenantID: "tenant-1",
		Tier:     audit.TierHot,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if agg.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", agg.TotalEvents)
	}
	if agg.ByCategory[audit.CategoryTaskManagement] != 2 {
		t.Errorf("task management count = %d, want 2", agg.ByCategory[audit.CategoryTaskManagement])
	}
	if agg.BySeverity[audit.SeverityCritical] != 1 {
		t.Errorf("critical count = %d, want 1", agg.BySeverity[audit.SeverityCritical])
	}
	if agg.ByActor["user-1"] != 2 {
		t.Errorf("user-1 count = %d, want 2", agg.ByActor["user-1"])
	}
	if agg.SuccessCount != 2 || agg.FailureCount != 2 {
		t.Errorf("success/failure = %d/%d, want 2/2", agg.SuccessCount, agg.FailureCount)
	}
	// (15 + 60 + 95 + 15) / 4 = 46.25
	if agg.AverageRisk != 46.25 {
		t.Errorf("AverageRisk = %v, want 46.25", agg.AverageRisk)
	}
	if agg.HighRiskCount != 1 {
		t.Errorf("HighRiskCount = %d, want 1", agg.HighRiskCount)
	}
	if agg.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", agg.CriticalCount)
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	svc := newTestService(t)

	agg, err := svc.Aggregate(context.Background(), AggregateRequest{TenantID: "no-such-tenant"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.TotalEvents != 0 || agg.AverageRisk != 0 {
		t.Errorf("empty aggregation = %+v, want zero values", agg)
	}
	if agg.ByCategory == nil || agg.BySeverity == nil || agg.ByActor == nil {
		t.Error("expected initialized maps on empty window")
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		term string
		want []string
	}{
		{"actor name", "alice", []string{"ev-1"}},
		{"error message", "INVALID PASSWORD", []string{"ev-2"}},
		{"entity name", "quarterly", []string{"ev-1"}},
		{"metadata", "10.0.0.8", []string{"ev-3"}},
		{"event type", "security.violation", []string{"ev-3"}},
		{"no match", "nonexistent", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Search(ctx, SearchRequest{TenantID: "tenant-1", Term: tt.term})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			ids := eventIDs(got)
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}

	if _, err := svc.Search(ctx, SearchRequest{TenantID: "tenant-1", Term: "   "}); err == nil {
		t.Error("expected error on blank term")
	}
}

func TestComparePeriodsSignedDeltas(t *testing.T) {
	svc := newTestService(t)

	// Base window holds only ev-1 (risk 15); compare window holds ev-2,
	// ev-3 and ev-4 (risks 60, 95, 15).
	cmp, err := svc.ComparePeriods(context.Background(), CompareRequest{
		TenantID:     "tenant-1",
		BaseStart:    baseTime,
		BaseEnd:      baseTime.Add(30 * time.Second),
		CompareStart: baseTime.Add(time.Minute),
		CompareEnd:   baseTime.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ComparePeriods: %v", err)
	}

	if cmp.Base.TotalEvents != 1 || cmp.Compare.TotalEvents != 3 {
		t.Fatalf("totals = %d/%d, want 1/3", cmp.Base.TotalEvents, cmp.Compare.TotalEvents)
	}
	if cmp.Deltas.TotalEvents != 2 {
		t.Errorf("delta total = %d, want 2", cmp.Deltas.TotalEvents)
	}
	// Compare average (60+95+15)/3 = 56.67 minus base 15.
	if cmp.Deltas.AverageRisk != 56.67-15 {
		t.Errorf("delta risk = %v, want %v", cmp.Deltas.AverageRisk, 56.67-15)
	}
	if cmp.Deltas.HighRiskCount != 1 {
		t.Errorf("delta high risk = %d, want 1", cmp.Deltas.HighRiskCount)
	}
	if cmp.Deltas.CriticalCount != 1 {
		t.Errorf("delta critical = %d, want 1", cmp.Deltas.CriticalCount)
	}
}

func TestDetectAnomaliesThreshold(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Default threshold 70 keeps only ev-3 (95) in HOT.
	anomalies, err := svc.DetectAnomalies(ctx, AnomalyRequest{TenantID: "tenant-1", Tier: audit.TierHot})
	if err != nil {
		t.Fatalf("DetectAnomalies: %v", err)
	}
	if got := eventIDs(anomalies); len(got) != 1 || got[0] != "ev-3" {
		t.Errorf("anomalies = %v, want [ev-3]", got)
	}

	// Lower threshold includes ev-2 (60); highest risk still first.
	lowered, err := svc.DetectAnomalies(ctx, AnomalyRequest{
		TenantID:  "tenant-1",
		Tier:      audit.TierHot,
		Threshold: 50,
	})
	if err != nil {
		t.Fatalf("DetectAnomalies lowered: %v", err)
	}
	if got := eventIDs(lowered); len(got) != 2 || got[0] != "ev-3" || got[1] != "ev-2" {
		t.Errorf("anomalies = %v, want [ev-3 ev-2]", got)
	}
}

func eventIDs(events []audit.Event) []string {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
