// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/evertrail/evertrail/internal/audit"
)

// Aggregation summarizes an event window in a single pass.
type Aggregation struct {
	TotalEvents   int                    `json:"total_events"`
	ByCategory    map[audit.Category]int `json:"by_category"`
	BySeverity    map[audit.Severity]int `json:"by_severity"`
	ByActor       map[string]int         `json:"by_actor"`
	SuccessCount  int                    `json:"success_count"`
	FailureCount  int                    `json:"failure_count"`
	AverageRisk   float64                `json:"average_risk"`
	HighRiskCount int                    `json:"high_risk_count"`
	CriticalCount int                    `json:"critical_count"`
}

// AggregateRequest scopes an aggregation query.
type AggregateRequest struct {
	TenantID string
	Start    *time.Time
	End      *time.Time
	Tier     audit.Tier
	Limit    int
}

// Aggregate computes counts by category, severity and actor plus risk
// summaries over one query window. Empty windows yield a zero-valued
// aggregation with initialized maps.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) (Aggregation, error) {
	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID: req.TenantID,
		Start:    req.Start,
		End:      req.End,
		Tier:     req.Tier,
		Limit:    req.Limit,
	})
	if err != nil {
		return Aggregation{}, fmt.Errorf("aggregation query: %w", err)
	}
	return aggregate(events), nil
}

func aggregate(events []audit.Event) Aggregation {
	agg := Aggregation{
		ByCategory: make(map[audit.Category]int),
		BySeverity: make(map[audit.Severity]int),
		ByActor:    make(map[string]int),
	}

	var riskSum int
	for _, ev := range events {
		agg.TotalEvents++
		agg.ByCategory[ev.Category]++
		agg.BySeverity[ev.Severity]++
		if ev.Actor.ID != "" {
			agg.ByActor[ev.Actor.ID]++
		}

		switch ev.Result {
		case audit.ResultSuccess:
			agg.SuccessCount++
		case audit.ResultFailure:
			agg.FailureCount++
		}

		risk := ev.Classification.RiskScore
		riskSum += risk
		if risk >= highRiskThreshold {
			agg.HighRiskCount++
		}
		if ev.Severity == audit.SeverityCritical {
			agg.CriticalCount++
		}
	}

	if agg.TotalEvents > 0 {
		agg.AverageRisk = math.Round(float64(riskSum)/float64(agg.TotalEvents)*100) / 100
	}
	return agg
}

// PeriodDeltas holds the signed differences between two aggregations.
type PeriodDeltas struct {
	TotalEvents   int     `json:"total_events"`
	AverageRisk   float64 `json:"average_risk"`
	HighRiskCount int     `json:"high_risk_count"`
	CriticalCount int     `json:"critical_count"`
}

// PeriodComparison is the result of comparing two time windows.
type PeriodComparison struct {
	Base    Aggregation  `json:"base"`
	Compare Aggregation  `json:"compare"`
	Deltas  PeriodDeltas `json:"deltas"`
}

// CompareRequest scopes a period comparison. The two windows are expected
// to be disjoint; overlapping windows are not rejected but produce
// correspondingly skewed deltas.
type CompareRequest struct {
	TenantID string

	BaseStart time.Time
	BaseEnd   time.Time

	CompareStart time.Time
	CompareEnd   time.Time

	Tier  audit.Tier
	Limit int
}

// ComparePeriods aggregates two time windows and returns both results
// with signed deltas (compare minus base).
func (s *Service) ComparePeriods(ctx context.Context, req CompareRequest) (PeriodComparison, error) {
	base, err := s.Aggregate(ctx, AggregateRequest{
		TenantID: req.TenantID,
		Start:    timePtr(req.BaseStart),
		End:      timePtr(req.BaseEnd),
		Tier:     req.Tier,
		Limit:    req.Limit,
	})
	if err != nil {
		return PeriodComparison{}, fmt.Errorf("base period: %w", err)
	}

	compare, err := s.Aggregate(ctx, AggregateRequest{
		TenantID: req.TenantID,
		Start:    timePtr(req.CompareStart),
		End:      timePtr(req.CompareEnd),
		Tier:     req.Tier,
		Limit:    req.Limit,
	})
	if err != nil {
		return PeriodComparison{}, fmt.Errorf("compare period: %w", err)
	}

	return PeriodComparison{
		Base:    base,
		Compare: compare,
		Deltas: PeriodDeltas{
			TotalEvents:   compare.TotalEvents - base.TotalEvents,
			AverageRisk:   compare.AverageRisk - base.AverageRisk,
			HighRiskCount: compare.HighRiskCount - base.HighRiskCount,
			CriticalCount: compare.CriticalCount - base.CriticalCount,
		},
	}, nil
}
