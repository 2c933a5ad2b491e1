// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package query implements the read side of the audit trail: eight
// retrieval patterns, each a thin composition over the repository's
// generic query primitive plus one in-memory shaping pass. Every pattern
// is read-only and safe for concurrent use.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/evertrail/evertrail/internal/audit"
)

const (
	// defaultWindowLimit bounds search and anomaly scans.
	defaultWindowLimit = 1000

	// defaultAnomalyThreshold is the risk score above which an event is
	// considered anomalous.
	defaultAnomalyThreshold = 70

	highRiskThreshold = 70
)

// Reader is the repository surface the service consumes. Satisfied by
// audit.Repository.
type Reader interface {
	Query(ctx context.Context, opts audit.QueryOptions) ([]audit.Event, error)
}

// Service provides the audit trail read patterns.
type Service struct {
	repo Reader
}

// NewService creates a query service over the given repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// TimelineEntry is one event in a chronological timeline.
type TimelineEntry struct {
	// Sequence is the 1-based position within the requested window.
	Sequence int         `json:"sequence"`
	Event    audit.Event `json:"event"`
}

// TimelineRequest scopes a timeline query.
type TimelineRequest struct {
	TenantID string
	Start    time.Time
	End      time.Time
	Tier     audit.Tier
	Limit    int
}

// Timeline returns events within [start, end] in ascending time order
// with 1-based sequence numbers.
func (s *Service) Timeline(ctx context.Context, req TimelineRequest) ([]TimelineEntry, error) {
	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID: req.TenantID,
		Start:    timePtr(req.Start),
		End:      timePtr(req.End),
		Tier:     req.Tier,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline query: %w", err)
	}

	sortAscending(events)

	entries := make([]TimelineEntry, len(events))
	for i, ev := range events {
		entries[i] = TimelineEntry{Sequence: i + 1, Event: ev}
	}
	return entries, nil
}

// ActorHistoryRequest scopes an actor history query.
type ActorHistoryRequest struct {
	TenantID string
	ActorID  string

	// EventTypePrefix optionally narrows results to one event namespace,
	// e.g. "auth." keeps only authentication events.
	EventTypePrefix string

	Start *time.Time
	End   *time.Time
	Tier  audit.Tier
	Limit int
}

// ActorHistory returns an actor's events, newest first, optionally
// narrowed to one event-type namespace.
func (s *Service) ActorHistory(ctx context.Context, req ActorHistoryRequest) ([]audit.Event, error) {
	if req.ActorID == "" {
		return nil, fmt.Errorf("actor id required")
	}

	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Start:    req.Start,
		End:      req.End,
		Tier:     req.Tier,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("actor history query: %w", err)
	}

	if req.EventTypePrefix == "" {
		return events, nil
	}

	filtered := events[:0]
	for _, ev := range events {
		if strings.HasPrefix(ev.EventType, req.EventTypePrefix) {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

// EntityHistoryRequest scopes an entity history query.
type EntityHistoryRequest struct {
	TenantID     string
	ResourceType string
	ResourceID   string

	// Operation optionally restricts results to one operation type.
	Operation audit.OperationType

	Start *time.Time
	End   *time.Time
	Tier  audit.Tier
	Limit int
}

// EntityHistory returns the change history of one resource, newest first,
// optionally restricted to a single operation type.
func (s *Service) EntityHistory(ctx context.Context, req EntityHistoryRequest) ([]audit.Event, error) {
	if req.ResourceType == "" || req.ResourceID == "" {
		return nil, fmt.Errorf("resource type and id required")
	}

	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID:     req.TenantID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Start:        req.Start,
		End:          req.End,
		Tier:         req.Tier,
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("entity history query: %w", err)
	}

	if req.Operation == "" {
		return events, nil
	}

	filtered := events[:0]
	for _, ev := range events {
		if ev.OperationType == req.Operation {
			filtered = append(filtered, ev)
		}
	}
	return filtered, nil
}

// ComplianceRequest scopes a compliance report.
type ComplianceRequest struct {
	TenantID string

	// Framework is the compliance tag to report on, e.g. "GDPR" or "SOC2".
	Framework string

	// Tier restricts the report to one tier. Empty queries WARM and HOT
	// merged; compliance reporting skews historical but must not miss
	// recent events.
	Tier audit.Tier

	// HighRiskOnly keeps only events with risk score >= 70.
	HighRiskOnly bool

	// ReviewRequiredOnly keeps only events flagged for review.
	ReviewRequiredOnly bool

	Start *time.Time
	End   *time.Time
	Limit int
}

// ComplianceReport returns events tagged with the requested framework,
// ordered by risk score descending.
func (s *Service) ComplianceReport(ctx context.Context, req ComplianceRequest) ([]audit.Event, error) {
	if req.Framework == "" {
		return nil, fmt.Errorf("compliance framework required")
	}

	tiers := []audit.Tier{audit.TierWarm, audit.TierHot}
	if req.Tier != "" {
		tiers = []audit.Tier{req.Tier}
	}

	var events []audit.Event
	for _, tier := range tiers {
		batch, err := s.repo.Query(ctx, audit.QueryOptions{
			TenantID: req.TenantID,
			Start:    req.Start,
			End:      req.End,
			Tier:     tier,
			Limit:    req.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("compliance query on %s tier: %w", tier, err)
		}
		events = append(events, batch...)
	}

	filtered := events[:0]
	for _, ev := range events {
		if !ev.Classification.HasTag(req.Framework) {
			continue
		}
		if req.HighRiskOnly && ev.Classification.RiskScore < highRiskThreshold {
			continue
		}
		if req.ReviewRequiredOnly && !ev.Classification.AutoReviewRequired {
			continue
		}
		filtered = append(filtered, ev)
	}

	sortByRiskDescending(filtered)

	if req.Limit > 0 && len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered, nil
}

// SearchRequest scopes a full-text search.
type SearchRequest struct {
	TenantID string
	Term     string
	Start    *time.Time
	End      *time.Time
	Tier     audit.Tier

	// WindowLimit bounds how many events the search scans.
	// Defaults to 1000.
	WindowLimit int
}

// Search performs a case-insensitive substring match across event type,
// action, description, actor, resource type, error message and the
// serialized metadata of a bounded event window.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]audit.Event, error) {
	term := strings.ToLower(strings.TrimSpace(req.Term))
	if term == "" {
		return nil, fmt.Errorf("search term required")
	}

	limit := req.WindowLimit
	if limit <= 0 {
		limit = defaultWindowLimit
	}

	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID: req.TenantID,
		Start:    req.Start,
		End:      req.End,
		Tier:     req.Tier,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	matched := events[:0]
	for _, ev := range events {
		if eventMatches(&ev, term) {
			matched = append(matched, ev)
		}
	}
	return matched, nil
}

// eventMatches reports whether any searchable field contains the
// lowercased term.
func eventMatches(ev *audit.Event, term string) bool {
	fields := []string{
		ev.EventType,
		ev.Action,
		ev.Description,
		ev.Actor.ID,
		ev.Actor.Name,
	}
	if ev.Entity != nil {
		fields = append(fields, ev.Entity.Type, ev.Entity.ID, ev.Entity.Name)
	}
	if ev.Error != nil {
		fields = append(fields, ev.Error.Message)
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}

	if len(ev.Metadata) > 0 {
		if serialized, err := json.Marshal(ev.Metadata); err == nil {
			if strings.Contains(strings.ToLower(string(serialized)), term) {
				return true
			}
		}
	}
	return false
}

// AnomalyRequest scopes anomaly detection.
type AnomalyRequest struct {
	TenantID string

	// Threshold is the minimum risk score. Defaults to 70.
	Threshold int

	// ReviewRequiredOnly keeps only events flagged for review.
	ReviewRequiredOnly bool

	Start *time.Time
	End   *time.Time
	Tier  audit.Tier

	// WindowLimit bounds how many events are scanned. Defaults to 1000.
	WindowLimit int
}

// DetectAnomalies returns events at or above the risk threshold within a
// bounded window, highest risk first.
func (s *Service) DetectAnomalies(ctx context.Context, req AnomalyRequest) ([]audit.Event, error) {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = defaultAnomalyThreshold
	}
	limit := req.WindowLimit
	if limit <= 0 {
		limit = defaultWindowLimit
	}

	events, err := s.repo.Query(ctx, audit.QueryOptions{
		TenantID: req.TenantID,
		Start:    req.Start,
		End:      req.End,
		Tier:     req.Tier,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("anomaly query: %w", err)
	}

	anomalies := events[:0]
	for _, ev := range events {
		if ev.Classification.RiskScore < threshold {
			continue
		}
		if req.ReviewRequiredOnly && !ev.Classification.AutoReviewRequired {
			continue
		}
		anomalies = append(anomalies, ev)
	}

	sortByRiskDescending(anomalies)
	return anomalies, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// sortAscending orders events oldest first, ID as the tie-break so equal
// timestamps order deterministically.
func sortAscending(events []audit.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// sortByRiskDescending orders events highest risk first, newest first
// within equal risk.
func sortByRiskDescending(events []audit.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ri, rj := events[i].Classification.RiskScore, events[j].Classification.RiskScore
		if ri != rj {
			return ri > rj
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
