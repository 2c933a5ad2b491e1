// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package classify implements the rule-based classification engine of the
// audit pipeline. Classification is deterministic and side-effect-free so
// it can be reused safely from both the batch and single-event write paths.
package classify

import (
	"math"
	"strings"
	"time"

	"github.com/evertrail/evertrail/internal/audit"
)

// Default classification applied when no rule matches the event type.
const (
	defaultRiskScore = 20
	defaultCategory  = audit.CategorySystemOperation
	defaultSeverity  = audit.SeverityInfo
)

// Risk-score refinement applied after rule lookup.
const (
	failureRiskBonus       = 10
	machineActorRiskBonus  = 5
	highRiskScoreThreshold = 70
)

// Engine maps raw audit events to classifications via an ordered rule
// table with first-match-wins semantics.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine with the fixed default rule table.
func NewEngine() *Engine {
	return &Engine{rules: defaultRules}
}

// NewEngineWithRules creates an engine with a custom ordered rule table.
// Rule order is significant.
func NewEngineWithRules(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Classify maps a raw event to its classification. It is total: a nil
// event or an empty event type falls through to the default
// classification rather than failing, keeping the audit path
// non-blocking for producers.
func (e *Engine) Classify(ev *audit.RawEvent) audit.Classification {
	cls := audit.Classification{
		Category:       defaultCategory,
		Severity:       defaultSeverity,
		RiskScore:      defaultRiskScore,
		ComplianceTags: []string{},
		ClassifiedAt:   time.Now().UTC(),
	}

	if ev == nil {
		return cls
	}

	matched := false
	for _, rule := range e.rules {
		if rule.Matches(ev.EventType) {
			cls.Category = rule.Category
			cls.Severity = rule.Severity
			cls.RiskScore = rule.RiskScore
			cls.AutoReviewRequired = rule.RequiresReview
			cls.OperationType = rule.OperationType
			if len(rule.ComplianceTags) > 0 {
				cls.ComplianceTags = append([]string{}, rule.ComplianceTags...)
			}
			matched = true
			break
		}
	}

	if !matched {
		cls.OperationType = inferOperationFromAction(ev.Action)
	}

	// Refinement after rule lookup.
	if ev.Result == audit.ResultFailure {
		cls.RiskScore += failureRiskBonus
	}
	if ev.Actor.Type == audit.ActorAI || ev.Actor.Type == audit.ActorSystem {
		cls.RiskScore += machineActorRiskBonus
	}
	cls.RiskScore = clampRisk(cls.RiskScore)

	if isHighRiskAction(ev.Action) {
		cls.AutoReviewRequired = true
	}

	cls.AIGenerated = strings.HasPrefix(ev.EventType, "ai.")

	return cls
}

// ClassifyBatch classifies each event independently. No cross-event state.
func (e *Engine) ClassifyBatch(events []*audit.RawEvent) []audit.Classification {
	out := make([]audit.Classification, len(events))
	for i, ev := range events {
		out[i] = e.Classify(ev)
	}
	return out
}

// RiskStatistics computes aggregate risk figures over classified events.
// Returns the zero struct on empty input.
func (e *Engine) RiskStatistics(events []audit.Event) audit.RiskStatistics {
	var stats audit.RiskStatistics
	if len(events) == 0 {
		return stats
	}

	sum := 0
	for i := range events {
		cls := events[i].Classification
		sum += cls.RiskScore
		if cls.RiskScore >= highRiskScoreThreshold {
			stats.HighRiskCount++
		}
		if events[i].Severity == audit.SeverityCritical {
			stats.CriticalCount++
		}
		if cls.AutoReviewRequired {
			stats.ReviewRequiredCount++
		}
	}
	stats.AverageRisk = int(math.Round(float64(sum) / float64(len(events))))

	return stats
}

// clampRisk bounds a risk score to [0, 100].
func clampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// inferOperationFromAction applies the action-verb heuristic used when no
// rule supplies an operation type.
func inferOperationFromAction(action string) audit.OperationType {
	lower := strings.ToLower(action)
	switch {
	case strings.Contains(lower, "create"):
		return audit.OperationCreate
	case strings.Contains(lower, "read"):
		return audit.OperationRead
	case strings.Contains(lower, "update"):
		return audit.OperationUpdate
	case strings.Contains(lower, "delete"):
		return audit.OperationDelete
	case strings.Contains(lower, "execute"):
		return audit.OperationExecute
	default:
		return ""
	}
}
