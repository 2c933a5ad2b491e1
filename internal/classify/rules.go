// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package classify

import (
	"strings"

	"github.com/evertrail/evertrail/internal/audit"
)

// Rule maps an event-type pattern to a classification outcome.
// Rules are evaluated in declaration order and the first match wins;
// there is no overlap resolution or scoring blend beyond order.
type Rule struct {
	// Pattern matches the event-type string. An exact pattern matches
	// only itself; a pattern ending in ".*" matches any type in that
	// namespace (e.g. "task.*" matches "task.deleted").
	Pattern string

	Category audit.Category
	Severity audit.Severity

	// RiskScore is the base score before result/actor refinement.
	RiskScore int

	ComplianceTags []string
	RequiresReview bool
	OperationType  audit.OperationType
}

// Matches reports whether the rule's pattern matches the event type.
func (r Rule) Matches(eventType string) bool {
	if ns, ok := strings.CutSuffix(r.Pattern, ".*"); ok {
		return strings.HasPrefix(eventType, ns+".")
	}
	return eventType == r.Pattern
}

// defaultRules is the fixed ordered rule table. Specific patterns come
// before their namespace wildcard so first-match-wins stays meaningful.
var defaultRules = []Rule{
	// Security incidents carry the highest base scores in the table.
	{
		Pattern:        "security.violation",
		Category:       audit.CategorySecurityIncident,
		Severity:       audit.SeverityCritical,
		RiskScore:      95,
		ComplianceTags: []string{"SOC2", "ISO27001"},
		RequiresReview: true,
	},
	{
		Pattern:        "security.*",
		Category:       audit.CategorySecurityIncident,
		Severity:       audit.SeverityError,
		RiskScore:      80,
		ComplianceTags: []string{"SOC2", "ISO27001"},
		RequiresReview: true,
	},

	{
		Pattern:        "auth.mfa.disabled",
		Category:       audit.CategoryAuthentication,
		Severity:       audit.SeverityWarning,
		RiskScore:      70,
		ComplianceTags: []string{"SOC2"},
		RequiresReview: true,
		OperationType:  audit.OperationUpdate,
	},
	{
		Pattern:        "auth.login.failed",
		Category:       audit.CategoryAuthentication,
		Severity:       audit.SeverityWarning,
		RiskScore:      50,
		ComplianceTags: []string{"SOC2"},
	},
	{
		Pattern:        "auth.*",
		Category:       audit.CategoryAuthentication,
		Severity:       audit.SeverityInfo,
		RiskScore:      30,
		ComplianceTags: []string{"SOC2"},
	},

	{
		Pattern:        "permission.revoked",
		Category:       audit.CategoryAuthorization,
		Severity:       audit.SeverityWarning,
		RiskScore:      60,
		ComplianceTags: []string{"SOC2", "ISO27001"},
		RequiresReview: true,
		OperationType:  audit.OperationUpdate,
	},
	{
		Pattern:        "permission.granted",
		Category:       audit.CategoryAuthorization,
		Severity:       audit.SeverityWarning,
		RiskScore:      55,
		ComplianceTags: []string{"SOC2", "ISO27001"},
		RequiresReview: true,
		OperationType:  audit.OperationUpdate,
	},
	{
		Pattern:        "permission.*",
		Category:       audit.CategoryAuthorization,
		Severity:       audit.SeverityInfo,
		RiskScore:      40,
		ComplianceTags: []string{"SOC2"},
	},

	{
		Pattern:        "user.deleted",
		Category:       audit.CategoryUserManagement,
		Severity:       audit.SeverityWarning,
		RiskScore:      65,
		ComplianceTags: []string{"GDPR"},
		RequiresReview: true,
		OperationType:  audit.OperationDelete,
	},
	{
		Pattern:        "user.*",
		Category:       audit.CategoryUserManagement,
		Severity:       audit.SeverityInfo,
		RiskScore:      25,
		ComplianceTags: []string{"GDPR"},
	},

	{
		Pattern:        "data.exported",
		Category:       audit.CategoryDataAccess,
		Severity:       audit.SeverityWarning,
		RiskScore:      70,
		ComplianceTags: []string{"GDPR", "SOC2"},
		RequiresReview: true,
		OperationType:  audit.OperationRead,
	},
	{
		Pattern:        "data.deleted",
		Category:       audit.CategoryDataAccess,
		Severity:       audit.SeverityWarning,
		RiskScore:      60,
		ComplianceTags: []string{"GDPR"},
		RequiresReview: true,
		OperationType:  audit.OperationDelete,
	},
	{
		Pattern:        "data.*",
		Category:       audit.CategoryDataAccess,
		Severity:       audit.SeverityInfo,
		RiskScore:      35,
		ComplianceTags: []string{"GDPR"},
	},

	{
		Pattern:        "ai.*",
		Category:       audit.CategoryAIOperation,
		Severity:       audit.SeverityInfo,
		RiskScore:      45,
		ComplianceTags: []string{"AI_GOVERNANCE"},
	},

	{
		Pattern:        "blueprint.deleted",
		Category:       audit.CategoryBlueprintManagement,
		Severity:       audit.SeverityWarning,
		RiskScore:      60,
		RequiresReview: true,
		OperationType:  audit.OperationDelete,
	},
	{
		Pattern:       "blueprint.*",
		Category:      audit.CategoryBlueprintManagement,
		Severity:      audit.SeverityInfo,
		RiskScore:     20,
		OperationType: "",
	},

	{
		Pattern:       "task.deleted",
		Category:      audit.CategoryTaskManagement,
		Severity:      audit.SeverityInfo,
		RiskScore:     40,
		OperationType: audit.OperationDelete,
	},
	{
		Pattern:   "task.*",
		Category:  audit.CategoryTaskManagement,
		Severity:  audit.SeverityInfo,
		RiskScore: 15,
	},

	{
		Pattern:   "error.*",
		Category:  audit.CategoryErrorEvent,
		Severity:  audit.SeverityError,
		RiskScore: 50,
	},

	{
		Pattern:   "system.*",
		Category:  audit.CategorySystemOperation,
		Severity:  audit.SeverityInfo,
		RiskScore: 25,
	},

	{
		Pattern:        "compliance.*",
		Category:       audit.CategoryComplianceEvent,
		Severity:       audit.SeverityWarning,
		RiskScore:      50,
		ComplianceTags: []string{"SOC2", "GDPR", "ISO27001"},
		RequiresReview: true,
	},
}

// highRiskKeywords flags action text that always warrants review,
// independent of the matched rule.
var highRiskKeywords = []string{
	"delete",
	"remove",
	"revoke",
	"disable",
	"admin",
	"password",
	"mfa",
	"token",
	"secret",
	"credential",
	"permission",
	"export",
	"purge",
}

// isHighRiskAction reports whether the free-form action text contains a
// high-risk keyword. Matching is case-insensitive.
func isHighRiskAction(action string) bool {
	if action == "" {
		return false
	}
	lower := strings.ToLower(action)
	for _, kw := range highRiskKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
