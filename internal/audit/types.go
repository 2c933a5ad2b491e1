// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package audit defines the audit trail domain model and its tiered
// persistence layer. Events enter the trail classified and immutable;
// the only permitted post-creation mutation is a reviewer annotation.
package audit

import (
	"time"

	"github.com/goccy/go-json"
)

// Tier identifies the storage tier an event lives in.
// Migration order is strictly HOT -> WARM -> COLD; COLD is terminal
// and lives outside the hot/warm store (see Archiver).
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Retention windows per tier.
const (
	RetentionHot  = 7 * 24 * time.Hour
	RetentionWarm = 90 * 24 * time.Hour
	RetentionCold = 7 * 365 * 24 * time.Hour
)

// Next returns the destination tier of a forward migration.
// ok is false for COLD, which is terminal.
func (t Tier) Next() (next Tier, ok bool) {
	switch t {
	case TierHot:
		return TierWarm, true
	case TierWarm:
		return TierCold, true
	default:
		return "", false
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierHot || t == TierWarm || t == TierCold
}

// Category is one of the 11 fixed audit categories, one per domain
// namespace on the event bus.
type Category string

const (
	CategoryBlueprintManagement Category = "BLUEPRINT_MANAGEMENT"
	CategoryTaskManagement      Category = "TASK_MANAGEMENT"
	CategoryUserManagement      Category = "USER_MANAGEMENT"
	CategoryAuthentication      Category = "AUTHENTICATION"
	CategoryAuthorization       Category = "AUTHORIZATION"
	CategoryDataAccess          Category = "DATA_ACCESS"
	CategoryAIOperation         Category = "AI_OPERATION"
	CategorySystemOperation     Category = "SYSTEM_OPERATION"
	CategoryErrorEvent          Category = "ERROR_EVENT"
	CategorySecurityIncident    Category = "SECURITY_INCIDENT"
	CategoryComplianceEvent     Category = "COMPLIANCE_EVENT"
)

// Severity indicates how serious an audit event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Result indicates the outcome of the audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
)

// OperationType is the CRUD/EXECUTE shape of the audited operation.
// Empty means the operation type could not be inferred.
type OperationType string

const (
	OperationCreate  OperationType = "CREATE"
	OperationRead    OperationType = "READ"
	OperationUpdate  OperationType = "UPDATE"
	OperationDelete  OperationType = "DELETE"
	OperationExecute OperationType = "EXECUTE"
)

// ActorType categorizes who (or what) performed the audited action.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorTeam    ActorType = "team"
	ActorPartner ActorType = "partner"
	ActorAI      ActorType = "ai"
	ActorSystem  ActorType = "system"
)

// Actor identifies who performed an action.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type"`
	Name string    `json:"name,omitempty"`
}

// Entity describes the target resource of an action.
type Entity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// FieldChange records a single field-level mutation.
type FieldChange struct {
	Field    string          `json:"field"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// ErrorInfo carries error details for failed operations.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RequestContext carries the request-scoped context of the originating call.
type RequestContext struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// RawEvent is an audit event as received from the source bus, before
// classification. Immutable once constructed.
type RawEvent struct {
	// EventType is the dot-hierarchical type, e.g. "task.deleted".
	EventType string `json:"event_type"`

	// TenantID is the tenant/blueprint identifier the event belongs to.
	TenantID string `json:"tenant_id"`

	Timestamp time.Time `json:"timestamp"`

	Actor Actor `json:"actor"`

	// Entity is the optional target-entity descriptor.
	Entity *Entity `json:"entity,omitempty"`

	// Changes is the optional field-level change list.
	Changes []FieldChange `json:"changes,omitempty"`

	Result Result `json:"result"`

	// Action is the free-form action text, used by the classifier's
	// operation-type and high-risk heuristics.
	Action string `json:"action,omitempty"`

	Description string `json:"description,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`

	Context *RequestContext `json:"context,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Classification carries the fields assigned exactly once at write time.
type Classification struct {
	Category           Category      `json:"category"`
	Severity           Severity      `json:"severity"`
	RiskScore          int           `json:"risk_score"`
	ComplianceTags     []string      `json:"compliance_tags"`
	AutoReviewRequired bool          `json:"auto_review_required"`
	AIGenerated        bool          `json:"ai_generated"`
	OperationType      OperationType `json:"operation_type,omitempty"`
	ClassifiedAt       time.Time     `json:"classified_at"`
}

// HasTag reports whether the classification carries the given compliance tag.
func (c Classification) HasTag(tag string) bool {
	for _, t := range c.ComplianceTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Event is a classified, persisted audit event. Classification fields are
// set once at write time; the review annotation is the only mutation the
// trail permits afterwards.
type Event struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`

	Actor     Actor  `json:"actor"`
	EventType string `json:"event_type"`

	// Category and Severity are denormalized from Classification for
	// direct filtering in the store.
	Category Category `json:"category"`
	Severity Severity `json:"severity"`

	Entity        *Entity       `json:"entity,omitempty"`
	OperationType OperationType `json:"operation_type,omitempty"`
	Changes       []FieldChange `json:"changes,omitempty"`

	Result      Result `json:"result"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`

	Error   *ErrorInfo      `json:"error,omitempty"`
	Context *RequestContext `json:"context,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Classification Classification `json:"classification"`

	Tier Tier `json:"tier"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	MigratedAt *time.Time `json:"migrated_at,omitempty"`

	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
}

// ReviewAnnotation is the only permitted post-creation mutation of an Event.
type ReviewAnnotation struct {
	ReviewedBy string    `json:"reviewed_by"`
	Notes      string    `json:"notes,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// RiskStatistics summarizes classified events for operational reporting.
type RiskStatistics struct {
	AverageRisk         int `json:"average_risk"`
	HighRiskCount       int `json:"high_risk_count"`
	CriticalCount       int `json:"critical_count"`
	ReviewRequiredCount int `json:"review_required_count"`
}

// QueryOptions defines the conjunctive filter surface of the trail.
// Zero-valued fields mean "no constraint on that field", not "match null".
// An empty TenantID queries all tenants; access control for that capability
// is the caller's responsibility, not this subsystem's.
type QueryOptions struct {
	TenantID     string
	ActorID      string
	ResourceType string
	ResourceID   string
	Severity     Severity
	Category     Category
	Result       Result
	Start        *time.Time
	End          *time.Time

	// Tier selects the tier to query. Defaults to HOT when empty.
	// Cross-tier queries are not supported; callers needing them query
	// each tier and merge.
	Tier Tier

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// normalized returns a copy with defaults applied.
func (o QueryOptions) normalized() QueryOptions {
	if o.Tier == "" {
		o.Tier = TierHot
	}
	return o
}
