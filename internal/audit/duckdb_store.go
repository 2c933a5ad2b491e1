// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/metrics"
)

// Physical collections per tier. COLD has no table here; it lives
// behind the Archiver.
var tierTables = map[Tier]string{
	TierHot:  "audit_events_hot",
	TierWarm: "audit_events_warm",
}

// DuckDBStore implements Store using DuckDB, with one table per tier.
// Suitable for durable production use of the hot/warm trail.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a DuckDB-backed trail store. Call CreateTables
// during initialization before first use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTables creates the per-tier event tables and their indexes if
// they don't exist.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	for tier, table := range tierTables {
		schema := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL,
				event_type TEXT NOT NULL,
				category TEXT NOT NULL,
				severity TEXT NOT NULL,

				-- Actor information
				actor_id TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				actor_name TEXT,

				-- Entity information (optional)
				entity_id TEXT,
				entity_type TEXT,
				entity_name TEXT,

				-- Operation details
				operation_type TEXT,
				changes JSON,
				result TEXT NOT NULL,
				action TEXT,
				description TEXT,
				error_code TEXT,
				error_message TEXT,

				-- Request context
				ctx_request_id TEXT,
				ctx_session_id TEXT,
				ctx_ip_address TEXT,
				ctx_user_agent TEXT,

				metadata JSON,

				-- Classification (set once at write time)
				risk_score INTEGER NOT NULL,
				compliance_tags JSON,
				auto_review_required BOOLEAN NOT NULL,
				ai_generated BOOLEAN NOT NULL,
				classified_at TIMESTAMPTZ NOT NULL,

				-- Trail metadata
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				migrated_at TIMESTAMPTZ,

				-- Review annotation (only permitted mutation)
				reviewed_at TIMESTAMPTZ,
				reviewed_by TEXT,
				review_notes TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s(timestamp DESC);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_tenant ON %[1]s(tenant_id);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_actor ON %[1]s(actor_id);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_entity ON %[1]s(entity_type, entity_id);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_category ON %[1]s(category);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_severity ON %[1]s(severity);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_risk ON %[1]s(risk_score DESC);
		`, table)

		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s tier schema: %w", tier, err)
			}
		}
	}

	logging.Info().Msg("Audit trail tables created/verified")
	return nil
}

func tableForTier(tier Tier) (string, error) {
	table, ok := tierTables[tier]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}
	return table, nil
}

// Insert persists events into the given tier's table. Rows are inserted
// one at a time without a surrounding transaction; a mid-batch failure
// leaves earlier rows persisted.
func (s *DuckDBStore) Insert(ctx context.Context, tier Tier, events []*Event) error {
	table, err := tableForTier(tier)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := insertQuery(table)
	for _, ev := range events {
		if ev == nil {
			return fmt.Errorf("event cannot be nil")
		}
		if _, err := s.db.ExecContext(ctx, query, insertParams(ev)...); err != nil {
			return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// insertQuery returns the INSERT statement for a tier table.
func insertQuery(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			id, tenant_id, timestamp, event_type, category, severity,
			actor_id, actor_type, actor_name,
			entity_id, entity_type, entity_name,
			operation_type, changes, result, action, description,
			error_code, error_message,
			ctx_request_id, ctx_session_id, ctx_ip_address, ctx_user_agent,
			metadata,
			risk_score, compliance_tags, auto_review_required, ai_generated, classified_at,
			created_at, updated_at, migrated_at,
			reviewed_at, reviewed_by, review_notes
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?,
			?,
			?, ?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?
		)
	`, table)
}

// insertParams prepares all parameters for event insertion.
func insertParams(ev *Event) []interface{} {
	entityID, entityType, entityName := extractEntityFields(ev.Entity)
	errCode, errMessage := extractErrorFields(ev.Error)
	reqID, sessID, ipAddr, userAgent := extractContextFields(ev.Context)

	return []interface{}{
		ev.ID,
		ev.TenantID,
		ev.Timestamp,
		ev.EventType,
		string(ev.Category),
		string(ev.Severity),
		ev.Actor.ID,
		string(ev.Actor.Type),
		ev.Actor.Name,
		entityID,
		entityType,
		entityName,
		nullableString(string(ev.OperationType)),
		marshalJSONColumn(ev.Changes),
		string(ev.Result),
		ev.Action,
		ev.Description,
		errCode,
		errMessage,
		reqID,
		sessID,
		ipAddr,
		userAgent,
		marshalJSONColumn(ev.Metadata),
		ev.Classification.RiskScore,
		marshalTags(ev.Classification.ComplianceTags),
		ev.Classification.AutoReviewRequired,
		ev.Classification.AIGenerated,
		ev.Classification.ClassifiedAt,
		ev.CreatedAt,
		ev.UpdatedAt,
		ev.MigratedAt,
		ev.ReviewedAt,
		nullableString(ev.ReviewedBy),
		nullableString(ev.ReviewNotes),
	}
}

// marshalTags marshals compliance tags to a JSON string for DuckDB.
func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	if data, err := json.Marshal(tags); err == nil {
		return string(data)
	}
	return "[]"
}

// marshalJSONColumn marshals an optional value to a JSON string (nil if absent).
func marshalJSONColumn(v any) *string {
	switch t := v.(type) {
	case []FieldChange:
		if len(t) == 0 {
			return nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	case nil:
		return nil
	}
	if data, err := json.Marshal(v); err == nil {
		str := string(data)
		return &str
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func extractEntityFields(entity *Entity) (*string, *string, *string) {
	if entity == nil {
		return nil, nil, nil
	}
	return &entity.ID, &entity.Type, &entity.Name
}

func extractErrorFields(errInfo *ErrorInfo) (*string, *string) {
	if errInfo == nil {
		return nil, nil
	}
	return &errInfo.Code, &errInfo.Message
}

func extractContextFields(reqCtx *RequestContext) (*string, *string, *string, *string) {
	if reqCtx == nil {
		return nil, nil, nil, nil
	}
	return &reqCtx.RequestID, &reqCtx.SessionID, &reqCtx.IPAddress, &reqCtx.UserAgent
}

// Get retrieves an event by ID from the given tier.
func (s *DuckDBStore) Get(ctx context.Context, tier Tier, id string) (*Event, error) {
	table, err := tableForTier(tier)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectQuery(table)+" WHERE id = ?", id)

	var data scannedEventData
	if err := row.Scan(data.scanDestinations()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return data.toEvent(tier), nil
}

// Query retrieves events matching the options, timestamp descending with
// ID as tie-break for deterministic ordering.
func (s *DuckDBStore) Query(ctx context.Context, opts QueryOptions) ([]Event, error) {
	opts = opts.normalized()
	table, err := tableForTier(opts.Tier)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	defer func() {
		metrics.RecordStoreQuery("query", string(opts.Tier), time.Since(start))
	}()

	query, args := buildQuery(table, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var data scannedEventData
		if err := rows.Scan(data.scanDestinations()...); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		events = append(events, *data.toEvent(opts.Tier))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// buildQuery constructs the filtered SELECT for the options.
func buildQuery(table string, opts QueryOptions) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	appendCond := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}

	appendCond("tenant_id", opts.TenantID)
	appendCond("actor_id", opts.ActorID)
	appendCond("entity_type", opts.ResourceType)
	appendCond("entity_id", opts.ResourceID)
	appendCond("severity", string(opts.Severity))
	appendCond("category", string(opts.Category))
	appendCond("result", string(opts.Result))

	if opts.Start != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *opts.Start)
	}
	if opts.End != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *opts.End)
	}

	query := selectQuery(table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}

// selectQuery returns the SELECT statement for a tier table.
// JSON columns are cast to VARCHAR for proper scanning.
func selectQuery(table string) string {
	return fmt.Sprintf(`
		SELECT
			id, tenant_id, timestamp, event_type, category, severity,
			actor_id, actor_type, actor_name,
			entity_id, entity_type, entity_name,
			operation_type,
			CAST(changes AS VARCHAR) as changes,
			result, action, description,
			error_code, error_message,
			ctx_request_id, ctx_session_id, ctx_ip_address, ctx_user_agent,
			CAST(metadata AS VARCHAR) as metadata,
			risk_score,
			CAST(compliance_tags AS VARCHAR) as compliance_tags,
			auto_review_required, ai_generated, classified_at,
			created_at, updated_at, migrated_at,
			reviewed_at, reviewed_by, review_notes
		FROM %s
	`, table)
}

// Update applies a review annotation to an event.
func (s *DuckDBStore) Update(ctx context.Context, tier Tier, id string, review ReviewAnnotation) error {
	table, err := tableForTier(tier)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		UPDATE %s
		SET reviewed_at = ?, reviewed_by = ?, review_notes = ?, updated_at = ?
		WHERE id = ?
	`, table)

	result, err := s.db.ExecContext(ctx, query, review.ReviewedAt, review.ReviewedBy, review.Notes, review.ReviewedAt, id)
	if err != nil {
		return fmt.Errorf("annotate audit event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("annotate audit event: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event from the given tier. Used by tier migration only.
func (s *DuckDBStore) Delete(ctx context.Context, tier Tier, id string) error {
	table, err := tableForTier(tier)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete audit event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete audit event: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database handle.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// scannedEventData holds raw scanned values from the database.
type scannedEventData struct {
	event         Event
	category      string
	severity      string
	result        string
	actorType     string
	actorName     sql.NullString
	entityID      sql.NullString
	entityType    sql.NullString
	entityName    sql.NullString
	operationType sql.NullString
	changes       sql.NullString
	action        sql.NullString
	description   sql.NullString
	errCode       sql.NullString
	errMessage    sql.NullString
	ctxRequestID  sql.NullString
	ctxSessionID  sql.NullString
	ctxIPAddress  sql.NullString
	ctxUserAgent  sql.NullString
	metadata      sql.NullString
	tags          sql.NullString
	migratedAt    sql.NullTime
	reviewedAt    sql.NullTime
	reviewedBy    sql.NullString
	reviewNotes   sql.NullString
}

// scanDestinations returns pointers to all fields in SELECT column order.
func (d *scannedEventData) scanDestinations() []interface{} {
	return []interface{}{
		&d.event.ID,
		&d.event.TenantID,
		&d.event.Timestamp,
		&d.event.EventType,
		&d.category,
		&d.severity,
		&d.event.Actor.ID,
		&d.actorType,
		&d.actorName,
		&d.entityID,
		&d.entityType,
		&d.entityName,
		&d.operationType,
		&d.changes,
		&d.result,
		&d.action,
		&d.description,
		&d.errCode,
		&d.errMessage,
		&d.ctxRequestID,
		&d.ctxSessionID,
		&d.ctxIPAddress,
		&d.ctxUserAgent,
		&d.metadata,
		&d.event.Classification.RiskScore,
		&d.tags,
		&d.event.Classification.AutoReviewRequired,
		&d.event.Classification.AIGenerated,
		&d.event.Classification.ClassifiedAt,
		&d.event.CreatedAt,
		&d.event.UpdatedAt,
		&d.migratedAt,
		&d.reviewedAt,
		&d.reviewedBy,
		&d.reviewNotes,
	}
}

// toEvent converts scanned data to a fully populated Event.
func (d *scannedEventData) toEvent(tier Tier) *Event {
	d.event.Category = Category(d.category)
	d.event.Severity = Severity(d.severity)
	d.event.Result = Result(d.result)
	d.event.Actor.Type = ActorType(d.actorType)
	d.event.Actor.Name = d.actorName.String
	d.event.Action = d.action.String
	d.event.Description = d.description.String
	d.event.Tier = tier

	if d.operationType.Valid {
		d.event.OperationType = OperationType(d.operationType.String)
	}
	if d.entityID.Valid {
		d.event.Entity = &Entity{
			ID:   d.entityID.String,
			Type: d.entityType.String,
			Name: d.entityName.String,
		}
	}
	if d.errMessage.Valid {
		d.event.Error = &ErrorInfo{Code: d.errCode.String, Message: d.errMessage.String}
	}
	if d.ctxRequestID.Valid || d.ctxSessionID.Valid || d.ctxIPAddress.Valid || d.ctxUserAgent.Valid {
		d.event.Context = &RequestContext{
			RequestID: d.ctxRequestID.String,
			SessionID: d.ctxSessionID.String,
			IPAddress: d.ctxIPAddress.String,
			UserAgent: d.ctxUserAgent.String,
		}
	}
	if d.changes.Valid && d.changes.String != "" {
		if err := json.Unmarshal([]byte(d.changes.String), &d.event.Changes); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse changes JSON")
		}
	}
	if d.metadata.Valid && d.metadata.String != "" {
		if err := json.Unmarshal([]byte(d.metadata.String), &d.event.Metadata); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse metadata JSON")
		}
	}
	d.event.Classification.ComplianceTags = []string{}
	if d.tags.Valid && d.tags.String != "" {
		if err := json.Unmarshal([]byte(d.tags.String), &d.event.Classification.ComplianceTags); err != nil {
			logging.Debug().Err(err).Str("tags", d.tags.String).Msg("Failed to parse compliance tags JSON")
		}
	}
	if d.migratedAt.Valid {
		t := d.migratedAt.Time
		d.event.MigratedAt = &t
	}
	if d.reviewedAt.Valid {
		t := d.reviewedAt.Time
		d.event.ReviewedAt = &t
	}
	d.event.ReviewedBy = d.reviewedBy.String
	d.event.ReviewNotes = d.reviewNotes.String

	// Denormalized classification mirrors the top-level fields.
	d.event.Classification.Category = d.event.Category
	d.event.Classification.Severity = d.event.Severity
	d.event.Classification.OperationType = d.event.OperationType

	return &d.event
}
