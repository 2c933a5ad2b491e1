// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/collector"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/query"
)

// Trail is the repository surface the handlers need. Satisfied by
// audit.Repository.
type Trail interface {
	GetByID(ctx context.Context, id string, tier audit.Tier) (*audit.Event, error)
	Query(ctx context.Context, opts audit.QueryOptions) ([]audit.Event, error)
	Update(ctx context.Context, id string, tier audit.Tier, review audit.ReviewAnnotation) error
	GetRiskStatistics(ctx context.Context, opts audit.QueryOptions) (audit.RiskStatistics, error)
}

// Handler serves the audit trail HTTP endpoints.
type Handler struct {
	trail     Trail
	queries   *query.Service
	collector *collector.Collector
}

// NewHandler creates a handler over the trail, query service and
// collector. The collector may be nil for read-only deployments; the
// record and statistics endpoints then return 503.
func NewHandler(trail Trail, queries *query.Service, col *collector.Collector) *Handler {
	return &Handler{
		trail:     trail,
		queries:   queries,
		collector: col,
	}
}

// writeJSON encodes data as JSON. Encoding errors are logged but not
// surfaced; headers are already sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HealthLive handles GET /healthz.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /readyz. The trail is ready when a HOT query
// round-trips.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.trail.Query(r.Context(), audit.QueryOptions{Limit: 1}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// QueryEvents handles GET /api/v1/events.
func (h *Handler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.trail.Query(r.Context(), opts)
	if err != nil {
		logging.Error().Err(err).Msg("Event query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// GetEvent handles GET /api/v1/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tier := audit.Tier(r.URL.Query().Get("tier"))
	if tier != "" && !tier.Valid() {
		writeError(w, http.StatusBadRequest, "invalid tier")
		return
	}

	ev, err := h.trail.GetByID(r.Context(), id, tier)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		logging.Error().Str("event_id", id).Err(err).Msg("Event lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// RecordEvent handles POST /api/v1/events: the synchronous write path
// for callers needing an immediate durability guarantee.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "write path disabled")
		return
	}

	var raw audit.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if raw.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type required")
		return
	}

	ev, err := h.collector.RecordAuditEvent(r.Context(), &raw)
	if err != nil {
		logging.Error().Str("event_type", raw.EventType).Err(err).Msg("Synchronous record failed")
		writeError(w, http.StatusServiceUnavailable, "audit trail unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// reviewRequest is the PATCH body for the review annotation path.
type reviewRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes,omitempty"`
}

// ReviewEvent handles PATCH /api/v1/events/{id}/review, the only
// permitted post-creation mutation.
func (h *Handler) ReviewEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid review payload")
		return
	}
	if req.ReviewedBy == "" {
		writeError(w, http.StatusBadRequest, "reviewed_by required")
		return
	}

	tier := audit.Tier(r.URL.Query().Get("tier"))
	err := h.trail.Update(r.Context(), id, tier, audit.ReviewAnnotation{
		ReviewedBy: req.ReviewedBy,
		Notes:      req.Notes,
		ReviewedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		logging.Error().Str("event_id", id).Err(err).Msg("Review annotation failed")
		writeError(w, http.StatusInternalServerError, "review failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

// Statistics handles GET /api/v1/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "collector disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.collector.Stats())
}

// RiskStatistics handles GET /api/v1/risk-statistics.
func (h *Handler) RiskStatistics(w http.ResponseWriter, r *http.Request) {
	opts, err := parseQueryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.trail.GetRiskStatistics(r.Context(), opts)
	if err != nil {
		logging.Error().Err(err).Msg("Risk statistics query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseQueryOptions reads the shared filter surface from URL parameters.
func parseQueryOptions(r *http.Request) (audit.QueryOptions, error) {
	q := r.URL.Query()

	opts := audit.QueryOptions{
		TenantID:     q.Get("tenant_id"),
		ActorID:      q.Get("actor_id"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Severity:     audit.Severity(q.Get("severity")),
		Category:     audit.Category(q.Get("category")),
		Result:       audit.Result(q.Get("result")),
		Tier:         audit.Tier(q.Get("tier")),
	}
	if opts.Tier != "" && !opts.Tier.Valid() {
		return opts, errors.New("invalid tier")
	}

	var err error
	if opts.Start, err = parseTimeParam(q.Get("start")); err != nil {
		return opts, errors.New("invalid start time, use RFC 3339")
	}
	if opts.End, err = parseTimeParam(q.Get("end")); err != nil {
		return opts, errors.New("invalid end time, use RFC 3339")
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return opts, errors.New("invalid limit")
		}
		opts.Limit = limit
	}
	return opts, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
