// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evertrail/evertrail/internal/audit"
	"github.com/evertrail/evertrail/internal/logging"
	"github.com/evertrail/evertrail/internal/query"
)

// Timeline handles GET /api/v1/query/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseTimeParam(q.Get("start"))
	if err != nil || start == nil {
		writeError(w, http.StatusBadRequest, "start required, RFC 3339")
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil || end == nil {
		writeError(w, http.StatusBadRequest, "end required, RFC 3339")
		return
	}

	entries, err := h.queries.Timeline(r.Context(), query.TimelineRequest{
		TenantID: q.Get("tenant_id"),
		Start:    *start,
		End:      *end,
		Tier:     audit.Tier(q.Get("tier")),
		Limit:    parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Timeline query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timeline": entries,
		"count":    len(entries),
	})
}

// ActorHistory handles GET /api/v1/query/actors/{id}.
func (h *Handler) ActorHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	events, err := h.queries.ActorHistory(r.Context(), query.ActorHistoryRequest{
		TenantID:        q.Get("tenant_id"),
		ActorID:         chi.URLParam(r, "id"),
		EventTypePrefix: q.Get("event_type_prefix"),
		Start:           start,
		End:             end,
		Tier:            audit.Tier(q.Get("tier")),
		Limit:           parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Actor history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// EntityHistory handles GET /api/v1/query/entities/{type}/{id}.
func (h *Handler) EntityHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	events, err := h.queries.EntityHistory(r.Context(), query.EntityHistoryRequest{
		TenantID:     q.Get("tenant_id"),
		ResourceType: chi.URLParam(r, "type"),
		ResourceID:   chi.URLParam(r, "id"),
		Operation:    audit.OperationType(q.Get("operation")),
		Start:        start,
		End:          end,
		Tier:         audit.Tier(q.Get("tier")),
		Limit:        parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Entity history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ComplianceReport handles GET /api/v1/query/compliance/{framework}.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	events, err := h.queries.ComplianceReport(r.Context(), query.ComplianceRequest{
		TenantID:           q.Get("tenant_id"),
		Framework:          chi.URLParam(r, "framework"),
		Tier:               audit.Tier(q.Get("tier")),
		HighRiskOnly:       q.Get("high_risk") == "true",
		ReviewRequiredOnly: q.Get("review_required") == "true",
		Start:              start,
		End:                end,
		Limit:              parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Compliance report failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// Aggregate handles GET /api/v1/query/aggregate.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	agg, err := h.queries.Aggregate(r.Context(), query.AggregateRequest{
		TenantID: q.Get("tenant_id"),
		Start:    start,
		End:      end,
		Tier:     audit.Tier(q.Get("tier")),
		Limit:    parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Aggregation query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// Search handles GET /api/v1/query/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	term := q.Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	events, err := h.queries.Search(r.Context(), query.SearchRequest{
		TenantID:    q.Get("tenant_id"),
		Term:        term,
		Start:       start,
		End:         end,
		Tier:        audit.Tier(q.Get("tier")),
		WindowLimit: parseIntParam(q.Get("window"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Search query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ComparePeriods handles GET /api/v1/query/compare.
func (h *Handler) ComparePeriods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	windows := make([]time.Time, 0, 4)
	for _, name := range []string{"base_start", "base_end", "compare_start", "compare_end"} {
		t, err := parseTimeParam(q.Get(name))
		if err != nil || t == nil {
			writeError(w, http.StatusBadRequest, name+" required, RFC 3339")
			return
		}
		windows = append(windows, *t)
	}

	comparison, err := h.queries.ComparePeriods(r.Context(), query.CompareRequest{
		TenantID:     q.Get("tenant_id"),
		BaseStart:    windows[0],
		BaseEnd:      windows[1],
		CompareStart: windows[2],
		CompareEnd:   windows[3],
		Tier:         audit.Tier(q.Get("tier")),
		Limit:        parseIntParam(q.Get("limit"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Period comparison failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

// Anomalies handles GET /api/v1/query/anomalies.
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, _ := parseTimeParam(q.Get("start"))
	end, _ := parseTimeParam(q.Get("end"))

	events, err := h.queries.DetectAnomalies(r.Context(), query.AnomalyRequest{
		TenantID:           q.Get("tenant_id"),
		Threshold:          parseIntParam(q.Get("threshold"), 0),
		ReviewRequiredOnly: q.Get("review_required") == "true",
		Start:              start,
		End:                end,
		Tier:               audit.Tier(q.Get("tier")),
		WindowLimit:        parseIntParam(q.Get("window"), 0),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Anomaly detection failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": events,
		"count":     len(events),
	})
}

func parseIntParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
