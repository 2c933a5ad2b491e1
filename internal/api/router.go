// Evertrail - Audit Event Pipeline and Trail Analytics
// Copyright 2026 Evertrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evertrail/evertrail

// Package api provides the HTTP read surface of the audit trail using
// the Chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Router wires handlers into the Chi route tree.
type Router struct {
	handler *Handler
	config  RouterConfig
}

// NewRouter creates a router over the given handler.
func NewRouter(handler *Handler, cfg RouterConfig) *Router {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{handler: handler, config: cfg}
}

// Setup configures all HTTP routes.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.handler.HealthLive)
	r.Get("/readyz", rt.handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.config.RateLimitReqs, rt.config.RateLimitWindow))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", rt.handler.QueryEvents)
			r.Post("/", rt.handler.RecordEvent)
			r.Get("/{id}", rt.handler.GetEvent)
			r.Patch("/{id}/review", rt.handler.ReviewEvent)
		})

		r.Get("/statistics", rt.handler.Statistics)
		r.Get("/risk-statistics", rt.handler.RiskStatistics)

		r.Route("/query", func(r chi.Router) {
			r.Get("/timeline", rt.handler.Timeline)
			r.Get("/actors/{id}", rt.handler.ActorHistory)
			r.Get("/entities/{type}/{id}", rt.handler.EntityHistory)
			r.Get("/compliance/{framework}", rt.handler.ComplianceReport)
			r.Get("/aggregate", rt.handler.Aggregate)
			r.Get("/search", rt.handler.Search)
			r.Get("/compare", rt.handler.ComparePeriods)
			r.Get("/anomalies", rt.handler.Anomalies)
		})
	})

	return r
}
