// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/authz"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/middleware"
)

// compressLevel is the gzip level of JSON responses.
const compressLevel = 5

// Router wires handlers and middleware into a chi router.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	auth          *auth.Middleware
	authz         *authz.Middleware
	perf          *middleware.PerformanceMonitor
	config        config.APIConfig
}

// NewRouter creates the router. perf may be nil.
func NewRouter(handler *Handler, chiMW *ChiMiddleware, authMW *auth.Middleware, authzMW *authz.Middleware,
	perf *middleware.PerformanceMonitor, cfg config.APIConfig) (*Router, error) {
	if handler == nil || authMW == nil || authzMW == nil {
		return nil, errors.New("api: handler, auth and authz middleware are required")
	}
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		chiMiddleware: chiMW,
		auth:          authMW,
		authz:         authzMW,
		perf:          perf,
		config:        cfg,
	}, nil
}

// Setup builds the HTTP handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()
	h := router.handler
	require := router.authz.Require

	// Global middleware. CORS must run before authentication so that
	// preflight requests are answered.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).Error(http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	// Health probes are unauthenticated.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders())
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		if router.perf != nil {
			r.Use(router.perf.Middleware)
		}
		r.Use(router.auth.Authenticate)

		// The upgrade must not pass through the gzip writer.
		r.With(
			router.chiMiddleware.RateLimitCustom(RateLimitStream),
			require(authz.ResourceStream, authz.ActionRead),
		).Get("/alerts/stream", h.AlertStream)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitCustom(RateLimitIngest))
			r.Use(MaxBodyBytes(router.config.MaxBodyBytes))

			r.With(require(authz.ResourceSignals, authz.ActionWrite)).Post("/signals", h.SubmitSignal)
			r.With(require(authz.ResourceAlerts, authz.ActionWrite)).Post("/alerts", h.CreateAlert)
			r.With(require(authz.ResourceAlerts, authz.ActionWrite)).Post("/alerts/batch", h.CreateAlertsBatch)
		})

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(chimiddleware.Compress(compressLevel, "application/json"))
			r.Use(MaxBodyBytes(router.config.MaxBodyBytes))

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceAlerts, authz.ActionRead))
				r.Get("/alerts", h.ListAlerts)
				r.Get("/alerts/{id}", h.GetAlert)
				r.Get("/archive", h.ArchivedAlerts)
				r.Get("/inbox", h.Inbox)
				r.Post("/inbox/{id}/read", h.MarkInboxRead)
			})

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceAlerts, authz.ActionWrite))
				r.Post("/alerts/{id}/acknowledge", h.AcknowledgeAlert)
				r.Post("/alerts/{id}/resolve", h.ResolveAlert)
				r.Patch("/alerts/{id}/status", h.UpdateAlertStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceAlertActions, authz.ActionWrite))
				r.Post("/alerts/{id}/actions", h.PerformAction)
				r.Post("/actions", h.PerformEntityAction)
			})

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceStats, authz.ActionRead))
				r.Get("/stats", h.Stats)
				r.Get("/stats/api", h.APIStats)
			})

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceEntities, authz.ActionRead))
				r.Get("/blocked", h.ListBlocked)
				r.Get("/blocked/{type}/{id}", h.CheckBlocked)
				r.Get("/threat/{type}/{id}", h.ThreatScore)
			})

			r.With(require(authz.ResourceEscalations, authz.ActionRead)).Get("/escalations", h.EscalationStats)
			r.With(require(authz.ResourceEscalations, authz.ActionRead)).Get("/escalations/{alertId}", h.GetEscalation)
			r.With(require(authz.ResourceEscalations, authz.ActionWrite)).Post("/escalations/{alertId}/process", h.ProcessEscalation)

			r.With(require(authz.ResourceMaintenance, authz.ActionRead)).Get("/maintenance", h.MaintenanceTasks)
			r.With(require(authz.ResourceMaintenance, authz.ActionWrite)).Post("/maintenance/{task}", h.RunMaintenance)

			r.Group(func(r chi.Router) {
				r.Use(require(authz.ResourceAudit, authz.ActionRead))
				r.Get("/audit", h.AuditEvents)
				r.Get("/audit/export", h.ExportAudit)
				r.Get("/audit/{id}", h.AuditEvent)
			})
		})
	})

	return r
}
