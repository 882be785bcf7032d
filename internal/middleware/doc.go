// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package middleware provides the infrastructure middleware of the admin API.

All middleware has the chi signature func(http.Handler) http.Handler:

  - RequestID: X-Request-ID propagation plus request and correlation IDs in
    the logging context
  - PrometheusMetrics: request counts and latencies labelled by chi route
    pattern
  - PerformanceMonitor.Middleware: sliding window of recent requests with
    per-route percentiles and slow request warnings

Typical stack, outermost first:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(perf.Middleware)
	r.Use(chimiddleware.Recoverer)

Authentication and authorization live in packages auth and authz.
*/
package middleware
