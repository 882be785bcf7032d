// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package api provides the HTTP admin API of Vigil.

Every JSON response uses one envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "meta": {...}}

# Routes

All routes except health and /metrics require authentication and are
authorized per resource (see package authz).

	GET   /api/v1/health/live                     liveness
	GET   /api/v1/health/ready                    readiness of store, archive and bus
	GET   /metrics                                Prometheus metrics

	POST  /api/v1/signals                         signals write       run or queue detectors
	POST  /api/v1/alerts                          alerts write        create or aggregate an alert
	POST  /api/v1/alerts/batch                    alerts write        create many alerts
	GET   /api/v1/alerts                          alerts read         list with filters
	GET   /api/v1/alerts/{id}                     alerts read         one alert, archive fallback
	GET   /api/v1/alerts/stream                   stream read         WebSocket live feed
	POST  /api/v1/alerts/{id}/acknowledge         alerts write
	POST  /api/v1/alerts/{id}/resolve             alerts write
	PATCH /api/v1/alerts/{id}/status              alerts write
	POST  /api/v1/alerts/{id}/actions             alerts:actions write
	POST  /api/v1/actions                         alerts:actions write entity action without alert
	GET   /api/v1/archive                         alerts read
	GET   /api/v1/inbox                           alerts read         caller's in-app notifications
	POST  /api/v1/inbox/{id}/read                 alerts read
	GET   /api/v1/stats                           stats read
	GET   /api/v1/stats/api                       stats read          request latency per route
	GET   /api/v1/blocked                         entities read
	GET   /api/v1/blocked/{type}/{id}             entities read
	GET   /api/v1/threat/{type}/{id}              entities read
	GET   /api/v1/escalations                     escalations read
	GET   /api/v1/escalations/{alertId}           escalations read
	POST  /api/v1/escalations/{alertId}/process   escalations write
	GET   /api/v1/maintenance                     maintenance read
	POST  /api/v1/maintenance/{task}              maintenance write
	GET   /api/v1/audit                           audit read
	GET   /api/v1/audit/{id}                      audit read
	GET   /api/v1/audit/export                    audit read          json or cef

# Error mapping

Domain errors are mapped in one place (respondDomainError): validation
errors answer 400 with per-field details, unknown alerts 404, invalid status
transitions and repeated actions 409, transient storage failures 503.
*/
package api
