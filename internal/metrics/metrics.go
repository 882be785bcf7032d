// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the detection pipeline:
// - alert creation, aggregation and notification outcomes
// - rate limiter decisions and store failure policy
// - threat score tiers and automated actions
// - escalation state machine transitions
// - store transactions, deferred tasks and maintenance sweeps
// - admin API traffic

var (
	// Alert pipeline
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_created_total",
			Help: "Total number of new security alerts created",
		},
		[]string{"type", "severity"},
	)

	AlertsAggregated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_aggregated_total",
			Help: "Total number of occurrences merged into an existing alert",
		},
		[]string{"type"},
	)

	AlertsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_duplicate_total",
			Help: "Total number of replayed payloads collapsed by idempotency key",
		},
	)

	AlertCreateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alert_create_failures_total",
			Help: "Total number of alert payloads that could not be recorded",
		},
		[]string{"reason"}, // "validation", "store", "other"
	)

	AlertStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alert_status_changes_total",
			Help: "Total number of alert status transitions",
		},
		[]string{"status"},
	)

	// Notifications
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_total",
			Help: "Total number of notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_suppressed_total",
			Help: "Total number of notifications suppressed before delivery",
		},
		[]string{"reason"}, // "rate_limited", "aggregated", "quiet_hours", "severity"
	)

	// Rate limiter
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ratelimit_decisions_total",
			Help: "Total number of rate limiter decisions by outcome",
		},
		[]string{"outcome"}, // "allowed", "limited", "bypassed", "fail_open", "fail_closed"
	)

	// Threat score
	ThreatScoreValue = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_threat_score",
			Help:    "Distribution of recomputed threat scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100},
		},
		[]string{"entity_type"},
	)

	ThreatActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_threat_actions_total",
			Help: "Total number of automated threat actions applied",
		},
		[]string{"action"},
	)

	// Escalation
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_escalations_total",
			Help: "Total number of escalation state transitions",
		},
		[]string{"outcome"}, // "scheduled", "fired", "exhausted", "noop", "cancelled"
	)

	// Detectors
	DetectorEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detector_evaluations_total",
			Help: "Total number of detector evaluations by result",
		},
		[]string{"detector", "result"}, // "alert", "clean", "error"
	)

	DetectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_detector_duration_seconds",
			Help:    "Duration of detector evaluations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"detector"},
	)

	// Store
	StoreTxnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_store_txn_duration_seconds",
			Help:    "Duration of store transactions in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"mode"}, // "update", "view"
	)

	StoreTxnConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_store_txn_conflicts_total",
			Help: "Total number of optimistic transaction conflicts retried",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_store_errors_total",
			Help: "Total number of store failures surfaced as transient errors",
		},
		[]string{"mode"},
	)

	// Deferred tasks
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tasks_scheduled_total",
			Help: "Total number of deferred tasks scheduled",
		},
		[]string{"kind"},
	)

	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_tasks_dispatched_total",
			Help: "Total number of deferred tasks dispatched by outcome",
		},
		[]string{"kind", "outcome"},
	)

	TaskLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_task_dispatch_lag_seconds",
			Help:    "Delay between a task's due time and its dispatch",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
		},
	)

	// Maintenance
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_maintenance_runs_total",
			Help: "Total number of maintenance task runs by outcome",
		},
		[]string{"task", "outcome"},
	)

	MaintenanceRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_maintenance_items_total",
			Help: "Total number of records processed by maintenance tasks",
		},
		[]string{"task"},
	)

	// Admin API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_api_request_duration_seconds",
			Help:    "Duration of admin API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_api_rate_limited_total",
			Help: "Admin API requests rejected by the per-client rate limit",
		},
		[]string{"endpoint"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_published_total",
			Help: "Messages published to the event bus by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	BusConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_bus_connection_events_total",
			Help: "NATS connection state changes by connection role and event",
		},
		[]string{"role", "event"},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_handled_total",
			Help: "Messages consumed by router handlers by handler and outcome",
		},
		[]string{"handler", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_websocket_connections",
			Help: "Current number of live alert stream connections",
		},
	)

	StreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_websocket_dropped_total",
			Help: "Alert stream broadcasts dropped on a full queue",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_auth_failures_total",
			Help: "Rejected admin API authentications by reason",
		},
		[]string{"reason"},
	)

	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_authz_decisions_total",
			Help: "Authorization decisions by resource, action and result",
		},
		[]string{"resource", "action", "result"},
	)
)

// RecordAlertCreated records a new alert.
func RecordAlertCreated(alertType, severity string) {
	AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

// RecordAlertAggregated records an occurrence merged into an existing alert.
func RecordAlertAggregated(alertType string) {
	AlertsAggregated.WithLabelValues(alertType).Inc()
}

// RecordNotification records a delivery attempt.
func RecordNotification(channel string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	Notifications.WithLabelValues(channel, outcome).Inc()
}

// RecordDetector records one detector evaluation.
func RecordDetector(detector string, fired bool, duration time.Duration, err error) {
	result := "clean"
	switch {
	case err != nil:
		result = "error"
	case fired:
		result = "alert"
	}
	DetectorEvaluations.WithLabelValues(detector, result).Inc()
	DetectorDuration.WithLabelValues(detector).Observe(duration.Seconds())
}

// RecordStoreTxn records a store transaction.
func RecordStoreTxn(mode string, duration time.Duration, err error) {
	StoreTxnDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(mode).Inc()
	}
}

// RecordMaintenance records one maintenance task run.
func RecordMaintenance(task string, processed int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	MaintenanceRuns.WithLabelValues(task, outcome).Inc()
	if processed > 0 {
		MaintenanceRemoved.WithLabelValues(task).Add(float64(processed))
	}
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordEventPublished records one publish attempt.
func RecordEventPublished(topic string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	EventsPublished.WithLabelValues(topic, outcome).Inc()
}

// RecordEventHandled records one handled message.
func RecordEventHandled(handler string, err error) {
	outcome := "ack"
	if err != nil {
		outcome = "nack"
	}
	EventsHandled.WithLabelValues(handler, outcome).Inc()
}
