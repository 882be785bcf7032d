// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package metrics provides Prometheus instrumentation for the alert engine.

All collectors are registered on the default registry through promauto and
exposed by the admin API at /metrics:

	curl http://localhost:8470/metrics

# Families

  - vigil_alerts_*: creation, aggregation, duplicates and status changes
  - vigil_notifications_*: delivery outcomes per channel and suppressions
  - vigil_ratelimit_decisions_total: allowed, limited, bypassed, fail-open and fail-closed
  - vigil_threat_*: score distribution and automated actions
  - vigil_escalations_total: fired, no-op and exhausted escalations
  - vigil_detector_*: detector evaluations and latency
  - vigil_store_*: Badger transaction latency, conflicts and failures
  - vigil_tasks_*: deferred task scheduling, dispatch and lag
  - vigil_events_*: event bus publishes and handler outcomes
  - vigil_maintenance_*: periodic maintenance runs
  - vigil_api_*: admin API requests

Helpers such as RecordNotification and RecordDetector keep label values
consistent across packages.
*/
package metrics
