// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package alerts is the single entry point for raising and managing security
alerts.

A payload passes through validation, the notification rate limiter, the
aggregator (which persists it), the threat score of its source entities, the
notification dispatcher, and the escalation scheduler:

	res, err := svc.CreateSecurityAlert(ctx, &models.AlertPayload{
		Type:     models.AlertTypeBruteForce,
		Severity: models.SeverityWarning,
		Source:   models.AlertSource{IP: "203.0.113.7"},
	})

The alert is always persisted once validation passes. Rate limiting only
suppresses the notification, and failures after persistence are logged and
counted rather than returned.

Administrators act on alerts through UpdateAlertStatus and PerformAction,
both recorded in the audit log. RunMaintenance runs the periodic cleanup,
archive and escalation sweep tasks; each is idempotent and safe to repeat.
*/
package alerts
