// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package detection turns pre-extracted security signals into alert payloads.
//
// Detection Architecture:
//
//	Signal -> Engine -> Detector(s) -> AlertPayload -> Submitter (alerts orchestrator)
//	            |            |
//	            v            v
//	      per-detector   WindowCounter / profiles
//	        metrics         (store, TTL keys)
//
// Signals arrive over HTTP (POST /api/v1/signals) or on the vigil.signals
// subject through the Watermill handler. Handlers are invoked at least once, so
// every recorded window event is keyed by the signal id: a redelivered signal
// overwrites its own event instead of counting twice.
//
// Supported Detectors:
//   - brute_force: failed logins per identity within 15 minutes
//   - unusual_location: impossible travel and new-country-via-VPN/Tor logins
//   - payment_anomaly: risk scored payments (velocity, amount, hour)
//   - card_testing: failed attempts or distinct cards per IP and hour
//   - mass_account_creation: registrations per IP per hour and day
//   - api_abuse: requests per IP per minute and hour
//   - injection: SQL and XSS signatures in request payloads
//   - multiple_sessions: concurrently active sessions per user
//   - promo_abuse: promotion redemptions per user per hour
//
// Detector failures are isolated: one failing detector never prevents the
// others from evaluating the same signal.
package detection
