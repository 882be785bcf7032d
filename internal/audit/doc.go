// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package audit records who did what to alerts and entities.
//
// Every administrative status change, admin action, manual block and manually
// triggered maintenance task produces an Event. Automated responses of the
// threat score service are recorded on the entities themselves and are not
// duplicated here.
//
// # Event Types
//
//   - alert.status_changed: acknowledge, resolve, re-open, archive
//   - alert.action: false_positive, investigate, block_ip, suspend_user and friends
//   - alert.escalation_forced: escalation processed through the admin API
//   - entity.blocked, entity.unblocked: manual blocks and unblocks
//   - auth.failure, authz.denied, auth.token_issued: access control
//   - admin.maintenance: maintenance tasks triggered by hand
//
// # Architecture
//
// The logger uses a producer-consumer pattern:
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//	                     |                      |
//	                 Non-blocking           Background goroutine
//
// Log never blocks the request path; when the buffer is full the event is
// dropped and a warning is logged. Close drains the buffer.
//
// # Storage
//
//   - MemoryStore: bounded in-memory store for tests and single-node setups
//   - DuckDBStore: the audit_events table next to the cold alert archive
//
// # Export
//
// JSONExporter and CEFExporter render query results for download; the CEF
// format is accepted by most SIEM products.
package audit
