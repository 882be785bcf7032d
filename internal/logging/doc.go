// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package logging provides the zerolog-based structured logger used across
// Vigil.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("alert_id", id).Str("severity", "critical").Msg("Alert created")
//	logging.Error().Err(err).Str("channel", "slack").Msg("Notification delivery failed")
//
// # Configuration
//
// The "logging" section of the service configuration maps onto Config:
//
//	logging:
//	  level: info        # trace, debug, info, warn, error
//	  format: json       # json or console
//	  caller: false
//	  timestamp: true
//
// The VIGIL_LOGGING_LEVEL and VIGIL_LOGGING_FORMAT environment variables
// override the file.
//
// # Context Propagation
//
// Three ids travel in context.Context and are added by Ctx:
//
//   - request_id: set by the HTTP middleware per request
//   - correlation_id: the signal id in detection, the task id in the
//     escalation queue
//   - subject: the authenticated API principal
//
// Handlers log through the request context:
//
//	logging.Ctx(ctx).Info().Str("action", "block_ip").Msg("Admin action executed")
//
// # Components
//
// Long-lived parts of the engine take a child logger:
//
//	log := logging.WithComponent("threat-score")
//
// # slog Bridge
//
// The supervisor tree (sutureslog) takes a *slog.Logger; NewSlogLogger
// returns one that writes through zerolog.
//
// # Access Log
//
// SecurityLogger records API authentication and authorization decisions
// with credentials masked. It is distinct from the audit trail in package
// audit, which records what operators did.
package logging
