// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Command vigil runs the Vigil security alerting engine.

Vigil receives security signals (failed logins, request payloads, API
usage, payment and promotion events), runs detectors over them and raises
alerts. Alerts are deduplicated by aggregation key, rate limited per type and
source, scored against a per-entity threat level and delivered to recipients
on their preferred channels. Critical alerts that nobody acknowledges are
escalated on a fixed schedule.

# Subcommands

	vigil serve                  run the engine, the event consumers and the admin API
	vigil maintenance [task]     run cleanup_rate_limits, archive_resolved and
	                             process_escalations once (server stopped)
	vigil token --subject NAME   issue an API bearer token

# Startup order

serve builds the components in this order:

 1. Configuration (koanf: defaults, YAML file, VIGIL_* environment)
 2. Badger hot store, DuckDB archive and the audit trail sharing its database
 3. Event bus: in-process channels or NATS JetStream (optionally embedded)
 4. Rate limiter backend: the store or Redis
 5. Threat scoring, escalation scheduler, notification dispatcher, alert service
 6. Detection engine consuming vigil.signals, task queue consuming vigil.tasks
 7. Admin API: JWT authentication, Casbin authorization, chi router

Long-running parts run under a suture supervisor tree in three layers
(data, messaging, API) so that the HTTP server stops first on shutdown.

# Signal handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests for server.shutdown_timeout, consumers stop, buffered audit events
are flushed and the stores are closed.

# Example

	export VIGIL_JWT_SECRET=$(openssl rand -hex 32)
	vigil serve --config /etc/vigil/config.yaml

	TOKEN=$(vigil token --subject ops-alice --role analyst --ttl 8h)
	curl -H "Authorization: Bearer $TOKEN" http://localhost:8088/api/v1/alerts
*/
package main
