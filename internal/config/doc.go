// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package config loads the Vigil configuration with koanf.

# Configuration Sources

Sources are layered, later ones winning:

 1. Built-in defaults, taken from each package's DefaultConfig
 2. A YAML file: the --config flag, else CONFIG_PATH, else the first of
    vigil.yaml, vigil.yml, /etc/vigil/config.yaml, /etc/vigil/config.yml
 3. VIGIL_* environment variables with an explicit mapping

Comma-separated environment values are split for list settings such as
VIGIL_CORS_ORIGINS and VIGIL_RATELIMIT_BYPASS_SOURCES.

# Sections

	server       listener address, timeouts, environment
	api          CORS, API rate limit, page sizes, latency report
	security     auth (JWT) and authz (Casbin)
	store        Badger path, conflict retries, value-log GC
	events       memory or NATS JetStream bus, Watermill router
	taskqueue    deferred task polling
	ratelimit    notification rate limits, Redis backend
	aggregation  coalescing windows, renotify checkpoints
	threatscore  category weights, decay, action durations
	escalation   severity steps and timeouts
	detection    detector thresholds
	notify       channels per severity, recipients, webhook, Slack
	alerts       stats period, batch limit, manual block durations
	archive      DuckDB cold archive
	audit        audit trail retention
	maintenance  periodic maintenance interval
	logging      zerolog level and format
	supervisor   suture failure thresholds

# Example

	server:
	  port: 8088
	  environment: production
	security:
	  auth:
	    jwt_secret: ${VIGIL_JWT_SECRET}
	api:
	  cors_origins: [https://ops.example.com]
	escalation:
	  steps:
	    warning: {timeout: 1h, target: critical}
	    critical: {timeout: 15m, target: emergency}
	notify:
	  slack:
	    webhook_url: https://hooks.slack.com/services/T000/B000/XXX
	  recipients:
	    - id: oncall
	      email: oncall@example.com
	      min_severity: critical

Validate reports every failing section at once.
*/
package config
