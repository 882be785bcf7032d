// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package authz decides which API principals may use which routes, using a
Casbin RBAC model.

The embedded policy grants:

	viewer    alerts:read  stats:read  stream:read  entities:read
	analyst   viewer + alerts:write
	admin     analyst + alerts:actions:write  escalations:write
	          maintenance:write  audit:read
	service   signals:write  alerts:write

A policy file (authz.policy_path) replaces the embedded one and may grant
roles to individual subjects:

	g, oncall@example.com, admin

Decisions are cached for authz.cache_ttl and counted in
vigil_authz_decisions_total by resource, action and result.
*/
package authz
