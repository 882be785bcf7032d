// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package auth authenticates callers of the operator API.

Tokens are HS256 JWTs carrying the subject, a Role and the issuer. They are
minted by the "vigil token" command and presented as

	Authorization: Bearer <token>

or, for the WebSocket stream only, as the access_token query parameter.

Roles:

  - viewer: read alerts, stats and the stream
  - analyst: viewer plus acknowledge, resolve and create alerts
  - admin: analyst plus admin actions, maintenance and the audit trail
  - service: submit signals and alerts

The mapping from roles to routes lives in package authz. In "none" mode
every request runs as the anonymous principal with the configured role;
use it only on a trusted network.

Rejected tokens are counted in vigil_auth_failures_total by reason
(missing, expired, invalid) and written to the access log.
*/
package auth
