// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package authz

import (
	"net/http"

	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/logging"
)

// Middleware enforces the policy on routes. It runs after
// auth.Middleware.Authenticate.
type Middleware struct {
	enforcer *Enforcer
	seclog   *logging.SecurityLogger
	writeErr auth.ErrorWriter
}

// NewMiddleware creates the authorization middleware. writeErr nil uses
// auth.WriteJSONError.
func NewMiddleware(enforcer *Enforcer, writeErr auth.ErrorWriter) *Middleware {
	if writeErr == nil {
		writeErr = auth.WriteJSONError
	}
	return &Middleware{enforcer: enforcer, seclog: logging.NewSecurityLogger(), writeErr: writeErr}
}

// Require returns chi-style middleware that allows the request only when the
// principal may perform action on resource.
//
//	r.With(authzMW.Require(authz.ResourceAlerts, authz.ActionWrite)).Post("/alerts", h.CreateAlert)
func (m *Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.PrincipalFromContext(r.Context())
			if p == nil {
				m.writeErr(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			allowed, err := m.enforcer.EnforceWithRole(p.Subject, string(p.Role), resource, action)
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Str("resource", resource).Msg("Authorization error")
				m.writeErr(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "authorization failed")
				return
			}
			if !allowed {
				m.seclog.LogAccessDenied(r.Context(), p.Subject, string(p.Role), resource, action)
				m.writeErr(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
