// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package auth

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// ErrorWriter renders an authentication or authorization failure. The API
// package supplies one that matches its response envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// WriteJSONError is the fallback ErrorWriter.
func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response already committed
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":       code,
			"message":    message,
			"request_id": logging.RequestIDFromContext(r.Context()),
		},
	})
}

// Middleware authenticates API requests.
type Middleware struct {
	mode      Mode
	jwt       *JWTManager
	anonymous Principal
	seclog    *logging.SecurityLogger
	writeErr  ErrorWriter
}

// NewMiddleware creates the authentication middleware. jwt may be nil in
// ModeNone. writeErr nil uses WriteJSONError.
func NewMiddleware(cfg Config, jwt *JWTManager, writeErr ErrorWriter) (*Middleware, error) {
	if cfg.Mode == ModeJWT && jwt == nil {
		return nil, errors.New("auth: jwt mode requires a JWTManager")
	}
	if writeErr == nil {
		writeErr = WriteJSONError
	}
	role := cfg.AnonymousRole
	if role == "" {
		role = RoleViewer
	}
	if cfg.Mode == ModeNone {
		logging.Warn().Str("anonymous_role", string(role)).Msg("API authentication disabled")
	}
	return &Middleware{
		mode:      cfg.Mode,
		jwt:       jwt,
		anonymous: Principal{Subject: "anonymous", Role: role},
		seclog:    logging.NewSecurityLogger(),
		writeErr:  writeErr,
	}, nil
}

// Authenticate is chi-style middleware that rejects requests without a valid
// token and stores the Principal in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p *Principal
		if m.mode == ModeNone {
			anon := m.anonymous
			p = &anon
		} else {
			var err error
			p, err = m.jwt.ValidateToken(bearerToken(r))
			if err != nil {
				reason := failureReason(err)
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				m.seclog.LogTokenRejected(r.Context(), clientIP(r), r.Method, r.URL.Path, reason)
				w.Header().Set("WWW-Authenticate", `Bearer realm="vigil"`)
				m.writeErr(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.ContextWithSubject(ctx, p.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a WebSocket upgrade, so GET requests may pass access_token in the query.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return "missing"
	case errors.Is(err, ErrExpiredCredentials):
		return "expired"
	default:
		return "invalid"
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
