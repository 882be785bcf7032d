// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package auth

import (
	"context"
	"errors"
	"fmt"
)

// Role is the coarse permission level carried in a token. Fine-grained
// decisions are made by package authz.
type Role string

const (
	// RoleViewer reads alerts, stats and the live stream.
	RoleViewer Role = "viewer"

	// RoleAnalyst also acknowledges, resolves and creates alerts.
	RoleAnalyst Role = "analyst"

	// RoleAdmin also runs admin actions, maintenance and reads the audit trail.
	RoleAdmin Role = "admin"

	// RoleService is held by producers that submit signals and alerts.
	RoleService Role = "service"
)

// ParseRole validates s.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleViewer, RoleAnalyst, RoleAdmin, RoleService:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Mode selects how requests are authenticated.
type Mode string

const (
	// ModeNone trusts every request as the anonymous principal.
	ModeNone Mode = "none"

	// ModeJWT requires an HS256 bearer token.
	ModeJWT Mode = "jwt"
)

var (
	// ErrNoCredentials means the request carried no token.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials means the token failed signature or claim checks.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrExpiredCredentials means the token is past its expiry.
	ErrExpiredCredentials = errors.New("credentials expired")

	// ErrUnknownRole means a token or CLI flag named a role that does not exist.
	ErrUnknownRole = errors.New("unknown role")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller, or nil for unauthenticated
// contexts.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// ActorFromContext returns the subject to record as the actor of an
// operation, or fallback when there is no principal.
func ActorFromContext(ctx context.Context, fallback string) string {
	if p := PrincipalFromContext(ctx); p != nil && p.Subject != "" {
		return p.Subject
	}
	return fallback
}
