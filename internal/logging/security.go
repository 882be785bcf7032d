// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package logging

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// AccessEvent is one authentication or authorization decision on the
// operator API.
type AccessEvent struct {
	Event    string // token_rejected, token_issued, access_denied, access_granted
	Subject  string
	Role     string
	IP       string
	Method   string
	Path     string
	Resource string
	Action   string
	Success  bool
	Reason   string
	Details  map[string]string
}

// SecurityLogger writes access events with secrets masked. It is separate
// from the audit trail: audit records what operators did to alerts, this
// records who was let in.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger returns a logger tagged component=access.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: With().Str("component", "access").Logger()}
}

// NewSecurityLoggerWithLogger is NewSecurityLogger over a specific logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With().Str("component", "access").Logger()}
}

// LogEvent writes ev. Failures log at warn, successes at debug so that a
// busy dashboard does not flood the log.
func (l *SecurityLogger) LogEvent(ctx context.Context, ev *AccessEvent) {
	var e *zerolog.Event
	if ev.Success {
		e = l.logger.Debug().Str("status", "success")
	} else {
		e = l.logger.Warn().Str("status", "failed")
	}
	e = e.Str("event", ev.Event)
	if ctx != nil {
		if id := RequestIDFromContext(ctx); id != "" {
			e = e.Str("request_id", id)
		}
	}
	if ev.Subject != "" {
		e = e.Str("subject", ev.Subject)
	}
	if ev.Role != "" {
		e = e.Str("role", ev.Role)
	}
	if ev.IP != "" {
		e = e.Str("ip", ev.IP)
	}
	if ev.Method != "" {
		e = e.Str("method", ev.Method).Str("path", ev.Path)
	}
	if ev.Resource != "" {
		e = e.Str("resource", ev.Resource).Str("action", ev.Action)
	}
	if ev.Reason != "" {
		e = e.Str("reason", SanitizeError(ev.Reason))
	}
	for k, v := range ev.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg("access decision")
}

// LogTokenRejected records a request whose bearer token failed validation.
func (l *SecurityLogger) LogTokenRejected(ctx context.Context, ip, method, path, reason string) {
	l.LogEvent(ctx, &AccessEvent{Event: "token_rejected", IP: ip, Method: method, Path: path, Reason: reason})
}

// LogAccessDenied records a valid principal refused by policy.
func (l *SecurityLogger) LogAccessDenied(ctx context.Context, subject, role, resource, action string) {
	l.LogEvent(ctx, &AccessEvent{Event: "access_denied", Subject: subject, Role: role, Resource: resource, Action: action})
}

// LogTokenIssued records a token minted by the CLI.
func (l *SecurityLogger) LogTokenIssued(subject, role, ttl string) {
	l.LogEvent(context.Background(), &AccessEvent{
		Event: "token_issued", Subject: subject, Role: role, Success: true,
		Details: map[string]string{"ttl": ttl},
	})
	// Issuance is rare and always worth seeing.
	l.logger.Info().Str("subject", subject).Str("role", role).Str("ttl", ttl).Msg("API token issued")
}

// SanitizeToken keeps the first and last four characters.
//
//	"eyJhbGciOiJIUzI1NiJ9" -> "eyJh...NiJ9"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

var sensitiveWords = []string{"password", "secret", "token", "bearer", "authorization", "cookie", "key"}

// SanitizeError replaces messages that mention credentials with a generic
// string and caps the rest at 200 runes.
func SanitizeError(msg string) string {
	lower := strings.ToLower(msg)
	for _, w := range sensitiveWords {
		if strings.Contains(lower, w) {
			return "credential error"
		}
	}
	return truncate(msg, 200)
}

var sensitiveKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"authorization": true,
	"cookie":        true,
	"webhook_url":   true,
}

// SanitizeValue masks value when key names a credential.
func SanitizeValue(key, value string) string {
	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeToken(value)
	}
	return value
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}
