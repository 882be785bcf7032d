// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package ratelimit bounds how many notifications a (type, source) pair may
// produce per window.
//
// The limiter never stops an alert from being recorded. A limited decision
// only suppresses notification, so no security signal is lost, only noise.
// Window records live in the transactional store by default, or in Redis
// when several engine instances must share one budget.
package ratelimit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// Config holds rate limiter configuration.
type Config struct {
	// Backend selects window storage: "store" or "redis".
	Backend string `koanf:"backend"`

	// Window is the fixed window length. Counts reset at every boundary.
	Window time.Duration `koanf:"window"`

	// Default is the notification ceiling per window for types without an override.
	Default int64 `koanf:"default"`

	// Limits overrides the ceiling per alert type.
	Limits map[string]int64 `koanf:"limits"`

	// BypassSources lists trusted sources that are never limited.
	BypassSources []string `koanf:"bypass_sources"`

	// BypassSeverities lists severities that are never limited.
	BypassSeverities []string `koanf:"bypass_severities"`

	// RetentionPeriods is how many windows a record is kept after its window closed.
	RetentionPeriods int `koanf:"retention_periods"`

	Redis RedisConfig `koanf:"redis"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Backend: "store",
		Window:  time.Hour,
		Default: 10,
		Limits: map[string]int64{
			string(models.AlertTypeBruteForce):        20,
			string(models.AlertTypeAPIAbuse):          20,
			string(models.AlertTypeRateLimitExceeded): 5,
			string(models.AlertTypePromoAbuse):        5,
		},
		BypassSeverities: []string{string(models.SeverityEmergency)},
		RetentionPeriods: 24,
		Redis:            DefaultRedisConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Backend != "store" && c.Backend != "redis" {
		return fmt.Errorf("backend must be store or redis, got %q", c.Backend)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	// A ceiling of zero would suppress the first alert of a new pair.
	if c.Default < 1 {
		return fmt.Errorf("default limit must be at least 1")
	}
	for t, limit := range c.Limits {
		if limit < 1 {
			return fmt.Errorf("limit for %s must be at least 1", t)
		}
	}
	for _, s := range c.BypassSeverities {
		if !models.Severity(s).Valid() {
			return fmt.Errorf("unknown bypass severity %q", s)
		}
	}
	if c.RetentionPeriods < 1 {
		return fmt.Errorf("retention_periods must be at least 1")
	}
	return nil
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int64 `json:"remaining"`
	Count      int64 `json:"count"`
	Limit      int64 `json:"limit"`
	Bypassed   bool  `json:"bypassed,omitempty"`
	FailOpen   bool  `json:"fail_open,omitempty"`
	FailClosed bool  `json:"fail_closed,omitempty"`
}

// Backend persists window records.
type Backend interface {
	// Increment adds one to the window record of key, resetting it when
	// windowStart differs from the stored window, and returns the new record.
	Increment(ctx context.Context, rec models.RateLimitRecord, window time.Duration, retain time.Duration) (*models.RateLimitRecord, error)

	// SetBypass marks or clears the bypass override of key.
	SetBypass(ctx context.Context, rec models.RateLimitRecord, bypass bool) error

	// Cleanup removes records whose window started before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)

	// Stats summarizes records in the window starting at windowStart.
	Stats(ctx context.Context, windowStart time.Time, limitFor func(models.AlertType) int64) (models.RateLimitStats, error)
}

// Limiter is the alert notification rate limiter.
type Limiter struct {
	backend Backend
	config  Config
	now     func() time.Time

	bypassSources    map[string]struct{}
	bypassSeverities map[models.Severity]struct{}
}

// New creates a limiter over backend.
func New(backend Backend, cfg Config) *Limiter {
	l := &Limiter{
		backend:          backend,
		config:           cfg,
		now:              time.Now,
		bypassSources:    make(map[string]struct{}, len(cfg.BypassSources)),
		bypassSeverities: make(map[models.Severity]struct{}, len(cfg.BypassSeverities)),
	}
	for _, s := range cfg.BypassSources {
		l.bypassSources[models.NormalizeIdentity(s)] = struct{}{}
	}
	for _, s := range cfg.BypassSeverities {
		l.bypassSeverities[models.Severity(s)] = struct{}{}
	}
	return l
}

// WithClock replaces the limiter clock. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// GenerateRateLimitKey returns the deterministic window key of a (type, source) pair.
// The source is normalized first so that case, ports and IP spelling do not
// split one source across several buckets.
func GenerateRateLimitKey(alertType models.AlertType, source string) string {
	sum := blake2b.Sum256([]byte(models.NormalizeIdentity(source)))
	return string(alertType) + "|" + hex.EncodeToString(sum[:16])
}

// ShouldBypass reports whether the pair is exempt from limiting.
func (l *Limiter) ShouldBypass(_ models.AlertType, severity models.Severity, source string) bool {
	if _, ok := l.bypassSeverities[severity]; ok {
		return true
	}
	_, ok := l.bypassSources[models.NormalizeIdentity(source)]
	return ok
}

// LimitFor returns the notification ceiling of an alert type.
func (l *Limiter) LimitFor(alertType models.AlertType) int64 {
	if limit, ok := l.config.Limits[string(alertType)]; ok {
		return limit
	}
	return l.config.Default
}

func (l *Limiter) windowStart(now time.Time) time.Time {
	return now.Truncate(l.config.Window)
}

// Check counts one alert against its window and decides whether it may notify.
//
// If the backend fails, emergency alerts fail open and everything else fails
// closed. The backend error is returned alongside the decision for logging;
// it is never a reason to drop the alert itself.
func (l *Limiter) Check(ctx context.Context, alertType models.AlertType, severity models.Severity, source string) (Decision, error) {
	limit := l.LimitFor(alertType)

	if l.ShouldBypass(alertType, severity, source) {
		metrics.RateLimitDecisions.WithLabelValues("bypassed").Inc()
		return Decision{Allowed: true, Bypassed: true, Remaining: limit, Limit: limit}, nil
	}

	now := l.now()
	rec := models.RateLimitRecord{
		Key:         GenerateRateLimitKey(alertType, source),
		Type:        alertType,
		Source:      models.NormalizeIdentity(source),
		WindowStart: l.windowStart(now),
	}
	retain := time.Duration(l.config.RetentionPeriods) * l.config.Window

	updated, err := l.backend.Increment(ctx, rec, l.config.Window, retain)
	if err != nil {
		d := Decision{Limit: limit}
		if severity == models.SeverityEmergency {
			d.Allowed, d.FailOpen = true, true
			metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
		} else {
			d.FailClosed = true
			metrics.RateLimitDecisions.WithLabelValues("fail_closed").Inc()
		}
		logging.Ctx(ctx).Warn().Err(err).
			Str("type", string(alertType)).
			Str("severity", string(severity)).
			Bool("fail_open", d.FailOpen).
			Msg("Rate limiter backend unavailable")
		return d, fmt.Errorf("rate limit check: %w", err)
	}

	if updated.Bypass {
		metrics.RateLimitDecisions.WithLabelValues("bypassed").Inc()
		return Decision{Allowed: true, Bypassed: true, Count: updated.Count, Remaining: limit, Limit: limit}, nil
	}

	d := Decision{
		Allowed:   updated.Count <= limit,
		Count:     updated.Count,
		Limit:     limit,
		Remaining: max(0, limit-updated.Count),
	}
	if d.Allowed {
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues("limited").Inc()
	}
	return d, nil
}

// SetBypass marks a (type, source) pair as trusted, or clears the mark.
func (l *Limiter) SetBypass(ctx context.Context, alertType models.AlertType, source string, bypass bool) error {
	rec := models.RateLimitRecord{
		Key:         GenerateRateLimitKey(alertType, source),
		Type:        alertType,
		Source:      models.NormalizeIdentity(source),
		WindowStart: l.windowStart(l.now()),
	}
	if err := l.backend.SetBypass(ctx, rec, bypass); err != nil {
		return fmt.Errorf("set bypass: %w", err)
	}
	return nil
}

// CleanupExpired removes window records older than the retention period.
func (l *Limiter) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := l.windowStart(l.now()).Add(-time.Duration(l.config.RetentionPeriods) * l.config.Window)
	n, err := l.backend.Cleanup(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("cleanup rate limits: %w", err)
	}
	return n, nil
}

// Stats summarizes the current window.
func (l *Limiter) Stats(ctx context.Context) (models.RateLimitStats, error) {
	return l.backend.Stats(ctx, l.windowStart(l.now()), l.LimitFor)
}
