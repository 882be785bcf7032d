// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package aggregation

import (
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// RenotifyPolicy decides at which occurrence counts a merged alert notifies again.
//
// Notifications fire at every listed checkpoint, then keep growing
// geometrically by Factor from the last checkpoint. With checkpoints
// 5, 25, 100 and factor 5 a merged alert notifies at occurrences
// 5, 25, 100, 500, 2500 and so on.
type RenotifyPolicy struct {
	Checkpoints []int64 `koanf:"checkpoints"`
	Factor      int64   `koanf:"factor"`
}

// DefaultRenotifyPolicy returns the policy used for types without an override.
func DefaultRenotifyPolicy() RenotifyPolicy {
	return RenotifyPolicy{Checkpoints: []int64{5, 25, 100}, Factor: 5}
}

// IsCheckpoint reports whether occurrence count n should notify again.
// The first occurrence is not a checkpoint; new alerts always notify.
func (p RenotifyPolicy) IsCheckpoint(n int64) bool {
	if n <= 1 || len(p.Checkpoints) == 0 {
		return false
	}
	for _, c := range p.Checkpoints {
		if n == c {
			return true
		}
	}
	last := p.Checkpoints[len(p.Checkpoints)-1]
	if p.Factor < 2 || n <= last {
		return false
	}
	for c := last; c < n; {
		// Stop before overflowing; counts that large never occur in practice.
		if c > (1<<62)/p.Factor {
			return false
		}
		c *= p.Factor
		if c == n {
			return true
		}
	}
	return false
}

// Validate checks the policy.
func (p RenotifyPolicy) Validate() error {
	var prev int64 = 1
	for _, c := range p.Checkpoints {
		if c <= prev {
			return fmt.Errorf("checkpoints must be strictly increasing and greater than 1")
		}
		prev = c
	}
	if p.Factor != 0 && p.Factor < 2 {
		return fmt.Errorf("factor must be 0 (disabled) or at least 2")
	}
	return nil
}

// Config holds aggregation configuration.
type Config struct {
	// DefaultWindow is the coalescing window for types without an override.
	DefaultWindow time.Duration `koanf:"default_window"`

	// Windows overrides the coalescing window per alert type.
	Windows map[string]time.Duration `koanf:"windows"`

	// DefaultRenotify is the re-notification policy for types without an override.
	DefaultRenotify RenotifyPolicy `koanf:"default_renotify"`

	// Renotify overrides the re-notification policy per alert type.
	Renotify map[string]RenotifyPolicy `koanf:"renotify"`

	// ArchiveAfter is how long a resolved alert stays in the hot store.
	ArchiveAfter time.Duration `koanf:"archive_after"`

	// IdempotencyTTL is how long a caller supplied idempotency key is remembered.
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWindow: 30 * time.Minute,
		Windows: map[string]time.Duration{
			string(models.AlertTypeBruteForce):          15 * time.Minute,
			string(models.AlertTypeAPIAbuse):            15 * time.Minute,
			string(models.AlertTypeRateLimitExceeded):   15 * time.Minute,
			string(models.AlertTypeSuspiciousPayment):   time.Hour,
			string(models.AlertTypeCardTesting):         time.Hour,
			string(models.AlertTypeUnusualLocation):     time.Hour,
			string(models.AlertTypeImpossibleTravel):    time.Hour,
			string(models.AlertTypeMassAccountCreation): time.Hour,
			string(models.AlertTypePromoAbuse):          time.Hour,
			string(models.AlertTypeMultipleSessions):    time.Hour,
		},
		DefaultRenotify: DefaultRenotifyPolicy(),
		Renotify: map[string]RenotifyPolicy{
			// Promo abuse keeps firing for every redemption past the
			// threshold; one notification per burst is enough.
			string(models.AlertTypePromoAbuse): {Checkpoints: []int64{25, 100}, Factor: 5},
		},
		ArchiveAfter:   30 * 24 * time.Hour,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultWindow <= 0 {
		return fmt.Errorf("default_window must be positive")
	}
	for t, w := range c.Windows {
		if w <= 0 {
			return fmt.Errorf("window for %s must be positive", t)
		}
	}
	if err := c.DefaultRenotify.Validate(); err != nil {
		return fmt.Errorf("default_renotify: %w", err)
	}
	for t, p := range c.Renotify {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("renotify for %s: %w", t, err)
		}
	}
	if c.ArchiveAfter <= 0 {
		return fmt.Errorf("archive_after must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency_ttl must be positive")
	}
	return nil
}

// WindowFor returns the coalescing window of an alert type.
func (c *Config) WindowFor(t models.AlertType) time.Duration {
	if w, ok := c.Windows[string(t)]; ok {
		return w
	}
	return c.DefaultWindow
}

// PolicyFor returns the re-notification policy of an alert type.
func (c *Config) PolicyFor(t models.AlertType) RenotifyPolicy {
	if p, ok := c.Renotify[string(t)]; ok {
		return p
	}
	return c.DefaultRenotify
}
