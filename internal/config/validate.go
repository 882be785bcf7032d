// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/validation"
)

// Validate checks every section. All failures are reported together.
func (c *Config) Validate() error {
	validators := []struct {
		section string
		fn      func() error
	}{
		{"server", c.validateServer},
		{"api", c.validateAPI},
		{"security", c.validateSecurity},
		{"store", c.Store.Validate},
		{"events", c.Events.Validate},
		{"taskqueue", c.TaskQueue.Validate},
		{"ratelimit", c.RateLimit.Validate},
		{"aggregation", c.Aggregation.Validate},
		{"threatscore", c.ThreatScore.Validate},
		{"escalation", c.Escalation.Validate},
		{"detection", c.Detection.Validate},
		{"notify", c.Notify.Validate},
		{"alerts", c.Alerts.Validate},
		{"audit", c.Audit.Validate},
		{"maintenance", c.validateMaintenance},
		{"supervisor", c.Supervisor.Validate},
		{"logging", c.validateLogging},
	}

	var errs []error
	for _, v := range validators {
		if err := v.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.section, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be development or production, got %q", c.Server.Environment)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("read, write and shutdown timeouts must be positive")
	}
	return nil
}

// Bounds of the admin API rate limit.
const (
	minAPIRateLimit = 1
	maxAPIRateLimit = 100000
)

func (c *Config) validateAPI() error {
	if !c.API.RateLimitDisabled {
		if c.API.RateLimitRequests < minAPIRateLimit || c.API.RateLimitRequests > maxAPIRateLimit {
			return fmt.Errorf("rate_limit_requests must be between %d and %d", minAPIRateLimit, maxAPIRateLimit)
		}
		if c.API.RateLimitWindow <= 0 {
			return fmt.Errorf("rate_limit_window must be positive")
		}
	}
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("page sizes must satisfy 1 <= default_page_size <= max_page_size")
	}
	if c.API.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024")
	}
	if c.API.PerformanceWindow < 1 {
		return fmt.Errorf("performance_window must be at least 1")
	}
	return c.validateCORS()
}

// validateCORS rejects wildcard origins in production when authentication is
// enabled, since any site could then replay a stolen bearer token.
func (c *Config) validateCORS() error {
	if c.IsProduction() && c.Security.Auth.Mode != auth.ModeNone && c.HasWildcardCORS() {
		return fmt.Errorf("cors_origins=* is not allowed in production with authentication enabled")
	}
	return nil
}

// HasWildcardCORS reports whether any origin is "*".
func (c *Config) HasWildcardCORS() bool {
	for _, origin := range c.API.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS reports a wildcard CORS setting combined with
// authentication, which is logged at startup outside production.
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.Security.Auth.Mode != auth.ModeNone && c.HasWildcardCORS()
}

func (c *Config) validateSecurity() error {
	if err := c.Security.Auth.Validate(); err != nil {
		return err
	}
	if c.IsProduction() && c.Security.Auth.Mode == auth.ModeNone {
		return fmt.Errorf("auth mode none is not allowed in production")
	}
	if c.Security.Authz.CacheTTL < 0 || c.Security.Authz.ReloadInterval < 0 {
		return fmt.Errorf("authz cache_ttl and reload_interval cannot be negative")
	}
	return nil
}

func (c *Config) validateMaintenance() error {
	if !c.Maintenance.Enabled {
		return nil
	}
	if c.Maintenance.Interval <= 0 || c.Maintenance.Timeout <= 0 {
		return fmt.Errorf("interval and timeout must be positive")
	}
	if c.Maintenance.Timeout > c.Maintenance.Interval {
		return fmt.Errorf("timeout %s exceeds interval %s", c.Maintenance.Timeout, c.Maintenance.Interval)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if verr := validation.ValidateStruct(&c.Logging); verr != nil {
		return verr
	}
	return nil
}
