// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/vigil/internal/aggregation"
	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/archive"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/authz"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/ratelimit"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/supervisor"
	"github.com/tomtom215/vigil/internal/supervisor/services"
	"github.com/tomtom215/vigil/internal/taskqueue"
	"github.com/tomtom215/vigil/internal/threatscore"
)

// Config is the complete service configuration. Each section is owned by the
// package that consumes it.
type Config struct {
	Server      ServerConfig                      `koanf:"server"`
	API         APIConfig                         `koanf:"api"`
	Security    SecurityConfig                    `koanf:"security"`
	Store       store.Config                      `koanf:"store"`
	Events      eventprocessor.Config             `koanf:"events"`
	TaskQueue   taskqueue.Config                  `koanf:"taskqueue"`
	RateLimit   ratelimit.Config                  `koanf:"ratelimit"`
	Aggregation aggregation.Config                `koanf:"aggregation"`
	ThreatScore threatscore.Config                `koanf:"threatscore"`
	Escalation  escalation.Config                 `koanf:"escalation"`
	Detection   detection.Thresholds              `koanf:"detection"`
	Notify      notify.Config                     `koanf:"notify"`
	Alerts      alerts.Config                     `koanf:"alerts"`
	Archive     archive.Config                    `koanf:"archive"`
	Audit       audit.Config                      `koanf:"audit"`
	Maintenance services.MaintenanceServiceConfig `koanf:"maintenance"`
	Logging     logging.Config                    `koanf:"logging"`
	Supervisor  supervisor.TreeConfig             `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment is "development" or "production". Production rejects
	// wildcard CORS with authentication enabled.
	Environment string `koanf:"environment"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// APIConfig holds admin API settings.
type APIConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`

	// PerformanceWindow is the number of recent requests kept for the
	// latency report.
	PerformanceWindow int `koanf:"performance_window"`

	// SlowRequestThreshold logs requests slower than this. Zero disables it.
	SlowRequestThreshold time.Duration `koanf:"slow_request_threshold"`
}

// DefaultAPIConfig returns the admin API defaults.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		CORSOrigins:          []string{},
		RateLimitRequests:    300,
		RateLimitWindow:      time.Minute,
		DefaultPageSize:      50,
		MaxPageSize:          500,
		MaxBodyBytes:         1 << 20,
		PerformanceWindow:    1000,
		SlowRequestThreshold: time.Second,
	}
}

// SecurityConfig groups authentication and authorization.
type SecurityConfig struct {
	Auth  auth.Config  `koanf:"auth"`
	Authz authz.Config `koanf:"authz"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// defaultConfig returns every section's defaults. They are applied first,
// then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8088,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		API: DefaultAPIConfig(),
		Security: SecurityConfig{
			Auth:  auth.DefaultConfig(),
			Authz: authz.DefaultConfig(),
		},
		Store:       store.DefaultConfig(),
		Events:      eventprocessor.DefaultConfig(),
		TaskQueue:   taskqueue.DefaultConfig(),
		RateLimit:   ratelimit.DefaultConfig(),
		Aggregation: aggregation.DefaultConfig(),
		ThreatScore: threatscore.DefaultConfig(),
		Escalation:  escalation.DefaultConfig(),
		Detection:   detection.DefaultThresholds(),
		Notify:      notify.DefaultConfig(),
		Alerts:      alerts.DefaultConfig(),
		Archive:     archive.DefaultConfig(),
		Audit:       audit.DefaultConfig(),
		Maintenance: services.DefaultMaintenanceServiceConfig(),
		Logging:     logging.DefaultConfig(),
		Supervisor:  supervisor.DefaultTreeConfig(),
	}
}
