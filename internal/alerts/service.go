// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/aggregation"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/ratelimit"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/threatscore"
)

// Live stream message types.
const (
	MessageAlertCreated  = "security_alert"
	MessageAlertUpdated  = "security_alert_updated"
	MessageEntityBlocked = "entity_blocked"
)

// Dispatcher delivers notifications for one alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.SecurityAlert, reason string) *notify.Result
}

// Broadcaster pushes live updates to stream clients.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// Config holds orchestrator settings.
type Config struct {
	// StatsPeriod is the default look-back of GetStats.
	StatsPeriod time.Duration `koanf:"stats_period"`

	// ExpiringWithin is the horizon of the "blocked entities expiring soon" count.
	ExpiringWithin time.Duration `koanf:"expiring_within"`

	// BatchLimit bounds CreateSecurityAlertsBatch.
	BatchLimit int `koanf:"batch_limit"`

	// BlockTTL is the duration of a manual IP block. Zero is permanent.
	BlockTTL time.Duration `koanf:"block_ttl"`

	// SuspendTTL is the duration of a manual user suspension. Zero is permanent.
	SuspendTTL time.Duration `koanf:"suspend_ttl"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		StatsPeriod:    24 * time.Hour,
		ExpiringWithin: time.Hour,
		BatchLimit:     100,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.StatsPeriod <= 0 || c.ExpiringWithin <= 0 {
		return fmt.Errorf("alerts stats_period and expiring_within must be positive")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("alerts batch_limit must be at least 1")
	}
	if c.BlockTTL < 0 || c.SuspendTTL < 0 {
		return fmt.Errorf("alerts block_ttl and suspend_ttl cannot be negative")
	}
	return nil
}

// Deps are the components the orchestrator composes. Notifier, Broadcaster
// and Audit are optional.
type Deps struct {
	Store       *store.Store
	Limiter     *ratelimit.Limiter
	Aggregator  *aggregation.Aggregator
	Threats     *threatscore.Service
	Escalation  *escalation.Scheduler
	Notifier    Dispatcher
	Broadcaster Broadcaster
	Audit       *audit.Logger
}

// Service is the single entry point for raising and managing alerts.
type Service struct {
	store       *store.Store
	limiter     *ratelimit.Limiter
	aggregator  *aggregation.Aggregator
	threats     *threatscore.Service
	escalation  *escalation.Scheduler
	notifier    Dispatcher
	broadcaster Broadcaster
	audit       *audit.Logger
	config      Config
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates the orchestrator and registers it as the escalation notifier.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil || deps.Limiter == nil || deps.Aggregator == nil ||
		deps.Threats == nil || deps.Escalation == nil {
		return nil, fmt.Errorf("alerts: store, limiter, aggregator, threats and escalation are required")
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultConfig().BatchLimit
	}
	if cfg.StatsPeriod <= 0 {
		cfg.StatsPeriod = DefaultConfig().StatsPeriod
	}
	if cfg.ExpiringWithin <= 0 {
		cfg.ExpiringWithin = DefaultConfig().ExpiringWithin
	}

	s := &Service{
		store:       deps.Store,
		limiter:     deps.Limiter,
		aggregator:  deps.Aggregator,
		threats:     deps.Threats,
		escalation:  deps.Escalation,
		notifier:    deps.Notifier,
		broadcaster: deps.Broadcaster,
		audit:       deps.Audit,
		config:      cfg,
		now:         time.Now,
		logger:      logging.WithComponent("alerts"),
	}
	deps.Escalation.SetNotifier(s)
	return s, nil
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Config returns the orchestrator configuration.
func (s *Service) Config() Config {
	return s.config
}

func (s *Service) broadcast(messageType string, data interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastJSON(messageType, data)
	}
}
