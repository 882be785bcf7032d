// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/alerts"
)

// Maintainer runs one maintenance pass. Satisfied by *alerts.Service.
type Maintainer interface {
	RunMaintenance(ctx context.Context) (*alerts.MaintenanceReport, error)
}

// MaintenanceServiceConfig holds configuration for the maintenance loop.
type MaintenanceServiceConfig struct {
	// Enabled turns the periodic loop on. The HTTP endpoint and CLI
	// command work either way.
	Enabled bool `koanf:"enabled"`

	// RunOnStartup runs a pass as soon as the service starts.
	RunOnStartup bool `koanf:"run_on_startup"`

	// Interval is the time between passes. Default: 5m
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds a single pass. Default: 2m
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultMaintenanceServiceConfig returns the maintenance defaults.
func DefaultMaintenanceServiceConfig() MaintenanceServiceConfig {
	return MaintenanceServiceConfig{
		Enabled:      true,
		RunOnStartup: true,
		Interval:     5 * time.Minute,
		Timeout:      2 * time.Minute,
	}
}

// MaintenanceService runs rate-limit cleanup, archival and the escalation
// sweep on a fixed interval. A failed pass is logged and retried on the next
// tick; it never restarts the service.
type MaintenanceService struct {
	maintainer Maintainer
	config     MaintenanceServiceConfig
	logger     zerolog.Logger
	name       string
}

// NewMaintenanceService creates a new maintenance service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewMaintenanceService(m Maintainer, cfg MaintenanceServiceConfig, logger zerolog.Logger) *MaintenanceService {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &MaintenanceService{
		maintainer: m,
		config:     cfg,
		logger:     logger.With().Str("service", "maintenance").Logger(),
		name:       "maintenance",
	}
}

// Serve implements suture.Service.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("run_on_startup", s.config.RunOnStartup).
		Dur("interval", s.config.Interval).
		Msg("maintenance service starting")

	if s.config.RunOnStartup {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("maintenance service shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *MaintenanceService) runOnce(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := s.maintainer.RunMaintenance(passCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("maintenance pass finished with failures")
	}
	if report == nil {
		return
	}

	ev := s.logger.Debug()
	for i := range report.Tasks {
		ev = ev.Int(report.Tasks[i].Task, report.Tasks[i].Processed)
	}
	ev.Dur("duration", time.Since(start)).Msg("maintenance pass complete")
}

// String implements fmt.Stringer.
func (s *MaintenanceService) String() string {
	return s.name
}
