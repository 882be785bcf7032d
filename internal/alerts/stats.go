// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// GetStats summarizes alerts seen within period (the configured default when
// zero) together with the rate limiter, escalation and blocked-entity state.
// Supporting summaries that fail are logged and left empty.
func (s *Service) GetStats(ctx context.Context, period time.Duration) (*models.AlertStats, error) {
	if period <= 0 {
		period = s.config.StatsPeriod
	}
	now := s.now()
	since := now.Add(-period)

	stats := &models.AlertStats{
		Period:         period.String(),
		Since:          since,
		BySeverity:     map[string]int{},
		ByStatus:       map[string]int{},
		ByType:         map[string]int{},
		OpenBySeverity: map[models.Severity]int{},
	}

	err := s.store.ForEachAlert(ctx, func(a *models.SecurityAlert) error {
		if a.Status == models.StatusOpen {
			stats.OpenBySeverity[a.Severity]++
		}
		if a.LastSeenAt.Before(since) {
			return nil
		}
		stats.Total++
		stats.BySeverity[string(a.Severity)]++
		stats.ByStatus[string(a.Status)]++
		stats.ByType[a.Type.ShortName()]++
		stats.Occurrences += a.OccurrenceCount
		if a.OccurrenceCount > 1 {
			stats.Aggregated++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect alert stats: %w", err)
	}

	if rl, err := s.limiter.Stats(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Rate limit stats unavailable")
	} else {
		stats.RateLimit = rl
	}
	if esc, err := s.escalation.Stats(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("Escalation stats unavailable")
	} else {
		stats.Escalation = esc
	}
	blocked, err := s.threats.BlockedStats(ctx, s.config.ExpiringWithin)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Blocked entity stats unavailable")
	}
	stats.Blocked = blocked
	return stats, nil
}
