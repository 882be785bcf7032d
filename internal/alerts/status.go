// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"fmt"

	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// UpdateAlertStatus moves an alert to status on behalf of actor. Allowed
// transitions are open to acknowledged to resolved, any status to archived,
// and re-opening acknowledged or resolved alerts. Acknowledging, resolving
// or archiving cancels the pending escalation; re-opening re-arms it.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) UpdateAlertStatus(ctx context.Context, id string, status models.Status, actor audit.Actor, note string) (*models.SecurityAlert, error) {
	if !status.Valid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	if id == "" {
		return nil, models.NewValidationError("id", "alert id is required")
	}

	var (
		alert *models.SecurityAlert
		from  models.Status
	)
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		current, err := txn.GetAlert(id)
		if err != nil {
			return err
		}
		from = current.Status
		if !from.CanTransition(status) {
			return &transitionError{from: from, to: status}
		}

		now := s.now()
		current.Status = status
		current.UpdatedAt = now
		switch status {
		case models.StatusAcknowledged:
			current.AcknowledgedAt = &now
			current.AcknowledgedBy = actor.ID
		case models.StatusResolved:
			current.ResolvedAt = &now
			current.ResolvedBy = actor.ID
		case models.StatusOpen:
			current.ResolvedAt = nil
			current.ResolvedBy = ""
		}
		current.AddNote(models.AlertNote{
			Actor:     actor.ID,
			Action:    "status:" + string(status),
			Text:      note,
			CreatedAt: now,
		})
		alert = current
		return txn.PutAlert(current)
	})
	if err != nil {
		return nil, fmt.Errorf("could not update status of alert %s: %w", id, err)
	}

	metrics.AlertStatusChanges.WithLabelValues(string(status)).Inc()
	switch {
	case status != models.StatusOpen:
		if err := s.escalation.CancelEscalation(ctx, id); err != nil {
			// The escalation handler re-checks the status, so a missed
			// cancel only costs one no-op invocation.
			s.logger.Warn().Err(err).Str("alert_id", id).Msg("Failed to cancel escalation")
		}
	case alert.Severity.AtLeast(models.SeverityWarning):
		if _, err := s.escalation.Schedule(ctx, alert); err != nil {
			// The next merged occurrence retries the schedule.
			s.logger.Error().Err(err).Str("alert_id", id).Msg("Failed to re-arm escalation")
		}
	}

	s.audit.LogAlertStatus(ctx, actor, id, string(from), string(status), note)
	s.broadcast(MessageAlertUpdated, alert)
	s.logger.Info().
		Str("alert_id", id).
		Str("from", string(from)).
		Str("to", string(status)).
		Str("actor", actor.ID).
		Msg("Alert status updated")
	return alert, nil
}

// transitionError is a ValidationError that also matches ErrInvalidTransition.
type transitionError struct {
	from, to models.Status
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", models.ErrInvalidTransition, e.from, e.to)
}

func (e *transitionError) Is(target error) bool {
	return target == models.ErrInvalidTransition || target == models.ErrValidation
}

// GetAlert returns one alert.
func (s *Service) GetAlert(ctx context.Context, id string) (*models.SecurityAlert, error) {
	var alert *models.SecurityAlert
	err := s.store.View(ctx, func(txn *store.Txn) error {
		var err error
		alert, err = txn.GetAlert(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts returns a page of alerts matching filter, most recently seen
// first, and the total number of matches.
func (s *Service) ListAlerts(ctx context.Context, filter store.AlertFilter, limit, offset int) ([]*models.SecurityAlert, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListAlerts(ctx, filter, limit, offset)
}
