// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// Action is an administrator response to an alert.
type Action string

const (
	ActionAcknowledge   Action = "acknowledge"
	ActionResolve       Action = "resolve"
	ActionFalsePositive Action = "false_positive"
	ActionInvestigate   Action = "investigate"
	ActionBlockIP       Action = "block_ip"
	ActionUnblockIP     Action = "unblock_ip"
	ActionSuspendUser   Action = "suspend_user"
	ActionUnsuspendUser Action = "unsuspend_user"
)

// ActionRequest asks for one admin action. TargetIP and TargetUserID default
// to the alert's source when empty.
type ActionRequest struct {
	Action       Action `json:"action" validate:"required,oneof=acknowledge resolve false_positive investigate block_ip unblock_ip suspend_user unsuspend_user"`
	AlertID      string `json:"alert_id,omitempty" validate:"max=128"`
	Notes        string `json:"notes,omitempty" validate:"max=2000"`
	TargetIP     string `json:"target_ip,omitempty" validate:"omitempty,ip"`
	TargetUserID string `json:"target_user_id,omitempty" validate:"max=256"`
}

// ActionResult reports what an admin action changed.
type ActionResult struct {
	Action  Action                `json:"action"`
	Alert   *models.SecurityAlert `json:"alert,omitempty"`
	Entity  *models.EntityRef     `json:"entity,omitempty"`
	Blocked *models.BlockedEntity `json:"blocked,omitempty"`
	Removed int                   `json:"removed,omitempty"`
}

// PerformAction executes an admin action and records it in the audit log.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) PerformAction(ctx context.Context, req ActionRequest, actor audit.Actor) (*ActionResult, error) {
	res, err := s.performAction(ctx, req, actor)

	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	meta := map[string]interface{}{"notes": req.Notes}
	if req.TargetIP != "" {
		meta["target_ip"] = req.TargetIP
	}
	if req.TargetUserID != "" {
		meta["target_user_id"] = req.TargetUserID
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	s.audit.LogAlertAction(ctx, actor, req.AlertID, string(req.Action), outcome, meta)
	return res, err
}

//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) performAction(ctx context.Context, req ActionRequest, actor audit.Actor) (*ActionResult, error) {
	res := &ActionResult{Action: req.Action}

	switch req.Action {
	case ActionAcknowledge, ActionResolve, ActionFalsePositive, ActionInvestigate:
		if req.AlertID == "" {
			return nil, models.NewValidationError("alert_id", "alert_id is required for "+string(req.Action))
		}
		alert, err := s.statusAction(ctx, req, actor)
		if err != nil {
			return nil, err
		}
		res.Alert = alert
		return res, nil

	case ActionBlockIP, ActionUnblockIP:
		ip, err := s.target(ctx, req.AlertID, req.TargetIP, func(src models.AlertSource) string { return src.IP })
		if err != nil {
			return nil, err
		}
		if ip == "" {
			return nil, models.NewValidationError("target_ip", "target_ip is required")
		}
		entity := models.EntityRef{Type: models.EntityIP, ID: models.NormalizeIdentity(ip)}
		res.Entity = &entity
		if req.Action == ActionBlockIP {
			res.Blocked, err = s.block(ctx, entity, models.ActionIPBlocked, req.Notes, actor, s.config.BlockTTL)
		} else {
			res.Removed, err = s.unblock(ctx, entity, actor, string(req.Action))
		}
		if err != nil {
			return nil, err
		}

	case ActionSuspendUser, ActionUnsuspendUser:
		userID, err := s.target(ctx, req.AlertID, req.TargetUserID, func(src models.AlertSource) string { return src.UserID })
		if err != nil {
			return nil, err
		}
		if userID == "" {
			return nil, models.NewValidationError("target_user_id", "target_user_id is required")
		}
		entity := models.EntityRef{Type: models.EntityUser, ID: userID}
		res.Entity = &entity
		if req.Action == ActionSuspendUser {
			res.Blocked, err = s.block(ctx, entity, models.ActionSuspended, req.Notes, actor, s.config.SuspendTTL)
		} else {
			res.Removed, err = s.unblock(ctx, entity, actor, string(req.Action), models.ActionSuspended)
		}
		if err != nil {
			return nil, err
		}

	default:
		return nil, models.NewValidationError("action", fmt.Sprintf("unknown action %q", req.Action))
	}

	if req.AlertID != "" {
		alert, err := s.annotate(ctx, req.AlertID, actor, string(req.Action), req.Notes)
		if err != nil && !errors.Is(err, models.ErrAlertNotFound) {
			s.logger.Warn().Err(err).Str("alert_id", req.AlertID).Msg("Failed to annotate alert")
		}
		res.Alert = alert
	}
	return res, nil
}

// statusAction maps the lifecycle actions onto status changes. Investigating
// an open alert acknowledges it; investigating an acknowledged one only adds
// a note.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) statusAction(ctx context.Context, req ActionRequest, actor audit.Actor) (*models.SecurityAlert, error) {
	switch req.Action {
	case ActionAcknowledge:
		return s.UpdateAlertStatus(ctx, req.AlertID, models.StatusAcknowledged, actor, req.Notes)
	case ActionResolve:
		return s.UpdateAlertStatus(ctx, req.AlertID, models.StatusResolved, actor, req.Notes)
	case ActionFalsePositive:
		note := "false positive"
		if req.Notes != "" {
			note += ": " + req.Notes
		}
		return s.UpdateAlertStatus(ctx, req.AlertID, models.StatusResolved, actor, note)
	}

	alert, err := s.GetAlert(ctx, req.AlertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.StatusOpen {
		note := "investigating"
		if req.Notes != "" {
			note += ": " + req.Notes
		}
		return s.UpdateAlertStatus(ctx, req.AlertID, models.StatusAcknowledged, actor, note)
	}
	return s.annotate(ctx, req.AlertID, actor, string(ActionInvestigate), req.Notes)
}

// target resolves an explicit target or falls back to the alert's source.
func (s *Service) target(ctx context.Context, alertID, explicit string, pick func(models.AlertSource) string) (string, error) {
	if explicit != "" || alertID == "" {
		return explicit, nil
	}
	alert, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return "", err
	}
	return pick(alert.Source), nil
}

//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) block(ctx context.Context, entity models.EntityRef, action models.ThreatAction, reason string, actor audit.Actor, ttl time.Duration) (*models.BlockedEntity, error) {
	b, err := s.threats.Block(ctx, entity, action, reason, actor.ID, ttl)
	if err != nil {
		return nil, err
	}
	s.audit.LogEntityAction(ctx, actor, string(entity.Type), entity.ID, string(action), true, b.Reason)
	s.broadcast(MessageEntityBlocked, b)
	return b, nil
}

//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) unblock(ctx context.Context, entity models.EntityRef, actor audit.Actor, label string, actions ...models.ThreatAction) (int, error) {
	n, err := s.threats.Unblock(ctx, entity, actor.ID, actions...)
	if err != nil {
		return 0, err
	}
	s.audit.LogEntityAction(ctx, actor, string(entity.Type), entity.ID, label, false, "")
	return n, nil
}

// annotate appends an admin note to an alert without changing its status.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (s *Service) annotate(ctx context.Context, id string, actor audit.Actor, action, text string) (*models.SecurityAlert, error) {
	var alert *models.SecurityAlert
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		current, err := txn.GetAlert(id)
		if err != nil {
			return err
		}
		now := s.now()
		current.AddNote(models.AlertNote{Actor: actor.ID, Action: action, Text: text, CreatedAt: now})
		current.UpdatedAt = now
		alert = current
		return txn.PutAlert(current)
	})
	if err != nil {
		return nil, fmt.Errorf("annotate alert %s: %w", id, err)
	}
	s.broadcast(MessageAlertUpdated, alert)
	return alert, nil
}
