// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/threatscore"
	"github.com/tomtom215/vigil/internal/validation"
)

// Notification reasons passed to the dispatcher.
const (
	ReasonNew       = "new"
	ReasonRecurring = "recurring"
	ReasonEscalated = "escalated"
)

// CreateResult is the outcome of CreateSecurityAlert.
type CreateResult struct {
	AlertID         string                `json:"alert_id"`
	Severity        models.Severity       `json:"severity"`
	Created         bool                  `json:"created"`
	Aggregated      bool                  `json:"aggregated"`
	Duplicate       bool                  `json:"duplicate"`
	Notified        bool                  `json:"notified"`
	RateLimited     bool                  `json:"rate_limited"`
	Escalating      bool                  `json:"escalating"`
	OccurrenceCount int64                 `json:"occurrence_count"`
	ThreatScores    []*threatscore.Result `json:"threat_scores,omitempty"`
}

// CreateSecurityAlert runs one payload through the pipeline: validation, rate
// limiting, aggregation, threat scoring, notification, escalation and the live
// stream. Only validation and persistence failures are returned; every later
// step logs its failure and lets the alert stand.
func (s *Service) CreateSecurityAlert(ctx context.Context, p *models.AlertPayload) (*CreateResult, error) {
	if p == nil {
		metrics.AlertCreateFailures.WithLabelValues("validation").Inc()
		return nil, models.NewValidationError("payload", "payload is required")
	}
	if verr := validation.ValidateStruct(p); verr != nil {
		metrics.AlertCreateFailures.WithLabelValues("validation").Inc()
		return nil, verr.ToModelError()
	}

	source := p.Source.Identity()
	decision, err := s.limiter.Check(ctx, p.Type, p.Severity, source)
	if err != nil {
		// The decision already carries the fail-open/fail-closed outcome.
		s.logger.Warn().Err(err).Str("type", string(p.Type)).Msg("Rate limit check degraded")
	}

	now := s.now()
	agg, err := s.aggregator.CreateOrAggregate(ctx, p, now)
	if err != nil {
		reason := "other"
		if models.IsTransient(err) {
			reason = "store"
		}
		metrics.AlertCreateFailures.WithLabelValues(reason).Inc()
		return nil, fmt.Errorf("create security alert: %w", err)
	}

	alert := agg.Alert
	res := &CreateResult{
		AlertID:         alert.ID,
		Severity:        alert.Severity,
		Created:         agg.Created,
		Aggregated:      agg.Aggregated,
		Duplicate:       agg.Duplicate,
		OccurrenceCount: alert.OccurrenceCount,
	}
	if agg.Duplicate {
		logging.Ctx(ctx).Debug().
			Str("alert_id", alert.ID).
			Str("idempotency_key", p.IdempotencyKey).
			Msg("Replayed alert payload ignored")
		return res, nil
	}

	// Every contributing occurrence feeds the threat score. Notification
	// happens only for a new alert or a renotify checkpoint.
	res.ThreatScores = s.recordThreats(ctx, p, alert)

	if agg.ShouldNotify {
		if decision.Allowed {
			reason := ReasonNew
			if agg.Aggregated {
				reason = ReasonRecurring
			}
			res.Notified = s.notify(ctx, alert, reason)
		} else {
			res.RateLimited = true
			metrics.NotificationsSuppressed.WithLabelValues("rate_limited").Inc()
		}
	}

	// Scheduling is idempotent while a schedule is pending, so a merge
	// retries a schedule that failed or was lost when the alert re-opened.
	if alert.Status == models.StatusOpen && alert.Severity.AtLeast(models.SeverityWarning) {
		scheduled, err := s.escalation.Schedule(ctx, alert)
		if err != nil {
			s.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to schedule escalation")
		}
		res.Escalating = scheduled
	}

	msgType := MessageAlertUpdated
	if agg.Created {
		msgType = MessageAlertCreated
	}
	s.broadcast(msgType, alert)

	logging.Ctx(ctx).Info().
		Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Bool("created", res.Created).
		Int64("occurrences", res.OccurrenceCount).
		Bool("notified", res.Notified).
		Bool("rate_limited", res.RateLimited).
		Msg("Security alert recorded")
	return res, nil
}

// SubmitAlert implements the detector submission contract.
func (s *Service) SubmitAlert(ctx context.Context, p *models.AlertPayload) (string, error) {
	res, err := s.CreateSecurityAlert(ctx, p)
	if err != nil {
		return "", err
	}
	return res.AlertID, nil
}

// sourceEntities returns the scored entities of a payload.
func sourceEntities(src models.AlertSource) []models.EntityRef {
	var out []models.EntityRef
	if src.UserID != "" {
		out = append(out, models.EntityRef{Type: models.EntityUser, ID: src.UserID})
	}
	if ip := models.NormalizeIdentity(src.IP); ip != "" {
		out = append(out, models.EntityRef{Type: models.EntityIP, ID: ip})
	}
	return out
}

// recordThreats feeds the alert into the threat score of each source entity.
// A tier that asks for admin attention raises an admin_action_required alert,
// keyed so that it is raised once per (entity, action, epoch).
func (s *Service) recordThreats(ctx context.Context, p *models.AlertPayload, alert *models.SecurityAlert) []*threatscore.Result {
	cfg := s.threats.Config()
	category := p.Type.ShortName()
	weight := cfg.WeightFor(category)
	if weight <= 0 {
		return nil
	}

	var results []*threatscore.Result
	for _, entity := range sourceEntities(p.Source) {
		r, err := s.threats.RecordFactor(ctx, entity, category, weight)
		if err != nil {
			s.logger.Error().Err(err).
				Str("entity", entity.String()).
				Str("alert_id", alert.ID).
				Msg("Failed to record threat factor")
			continue
		}
		results = append(results, r)

		if r.AppliedAction == nil {
			continue
		}
		s.broadcast(MessageEntityBlocked, r.AppliedAction)
		if r.NotifyAdmin {
			s.raiseAdminAlert(ctx, r, alert)
		}
	}
	return results
}

func (s *Service) raiseAdminAlert(ctx context.Context, r *threatscore.Result, cause *models.SecurityAlert) {
	sev := models.SeverityWarning
	if r.Tier >= 3 {
		sev = models.SeverityCritical
	}
	src := models.AlertSource{System: "threat-score"}
	switch r.Entity.Type {
	case models.EntityUser:
		src.UserID = r.Entity.ID
	case models.EntityIP:
		src.IP = r.Entity.ID
	}

	payload := &models.AlertPayload{
		Type:     models.AlertTypeAdminActionRequired,
		Severity: sev,
		Title:    fmt.Sprintf("Threat response %s applied to %s", r.AppliedAction.Action, r.Entity),
		Context: models.AlertContext{
			Timestamp: s.now(),
			Resource:  "threat:" + r.Entity.String(),
			ActorID:   r.Entity.ID,
			Extra: map[string]any{
				"score":        r.Score,
				"tier":         r.Tier,
				"action":       string(r.AppliedAction.Action),
				"cause_alert":  cause.ID,
				"cause_type":   string(cause.Type),
				"threat_epoch": r.Epoch,
			},
		},
		Source:         src,
		IdempotencyKey: "threat:" + r.Entity.String() + ":" + string(r.AppliedAction.Action) + ":" + strconv.FormatInt(r.Epoch, 10),
	}
	if _, err := s.CreateSecurityAlert(ctx, payload); err != nil {
		s.logger.Error().Err(err).Str("entity", r.Entity.String()).Msg("Failed to raise admin alert")
	}
}

// notify dispatches and records a notification, reporting whether anything
// was delivered.
func (s *Service) notify(ctx context.Context, alert *models.SecurityAlert, reason string) bool {
	delivered, err := s.deliver(ctx, alert, reason)
	if err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("Alert notification failed")
	}
	return delivered
}

// NotifyAlert dispatches a notification for alert and records it on the
// alert. It fails only when deliveries were attempted and none succeeded.
// The escalation scheduler calls it for re-notifications.
func (s *Service) NotifyAlert(ctx context.Context, alert *models.SecurityAlert, reason string) error {
	_, err := s.deliver(ctx, alert, reason)
	return err
}

func (s *Service) deliver(ctx context.Context, alert *models.SecurityAlert, reason string) (bool, error) {
	if s.notifier == nil {
		return false, nil
	}
	res := s.notifier.Dispatch(ctx, alert, reason)
	if !res.Delivered() {
		if res.Attempted() {
			return false, fmt.Errorf("%w for alert %s", notify.ErrNoDelivery, alert.ID)
		}
		return false, nil
	}

	now := s.now()
	count := 0
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		current, err := txn.GetAlert(alert.ID)
		if err != nil {
			return err
		}
		current.NotificationCount++
		current.LastNotifiedAt = &now
		current.UpdatedAt = now
		count = current.NotificationCount
		return txn.PutAlert(current)
	})
	switch {
	case errors.Is(err, models.ErrAlertNotFound):
		// Archived between dispatch and bookkeeping.
	case err != nil:
		return true, fmt.Errorf("record notification for %s: %w", alert.ID, err)
	default:
		alert.NotificationCount = count
		alert.LastNotifiedAt = &now
	}
	return true, nil
}

// BatchItem is the outcome of one payload of a batch.
type BatchItem struct {
	Index  int           `json:"index"`
	Result *CreateResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	err    error
}

// Err returns the failure of the item, if any.
func (b *BatchItem) Err() error {
	return b.err
}

// BatchResult is the outcome of CreateSecurityAlertsBatch.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// CreateSecurityAlertsBatch creates every payload independently. A failing
// payload is recorded in the result and never stops its siblings. Only a
// batch larger than the configured limit is rejected as a whole.
func (s *Service) CreateSecurityAlertsBatch(ctx context.Context, payloads []*models.AlertPayload) (*BatchResult, error) {
	if len(payloads) > s.config.BatchLimit {
		return nil, models.NewValidationError("payloads",
			fmt.Sprintf("batch of %d exceeds the limit of %d", len(payloads), s.config.BatchLimit))
	}

	out := &BatchResult{Items: make([]BatchItem, len(payloads))}
	for i, p := range payloads {
		item := BatchItem{Index: i}
		res, err := s.CreateSecurityAlert(ctx, p)
		if err != nil {
			item.err = err
			item.Error = err.Error()
			out.Failed++
		} else {
			item.Result = res
			out.Succeeded++
		}
		out.Items[i] = item
	}

	if out.Failed > 0 {
		s.logger.Warn().
			Int("succeeded", out.Succeeded).
			Int("failed", out.Failed).
			Msg("Alert batch completed with failures")
	}
	return out, nil
}
