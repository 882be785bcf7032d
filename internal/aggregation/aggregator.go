// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package aggregation merges alerts that describe the same ongoing incident.
//
// Alerts with the same aggregation key (type, normalized source identity and
// affected resource) that arrive inside the type's coalescing window are
// folded into one SecurityAlert whose OccurrenceCount grows. The lookup, the
// merge and the idempotency record are one store transaction, so concurrent
// detector firings can never both create the "first" alert.
package aggregation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// Archiver receives resolved alerts before they leave the hot store.
type Archiver interface {
	ArchiveAlerts(ctx context.Context, alerts []*models.SecurityAlert) error
}

// Result is the outcome of CreateOrAggregate.
type Result struct {
	Alert        *models.SecurityAlert
	Created      bool
	Aggregated   bool
	Duplicate    bool
	ShouldNotify bool
}

// indexRecord maps an aggregation key to the alert currently absorbing it.
type indexRecord struct {
	AlertID string `json:"alert_id"`
}

// idempotencyRecord remembers which alert a caller supplied key produced.
type idempotencyRecord struct {
	AlertID string    `json:"alert_id"`
	SeenAt  time.Time `json:"seen_at"`
}

// Aggregator creates and merges alerts.
type Aggregator struct {
	store    *store.Store
	config   Config
	archiver Archiver
}

// New creates an aggregator. archiver may be nil, in which case aged
// resolved alerts are deleted without a cold copy.
func New(s *store.Store, cfg Config, archiver Archiver) *Aggregator {
	return &Aggregator{store: s, config: cfg, archiver: archiver}
}

// GenerateAggregationKey groups payloads describing the same incident.
func GenerateAggregationKey(p *models.AlertPayload) string {
	identity := models.NormalizeIdentity(p.Source.Identity())
	sum := blake2b.Sum256([]byte(string(p.Type) + "|" + identity + "|" + p.Resource()))
	return p.Type.ShortName() + ":" + hex.EncodeToString(sum[:16])
}

// FindExistingAlert returns the open or acknowledged alert absorbing key at
// now, or nil when a new alert would be created.
func (a *Aggregator) FindExistingAlert(ctx context.Context, key string, now time.Time) (*models.SecurityAlert, error) {
	var found *models.SecurityAlert
	err := a.store.View(ctx, func(txn *store.Txn) error {
		var err error
		found, err = a.findInTxn(txn, key, now)
		return err
	})
	return found, err
}

func (a *Aggregator) findInTxn(txn *store.Txn, key string, now time.Time) (*models.SecurityAlert, error) {
	var idx indexRecord
	if err := txn.Get(store.AggIndexKey(key), &idx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	alert, err := txn.GetAlert(idx.AlertID)
	if err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !alert.Status.Active() {
		return nil, nil
	}
	if now.Sub(alert.LastSeenAt) > a.config.WindowFor(alert.Type) {
		return nil, nil
	}
	return alert, nil
}

// CreateOrAggregate records one occurrence of payload at now.
//
// A new alert starts with OccurrenceCount 1. A merge increments the count,
// moves LastSeenAt forward and folds in context counters; it never changes
// severity. A payload whose idempotency key was already recorded returns the
// existing alert with Duplicate set and changes nothing.
func (a *Aggregator) CreateOrAggregate(ctx context.Context, p *models.AlertPayload, now time.Time) (*Result, error) {
	key := GenerateAggregationKey(p)

	var res *Result
	err := a.store.Update(ctx, func(txn *store.Txn) error {
		res = nil

		if p.IdempotencyKey != "" {
			dup, err := a.replayed(txn, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if dup != nil {
				res = &Result{Alert: dup, Duplicate: true}
				return nil
			}
		}

		existing, err := a.findInTxn(txn, key, now)
		if err != nil {
			return err
		}

		var alert *models.SecurityAlert
		if existing != nil {
			alert = existing
			merge(alert, p, now)
			res = &Result{Alert: alert, Aggregated: true}
		} else {
			alert = newAlert(p, key, now)
			res = &Result{Alert: alert, Created: true}
		}
		res.ShouldNotify = a.ShouldNotifyForAggregatedAlert(alert)

		if err := txn.PutAlert(alert); err != nil {
			return err
		}
		if res.Created {
			if err := txn.Set(store.AggIndexKey(key), &indexRecord{AlertID: alert.ID}); err != nil {
				return err
			}
		}
		if p.IdempotencyKey != "" {
			rec := &idempotencyRecord{AlertID: alert.ID, SeenAt: now}
			if err := txn.SetWithTTL(store.IdempotencyKey(p.IdempotencyKey), rec, a.config.IdempotencyTTL); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create or aggregate: %w", err)
	}

	switch {
	case res.Duplicate:
		metrics.AlertsDuplicate.Inc()
	case res.Created:
		metrics.RecordAlertCreated(string(p.Type), string(p.Severity))
	default:
		metrics.RecordAlertAggregated(string(p.Type))
		if !res.ShouldNotify {
			metrics.NotificationsSuppressed.WithLabelValues("aggregated").Inc()
		}
	}
	return res, nil
}

func (a *Aggregator) replayed(txn *store.Txn, idemKey string) (*models.SecurityAlert, error) {
	var rec idempotencyRecord
	if err := txn.Get(store.IdempotencyKey(idemKey), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	alert, err := txn.GetAlert(rec.AlertID)
	if errors.Is(err, models.ErrAlertNotFound) {
		// Archived since; the replay still must not count twice.
		return &models.SecurityAlert{ID: rec.AlertID, Status: models.StatusArchived}, nil
	}
	return alert, err
}

func newAlert(p *models.AlertPayload, key string, now time.Time) *models.SecurityAlert {
	ctxData := p.Context
	if ctxData.Timestamp.IsZero() {
		ctxData.Timestamp = now
	}
	return &models.SecurityAlert{
		ID:              uuid.NewString(),
		Type:            p.Type,
		Category:        p.Type.Category(),
		Severity:        p.Severity,
		Status:          models.StatusOpen,
		Title:           p.Title,
		Context:         ctxData,
		Source:          p.Source,
		AggregationKey:  key,
		OccurrenceCount: 1,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		UpdatedAt:       now,
	}
}

// merge folds one more occurrence into alert. Severity is left untouched.
func merge(alert *models.SecurityAlert, p *models.AlertPayload, now time.Time) {
	alert.OccurrenceCount++
	if now.After(alert.LastSeenAt) {
		alert.LastSeenAt = now
	}
	alert.UpdatedAt = now

	c := &alert.Context
	c.AttemptCount += p.Context.AttemptCount
	if !p.Context.Timestamp.IsZero() && p.Context.Timestamp.After(c.Timestamp) {
		c.Timestamp = p.Context.Timestamp
	}
	if c.DeviceFingerprint == "" {
		c.DeviceFingerprint = p.Context.DeviceFingerprint
	}
	if c.ActorID == "" {
		c.ActorID = p.Context.ActorID
	}
	if len(p.Context.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(p.Context.Extra))
		}
		for k, v := range p.Context.Extra {
			c.Extra[k] = v
		}
	}

	s := &alert.Source
	if s.UserID == "" {
		s.UserID = p.Source.UserID
	}
	if s.UserEmail == "" {
		s.UserEmail = p.Source.UserEmail
	}
	if s.Country == "" {
		s.Country = p.Source.Country
	}
}

// ShouldNotifyForAggregatedAlert reports whether alert should notify now.
// New alerts always notify; merged alerts notify only at the type's checkpoints.
func (a *Aggregator) ShouldNotifyForAggregatedAlert(alert *models.SecurityAlert) bool {
	if alert.OccurrenceCount <= 1 {
		return true
	}
	return a.config.PolicyFor(alert.Type).IsCheckpoint(alert.OccurrenceCount)
}

// ArchiveOldResolvedAlerts moves resolved alerts older than ArchiveAfter to
// the archiver and removes them, with their index and schedule, from the
// hot store. It returns the number of alerts removed.
func (a *Aggregator) ArchiveOldResolvedAlerts(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-a.config.ArchiveAfter)

	var candidates []*models.SecurityAlert
	err := a.store.ForEachAlert(ctx, func(alert *models.SecurityAlert) error {
		if alert.Status == models.StatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			candidates = append(candidates, alert)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan resolved alerts: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	for _, alert := range candidates {
		alert.Status = models.StatusArchived
		alert.UpdatedAt = now
	}
	if a.archiver != nil {
		if err := a.archiver.ArchiveAlerts(ctx, candidates); err != nil {
			return 0, fmt.Errorf("archive alerts: %w", err)
		}
	}

	removed := 0
	for _, alert := range candidates {
		deleted, err := a.removeResolved(ctx, alert.ID, alert.AggregationKey, cutoff)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}

	if removed > 0 {
		logging.Ctx(ctx).Info().Int("archived", removed).Time("cutoff", cutoff).Msg("Archived resolved alerts")
	}
	return removed, nil
}

// removeResolved deletes one alert if it is still resolved and aged.
// An alert re-opened between scan and delete is left alone; its archived
// copy is overwritten when it is archived again.
func (a *Aggregator) removeResolved(ctx context.Context, id, aggKey string, cutoff time.Time) (bool, error) {
	deleted := false
	err := a.store.Update(ctx, func(txn *store.Txn) error {
		deleted = false
		alert, err := txn.GetAlert(id)
		if errors.Is(err, models.ErrAlertNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if alert.Status != models.StatusResolved || alert.ResolvedAt == nil || !alert.ResolvedAt.Before(cutoff) {
			return nil
		}

		if err := txn.Delete(store.AlertKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(store.EscalationKey(id)); err != nil {
			return err
		}
		var idx indexRecord
		err = txn.Get(store.AggIndexKey(aggKey), &idx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && idx.AlertID == id {
			if err := txn.Delete(store.AggIndexKey(aggKey)); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove alert %s: %w", id, err)
	}
	return deleted, nil
}

// Config returns the aggregation configuration.
func (a *Aggregator) Config() Config {
	return a.config
}
