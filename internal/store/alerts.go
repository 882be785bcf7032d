// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

// GetAlert loads an alert. Returns models.ErrAlertNotFound if it does not exist.
func (t *Txn) GetAlert(id string) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	if err := t.Get(AlertKey(id), &alert); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, id)
		}
		return nil, err
	}
	return &alert, nil
}

// PutAlert stores an alert.
func (t *Txn) PutAlert(alert *models.SecurityAlert) error {
	return t.Set(AlertKey(alert.ID), alert)
}

// GetSchedule loads the escalation schedule of an alert. Returns ErrNotFound if none exists.
func (t *Txn) GetSchedule(alertID string) (*models.EscalationSchedule, error) {
	var sched models.EscalationSchedule
	if err := t.Get(EscalationKey(alertID), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// PutSchedule stores an escalation schedule.
func (t *Txn) PutSchedule(sched *models.EscalationSchedule) error {
	return t.Set(EscalationKey(sched.AlertID), sched)
}

// GetScore loads the threat score of an entity. Returns ErrNotFound if none exists.
func (t *Txn) GetScore(ref models.EntityRef) (*models.ThreatScore, error) {
	var score models.ThreatScore
	if err := t.Get(ScoreKey(ref), &score); err != nil {
		return nil, err
	}
	return &score, nil
}

// PutScore stores a threat score.
func (t *Txn) PutScore(score *models.ThreatScore) error {
	return t.Set(ScoreKey(score.Ref()), score)
}

// PutBlocked stores a blocked entity record. Temporary blocks also get a
// store TTL so that forgotten entries disappear on their own.
func (t *Txn) PutBlocked(b *models.BlockedEntity, now time.Time) error {
	var ttl time.Duration
	if b.ExpiresAt != nil {
		ttl = b.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return t.Delete(BlockedKey(b.Ref(), b.Action))
		}
	}
	return t.SetWithTTL(BlockedKey(b.Ref(), b.Action), b, ttl)
}

// ListBlocked returns every action recorded against an entity.
func (t *Txn) ListBlocked(ref models.EntityRef) ([]*models.BlockedEntity, error) {
	var out []*models.BlockedEntity
	err := t.Scan(BlockedEntityPrefix(ref), func(key string, val []byte) error {
		var b models.BlockedEntity
		if err := json.Unmarshal(val, &b); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &b)
		return nil
	})
	return out, err
}

// AlertFilter selects alerts in ListAlerts. Zero fields match everything.
type AlertFilter struct {
	Statuses   []models.Status
	Severities []models.Severity
	Types      []models.AlertType
	Category   models.Category
	Source     string
	Since      time.Time
	Until      time.Time
}

// Match reports whether alert satisfies the filter.
func (f *AlertFilter) Match(alert *models.SecurityAlert) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, alert.Status) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, alert.Severity) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, alert.Type) {
		return false
	}
	if f.Category != "" && alert.Category != f.Category {
		return false
	}
	if f.Source != "" && !matchesSource(alert.Source, f.Source) {
		return false
	}
	if !f.Since.IsZero() && alert.LastSeenAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && alert.FirstSeenAt.After(f.Until) {
		return false
	}
	return true
}

func matchesSource(src models.AlertSource, q string) bool {
	q = strings.ToLower(q)
	for _, v := range []string{src.UserID, src.UserEmail, src.IP, src.System} {
		if v != "" && strings.ToLower(v) == q {
			return true
		}
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ForEachAlert calls fn for every stored alert inside one read snapshot.
func (s *Store) ForEachAlert(ctx context.Context, fn func(alert *models.SecurityAlert) error) error {
	return s.ScanPrefix(ctx, PrefixAlert, func(key string, val []byte) error {
		var alert models.SecurityAlert
		if err := json.Unmarshal(val, &alert); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(&alert)
	})
}

// ListAlerts returns one page of alerts matching filter, most recently seen
// first, plus the total number of matches.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]*models.SecurityAlert, int, error) {
	var matched []*models.SecurityAlert
	err := s.ForEachAlert(ctx, func(alert *models.SecurityAlert) error {
		if filter.Match(alert) {
			matched = append(matched, alert)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastSeenAt.Equal(matched[j].LastSeenAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].LastSeenAt.After(matched[j].LastSeenAt)
	})

	total := len(matched)
	if offset >= total {
		return []*models.SecurityAlert{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// ForEachSchedule calls fn for every escalation schedule inside one read snapshot.
func (s *Store) ForEachSchedule(ctx context.Context, fn func(sched *models.EscalationSchedule) error) error {
	return s.ScanPrefix(ctx, PrefixEscalation, func(key string, val []byte) error {
		var sched models.EscalationSchedule
		if err := json.Unmarshal(val, &sched); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(&sched)
	})
}

// ForEachBlocked calls fn for every blocked entity record inside one read snapshot.
func (s *Store) ForEachBlocked(ctx context.Context, fn func(b *models.BlockedEntity) error) error {
	return s.ScanPrefix(ctx, PrefixBlocked, func(key string, val []byte) error {
		var b models.BlockedEntity
		if err := json.Unmarshal(val, &b); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(&b)
	})
}
