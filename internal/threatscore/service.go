// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package threatscore maintains a decaying risk score per entity and applies
// automated responses when the score crosses into a higher action tier.
//
// Decay is lazy: nothing runs in the background. Every read and every update
// evaluates the score formula at the current instant, so a dormant entity's
// score is correct no matter how long it slept. Each tier action is applied
// at most once per (entity, action, epoch); the epoch advances when the score
// decays back into the log-only tier, which re-arms every action.
package threatscore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// SystemActor is recorded as CreatedBy for automated actions.
const SystemActor = "threat-score"

// Config holds threat score configuration.
type Config struct {
	// Weights maps a threat category to its weight.
	Weights map[string]int `koanf:"weights"`

	// DefaultWeight applies to categories without an explicit weight.
	DefaultWeight int `koanf:"default_weight"`

	// DecayPerHour is the score reduction per hour since the last incident.
	DecayPerHour float64 `koanf:"decay_per_hour"`

	// Durations of the temporary measures per tier. Zero means permanent.
	RateLimitedFor time.Duration `koanf:"rate_limited_for"`
	ChallengeFor   time.Duration `koanf:"challenge_for"`
	TempBlockFor   time.Duration `koanf:"temp_block_for"`

	// LedgerRetention is how long exactly-once ledger entries are kept.
	LedgerRetention time.Duration `koanf:"ledger_retention"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]int{
			models.AlertTypeBruteForce.ShortName():          10,
			models.AlertTypeUnusualLocation.ShortName():     8,
			models.AlertTypeImpossibleTravel.ShortName():    15,
			models.AlertTypeSuspiciousPayment.ShortName():   15,
			models.AlertTypeCardTesting.ShortName():         20,
			models.AlertTypeMassAccountCreation.ShortName(): 15,
			models.AlertTypeAPIAbuse.ShortName():            5,
			models.AlertTypeRateLimitExceeded.ShortName():   2,
			models.AlertTypeSQLInjection.ShortName():        25,
			models.AlertTypeXSSAttempt.ShortName():          20,
			models.AlertTypeDataBreachAttempt.ShortName():   30,
			models.AlertTypeMultipleSessions.ShortName():    5,
			models.AlertTypePromoAbuse.ShortName():          10,
			models.AlertTypeAdminActionRequired.ShortName(): 0,
			models.AlertTypeSystemCritical.ShortName():      0,
		},
		DefaultWeight:   5,
		DecayPerHour:    2,
		RateLimitedFor:  time.Hour,
		ChallengeFor:    24 * time.Hour,
		TempBlockFor:    24 * time.Hour,
		LedgerRetention: 90 * 24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultWeight < 0 {
		return fmt.Errorf("default_weight must not be negative")
	}
	for k, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", k)
		}
	}
	if c.DecayPerHour < 0 {
		return fmt.Errorf("decay_per_hour must not be negative")
	}
	if c.LedgerRetention <= 0 {
		return fmt.Errorf("ledger_retention must be positive")
	}
	return nil
}

// WeightFor returns the configured weight of a category.
func (c *Config) WeightFor(category string) int {
	if w, ok := c.Weights[category]; ok {
		return w
	}
	return c.DefaultWeight
}

// Result is the outcome of RecordFactor.
type Result struct {
	Entity models.EntityRef `json:"entity"`
	Score  int              `json:"score"`
	Tier   int              `json:"tier"`
	Epoch  int64            `json:"epoch"`

	// AppliedAction is the action newly recorded by this call, if any.
	AppliedAction *models.BlockedEntity `json:"applied_action,omitempty"`

	// AlreadyApplied is set when the tier's action already exists for the epoch.
	AlreadyApplied bool `json:"already_applied,omitempty"`

	// NotifyAdmin is set when the applied action should reach an administrator.
	NotifyAdmin bool `json:"notify_admin,omitempty"`
}

// BlockStatus is the result of CheckBlocked.
type BlockStatus struct {
	Entity  models.EntityRef        `json:"entity"`
	Blocked bool                    `json:"blocked"`
	Actions []*models.BlockedEntity `json:"actions"`
}

// Service maintains threat scores and blocked entities.
type Service struct {
	store  *store.Store
	config Config
	now    func() time.Time
}

// NewService creates a threat score service.
func NewService(s *store.Store, cfg Config) *Service {
	return &Service{store: s, config: cfg, now: time.Now}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// RecordFactor records one occurrence of category for entity with the given
// weight, recomputes the score and applies the tier action if the entity
// entered a higher tier for the first time in the current epoch.
func (s *Service) RecordFactor(ctx context.Context, entity models.EntityRef, category string, weight int) (*Result, error) {
	if !entity.Type.Valid() || entity.ID == "" {
		return nil, models.NewValidationError("entity", "entity type and id are required")
	}
	if category == "" {
		return nil, models.NewValidationError("category", "category is required")
	}

	var res *Result
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		now := s.now()
		ts, err := txn.GetScore(entity)
		if errors.Is(err, store.ErrNotFound) {
			ts = &models.ThreatScore{EntityType: entity.Type, EntityID: entity.ID}
		} else if err != nil {
			return err
		}
		if ts.RawFactors == nil {
			ts.RawFactors = make(map[string]int64)
		}
		if ts.Weights == nil {
			ts.Weights = make(map[string]int)
		}

		if ts.HighestTierApplied > 0 && TierFor(Compute(ts, now, s.config.DecayPerHour)) == 0 {
			ts.Epoch++
			ts.HighestTierApplied = 0
		}

		realizeDecay(ts, now, s.config.DecayPerHour)
		ts.RawFactors[category]++
		ts.Weights[category] = weight
		saturate(ts)

		ts.LastIncidentAt = now
		ts.UpdatedAt = now
		ts.Score = Compute(ts, now, s.config.DecayPerHour)
		ts.Tier = TierFor(ts.Score)

		res = &Result{Entity: entity, Score: ts.Score, Tier: ts.Tier, Epoch: ts.Epoch}

		if ts.Tier > ts.HighestTierApplied {
			applied, err := s.applyTier(txn, ts, now)
			switch {
			case errors.Is(err, models.ErrActionAlreadyApplied):
				res.AlreadyApplied = true
			case err != nil:
				return err
			default:
				res.AppliedAction = applied
				res.NotifyAdmin = Tiers[ts.Tier].NotifyAdmin
				ts.LastActionTaken = applied.Action
			}
			ts.HighestTierApplied = ts.Tier
		}

		return txn.PutScore(ts)
	})
	if err != nil {
		return nil, fmt.Errorf("record threat factor for %s: %w", entity, err)
	}

	metrics.ThreatScoreValue.WithLabelValues(string(entity.Type)).Observe(float64(res.Score))
	if res.AppliedAction != nil {
		metrics.ThreatActions.WithLabelValues(string(res.AppliedAction.Action)).Inc()
		logging.Ctx(ctx).Warn().
			Str("entity", entity.String()).
			Int("score", res.Score).
			Int("tier", res.Tier).
			Int64("epoch", res.Epoch).
			Str("action", string(res.AppliedAction.Action)).
			Msg("Threat tier action applied")
	}
	return res, nil
}

// applyTier records the BlockedEntity of ts's tier exactly once per epoch.
func (s *Service) applyTier(txn *store.Txn, ts *models.ThreatScore, now time.Time) (*models.BlockedEntity, error) {
	ref := ts.Ref()
	action := PrimaryAction(ts.Tier, ref.Type)
	ledgerKey := store.ActionLogKey(ref, action, ts.Epoch)

	exists, err := txn.Exists(ledgerKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrActionAlreadyApplied
	}

	b := &models.BlockedEntity{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		Action:     action,
		Measures:   Tiers[ts.Tier].Measures,
		Reason:     fmt.Sprintf("threat score %d reached tier %d", ts.Score, ts.Tier),
		Score:      ts.Score,
		Epoch:      ts.Epoch,
		CreatedAt:  now,
		CreatedBy:  SystemActor,
	}
	if d := s.durationFor(ts.Tier); d > 0 {
		expires := now.Add(d)
		b.ExpiresAt = &expires
	}

	if err := txn.PutBlocked(b, now); err != nil {
		return nil, err
	}
	if err := txn.SetWithTTL(ledgerKey, b, s.config.LedgerRetention); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) durationFor(level int) time.Duration {
	switch level {
	case 1:
		return s.config.RateLimitedFor
	case 2:
		return s.config.ChallengeFor
	case 3:
		return s.config.TempBlockFor
	}
	return 0
}

// GetScore returns the entity's score evaluated at now without mutating it.
// An unknown entity has a zero score.
func (s *Service) GetScore(ctx context.Context, entity models.EntityRef, now time.Time) (*models.ThreatScore, error) {
	var out *models.ThreatScore
	err := s.store.View(ctx, func(txn *store.Txn) error {
		ts, err := txn.GetScore(entity)
		if errors.Is(err, store.ErrNotFound) {
			out = &models.ThreatScore{EntityType: entity.Type, EntityID: entity.ID}
			return nil
		}
		if err != nil {
			return err
		}
		ts.Score = Compute(ts, now, s.config.DecayPerHour)
		ts.Tier = TierFor(ts.Score)
		out = ts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get threat score for %s: %w", entity, err)
	}
	return out, nil
}

// CheckBlocked returns the active actions recorded against entity. Expired
// temporary actions are deleted as a side effect.
func (s *Service) CheckBlocked(ctx context.Context, entity models.EntityRef) (*BlockStatus, error) {
	status := &BlockStatus{Entity: entity}
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		now := s.now()
		status.Blocked = false
		status.Actions = status.Actions[:0]

		all, err := txn.ListBlocked(entity)
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.Expired(now) {
				if err := txn.Delete(store.BlockedKey(entity, b.Action)); err != nil {
					return err
				}
				continue
			}
			status.Actions = append(status.Actions, b)
			if b.Action.Blocking() {
				status.Blocked = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check blocked %s: %w", entity, err)
	}
	return status, nil
}

// Block records a manual action against entity. A zero ttl is permanent.
func (s *Service) Block(ctx context.Context, entity models.EntityRef, action models.ThreatAction, reason, actor string, ttl time.Duration) (*models.BlockedEntity, error) {
	if !entity.Type.Valid() || entity.ID == "" {
		return nil, models.NewValidationError("entity", "entity type and id are required")
	}
	if reason == "" {
		reason = "Manually blocked by admin"
	}

	now := s.now()
	b := &models.BlockedEntity{
		EntityType: entity.Type,
		EntityID:   entity.ID,
		Action:     action,
		Measures:   []models.ThreatAction{action},
		Reason:     reason,
		CreatedAt:  now,
		CreatedBy:  actor,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		b.ExpiresAt = &expires
	}

	err := s.store.Update(ctx, func(txn *store.Txn) error {
		return txn.PutBlocked(b, now)
	})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", entity, err)
	}

	metrics.ThreatActions.WithLabelValues(string(action)).Inc()
	logging.Ctx(ctx).Info().
		Str("entity", entity.String()).
		Str("action", string(action)).
		Str("actor", actor).
		Msg("Entity blocked manually")
	return b, nil
}

// Unblock removes the given actions from entity, or every action when none
// are given. It returns the number of records removed.
func (s *Service) Unblock(ctx context.Context, entity models.EntityRef, actor string, actions ...models.ThreatAction) (int, error) {
	removed := 0
	err := s.store.Update(ctx, func(txn *store.Txn) error {
		removed = 0
		all, err := txn.ListBlocked(entity)
		if err != nil {
			return err
		}
		for _, b := range all {
			if len(actions) > 0 && !containsAction(actions, b.Action) {
				continue
			}
			if err := txn.Delete(store.BlockedKey(entity, b.Action)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unblock %s: %w", entity, err)
	}

	logging.Ctx(ctx).Info().
		Str("entity", entity.String()).
		Str("actor", actor).
		Int("removed", removed).
		Msg("Entity unblocked")
	return removed, nil
}

func containsAction(list []models.ThreatAction, a models.ThreatAction) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// ListBlocked returns every unexpired blocked entity record.
func (s *Service) ListBlocked(ctx context.Context) ([]*models.BlockedEntity, error) {
	now := s.now()
	var out []*models.BlockedEntity
	err := s.store.ForEachBlocked(ctx, func(b *models.BlockedEntity) error {
		if !b.Expired(now) {
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blocked: %w", err)
	}
	return out, nil
}

// BlockedStats summarizes unexpired blocked entities, counting those that
// expire within the given horizon.
func (s *Service) BlockedStats(ctx context.Context, within time.Duration) (models.BlockedStats, error) {
	stats := models.BlockedStats{ByType: map[string]int{}, ByAction: map[string]int{}}
	list, err := s.ListBlocked(ctx)
	if err != nil {
		return stats, err
	}
	horizon := s.now().Add(within)
	for _, b := range list {
		stats.Total++
		stats.ByType[string(b.EntityType)]++
		stats.ByAction[string(b.Action)]++
		if b.ExpiresAt != nil && b.ExpiresAt.Before(horizon) {
			stats.ExpiringWithin++
		}
	}
	return stats, nil
}
