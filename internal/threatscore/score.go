// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package threatscore

import (
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// MaxScore is the score ceiling.
const MaxScore = 100

// Tier describes one band of ACTION_THRESHOLDS.
type Tier struct {
	Level       int
	Min         int
	Max         int
	Measures    []models.ThreatAction
	NotifyAdmin bool
}

// Tiers are the monotonic, non-overlapping action bands. Level 0 only logs.
var Tiers = []Tier{
	{Level: 0, Min: 0, Max: 30},
	{Level: 1, Min: 31, Max: 50, Measures: []models.ThreatAction{models.ActionRateLimited}, NotifyAdmin: true},
	{Level: 2, Min: 51, Max: 70, Measures: []models.ThreatAction{models.ActionCaptchaRequired, models.ActionMFAForced}, NotifyAdmin: true},
	{Level: 3, Min: 71, Max: 85, Measures: []models.ThreatAction{models.ActionSessionsTerminated, models.ActionTempBlocked}, NotifyAdmin: true},
	{Level: 4, Min: 86, Max: 100, Measures: []models.ThreatAction{models.ActionIPBlocked, models.ActionPermanentlyBlocked}, NotifyAdmin: true},
}

// TierFor returns the tier level a score falls into.
func TierFor(score int) int {
	for i := len(Tiers) - 1; i > 0; i-- {
		if score >= Tiers[i].Min {
			return Tiers[i].Level
		}
	}
	return 0
}

// PrimaryAction returns the action recorded for an entity entering a tier.
// The top tier blocks addresses outright and permanently blocks accounts.
func PrimaryAction(level int, entity models.EntityType) models.ThreatAction {
	if level <= 0 || level >= len(Tiers) {
		return ""
	}
	if level == 4 && entity != models.EntityIP {
		return models.ActionPermanentlyBlocked
	}
	return Tiers[level].Measures[0]
}

// rawSum returns Σ weight_c × occurrences_c.
func rawSum(s *models.ThreatScore) int64 {
	var sum int64
	for category, n := range s.RawFactors {
		sum += int64(s.Weights[category]) * n
	}
	return sum
}

// decaySince returns the decay accrued between last and at, rounded down.
func decaySince(last, at time.Time, perHour float64) int64 {
	if last.IsZero() || !at.After(last) {
		return 0
	}
	return int64(at.Sub(last).Hours() * perHour)
}

// Compute evaluates
//
//	clamp(0, 100, Σ(weight_c × occurrences_c) − decayPoints − hoursSinceLastIncident × perHour)
//
// at the given instant. It never mutates s.
func Compute(s *models.ThreatScore, at time.Time, perHour float64) int {
	v := rawSum(s) - s.DecayPoints - decaySince(s.LastIncidentAt, at, perHour)
	switch {
	case v < 0:
		return 0
	case v > MaxScore:
		return MaxScore
	}
	return int(v)
}

// realizeDecay moves the decay accrued since the last incident into
// DecayPoints so that LastIncidentAt can move to now. Decay only erodes
// what is visible: the stored sum is capped at the ceiling first and never
// decays below zero.
func realizeDecay(s *models.ThreatScore, now time.Time, perHour float64) {
	base := rawSum(s) - s.DecayPoints
	d := decaySince(s.LastIncidentAt, now, perHour)
	if base > MaxScore {
		base = MaxScore
	}
	if d > base {
		d = max(base, 0)
	}
	s.DecayPoints = rawSum(s) - (base - d)
}

// saturate keeps the stored sum at or below the ceiling.
func saturate(s *models.ThreatScore) {
	if over := rawSum(s) - s.DecayPoints - MaxScore; over > 0 {
		s.DecayPoints += over
	}
}
