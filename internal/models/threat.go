// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import (
	"fmt"
	"time"
)

// EntityType is the kind of entity a threat score or block applies to.
type EntityType string

const (
	EntityUser   EntityType = "user"
	EntityIP     EntityType = "ip"
	EntityDevice EntityType = "device"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityUser || t == EntityIP || t == EntityDevice
}

// EntityRef identifies one scored or blocked entity.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.ID)
}

// ThreatAction is an automated response applied to an entity.
type ThreatAction string

const (
	ActionRateLimited        ThreatAction = "rate_limited"
	ActionCaptchaRequired    ThreatAction = "captcha_required"
	ActionMFAForced          ThreatAction = "mfa_forced"
	ActionSessionsTerminated ThreatAction = "sessions_terminated"
	ActionTempBlocked        ThreatAction = "temp_blocked"
	ActionIPBlocked          ThreatAction = "ip_blocked"
	ActionPermanentlyBlocked ThreatAction = "permanently_blocked"
	// ActionSuspended is applied manually by an administrator.
	ActionSuspended ThreatAction = "suspended"
)

// Blocking reports whether the action denies the entity access outright.
func (a ThreatAction) Blocking() bool {
	switch a {
	case ActionTempBlocked, ActionIPBlocked, ActionPermanentlyBlocked, ActionSuspended:
		return true
	}
	return false
}

// ThreatScore is the decaying risk score of one entity.
//
// Score is always a pure function of RawFactors, Weights, DecayPoints and
// the time elapsed since LastIncidentAt; it is stored for querying, never
// accumulated. DecayPoints holds the decay already realized at earlier
// incidents so that recording a new incident does not erase it.
type ThreatScore struct {
	EntityType         EntityType       `json:"entity_type"`
	EntityID           string           `json:"entity_id"`
	RawFactors         map[string]int64 `json:"raw_factors"`
	Weights            map[string]int   `json:"weights"`
	DecayPoints        int64            `json:"decay_points"`
	Score              int              `json:"score"`
	Tier               int              `json:"tier"`
	Epoch              int64            `json:"epoch"`
	HighestTierApplied int              `json:"highest_tier_applied"`
	LastIncidentAt     time.Time        `json:"last_incident_at"`
	LastActionTaken    ThreatAction     `json:"last_action_taken,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Ref returns the entity reference of the score.
func (t *ThreatScore) Ref() EntityRef {
	return EntityRef{Type: t.EntityType, ID: t.EntityID}
}

// BlockedEntity records an automated or manual action taken against an entity.
type BlockedEntity struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     ThreatAction   `json:"action"`
	Measures   []ThreatAction `json:"measures,omitempty"`
	Reason     string         `json:"reason"`
	Score      int            `json:"score,omitempty"`
	Epoch      int64          `json:"epoch,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by"`
}

// Ref returns the entity reference of the block.
func (b *BlockedEntity) Ref() EntityRef {
	return EntityRef{Type: b.EntityType, ID: b.EntityID}
}

// Expired reports whether a temporary block has lapsed at now.
func (b *BlockedEntity) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Permanent reports whether the block has no expiry.
func (b *BlockedEntity) Permanent() bool {
	return b.ExpiresAt == nil
}
