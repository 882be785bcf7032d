// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import (
	"strings"
	"time"
)

// AlertType identifies the kind of security incident an alert describes.
type AlertType string

const (
	// AlertTypeBruteForce is raised for repeated failed authentications.
	AlertTypeBruteForce AlertType = "security.brute_force_detected"

	// AlertTypeUnusualLocation is raised for logins from a new country via VPN or Tor.
	AlertTypeUnusualLocation AlertType = "security.unusual_location"

	// AlertTypeImpossibleTravel is raised when consecutive logins imply an impossible speed.
	AlertTypeImpossibleTravel AlertType = "security.impossible_travel"

	// AlertTypeSuspiciousPayment is raised when a payment accumulates enough risk factors.
	AlertTypeSuspiciousPayment AlertType = "security.suspicious_payment"

	// AlertTypeCardTesting is raised for repeated failed or probing payment attempts.
	AlertTypeCardTesting AlertType = "security.card_testing"

	// AlertTypeMassAccountCreation is raised when one source registers too many accounts.
	AlertTypeMassAccountCreation AlertType = "security.mass_account_creation"

	// AlertTypeAPIAbuse is raised when monitored API traffic exceeds its ceiling.
	AlertTypeAPIAbuse AlertType = "security.api_abuse"

	// AlertTypeRateLimitExceeded is raised by upstream gateways that rejected traffic.
	AlertTypeRateLimitExceeded AlertType = "security.rate_limit_exceeded"

	// AlertTypeSQLInjection is raised when a payload matches a SQL injection signature.
	AlertTypeSQLInjection AlertType = "security.sql_injection"

	// AlertTypeXSSAttempt is raised when a payload matches a cross-site scripting signature.
	AlertTypeXSSAttempt AlertType = "security.xss_attempt"

	// AlertTypeDataBreachAttempt is raised for generic data exfiltration attempts.
	AlertTypeDataBreachAttempt AlertType = "security.data_breach_attempt"

	// AlertTypeMultipleSessions is raised when an identity holds too many live sessions.
	AlertTypeMultipleSessions AlertType = "security.multiple_sessions"

	// AlertTypePromoAbuse is raised for repeated promotion redemptions.
	AlertTypePromoAbuse AlertType = "security.promo_abuse"

	// AlertTypeAdminActionRequired asks an administrator to review something manually.
	AlertTypeAdminActionRequired AlertType = "security.admin_action_required"

	// AlertTypeSystemCritical reports an infrastructure level failure.
	AlertTypeSystemCritical AlertType = "security.system_critical"
)

// Category groups alert types for reporting and threat scoring.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAccount        Category = "account"
	CategoryPayment        Category = "payment"
	CategoryAPI            Category = "api"
	CategoryInjection      Category = "injection"
	CategoryFraud          Category = "fraud"
	CategorySystem         Category = "system"
)

// CategoryFromType is the single lookup table from alert type to category.
var CategoryFromType = map[AlertType]Category{
	AlertTypeBruteForce:          CategoryAuthentication,
	AlertTypeUnusualLocation:     CategoryAuthentication,
	AlertTypeImpossibleTravel:    CategoryAuthentication,
	AlertTypeMultipleSessions:    CategoryAccount,
	AlertTypeMassAccountCreation: CategoryAccount,
	AlertTypeSuspiciousPayment:   CategoryPayment,
	AlertTypeCardTesting:         CategoryPayment,
	AlertTypeAPIAbuse:            CategoryAPI,
	AlertTypeRateLimitExceeded:   CategoryAPI,
	AlertTypeSQLInjection:        CategoryInjection,
	AlertTypeXSSAttempt:          CategoryInjection,
	AlertTypeDataBreachAttempt:   CategoryInjection,
	AlertTypePromoAbuse:          CategoryFraud,
	AlertTypeAdminActionRequired: CategorySystem,
	AlertTypeSystemCritical:      CategorySystem,
}

// AllAlertTypes returns every known alert type in a stable order.
func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertTypeBruteForce,
		AlertTypeUnusualLocation,
		AlertTypeImpossibleTravel,
		AlertTypeSuspiciousPayment,
		AlertTypeCardTesting,
		AlertTypeMassAccountCreation,
		AlertTypeAPIAbuse,
		AlertTypeRateLimitExceeded,
		AlertTypeSQLInjection,
		AlertTypeXSSAttempt,
		AlertTypeDataBreachAttempt,
		AlertTypeMultipleSessions,
		AlertTypePromoAbuse,
		AlertTypeAdminActionRequired,
		AlertTypeSystemCritical,
	}
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	_, ok := CategoryFromType[t]
	return ok
}

// Category returns the category of the alert type, or CategorySystem for unknown types.
func (t AlertType) Category() Category {
	if c, ok := CategoryFromType[t]; ok {
		return c
	}
	return CategorySystem
}

// ShortName returns the type without the "security." prefix.
func (t AlertType) ShortName() string {
	return strings.TrimPrefix(string(t), "security.")
}

// Severity is the urgency of an alert.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

var severityRank = map[Severity]int{
	SeverityInfo:      0,
	SeverityWarning:   1,
	SeverityCritical:  2,
	SeverityEmergency: 3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities from info (0) to emergency (3). Unknown severities rank -1.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is as urgent as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more urgent of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusArchived     Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Active reports whether an alert in this status can still absorb new occurrences.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusAcknowledged
}

// CanTransition reports whether an alert may move from s to next.
// Any status may be archived; resolved and acknowledged alerts may be re-opened.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch next {
	case StatusArchived:
		return true
	case StatusOpen:
		return s == StatusAcknowledged || s == StatusResolved
	case StatusAcknowledged:
		return s == StatusOpen
	case StatusResolved:
		return s == StatusOpen || s == StatusAcknowledged
	}
	return false
}

// AlertSource identifies who or what raised an alert.
type AlertSource struct {
	UserID    string `json:"user_id,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	IP        string `json:"ip,omitempty"`
	System    string `json:"system,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Identity returns the most specific identity of the source, used for keys.
// IP wins over user id because most detectors key their windows per address.
func (s AlertSource) Identity() string {
	switch {
	case s.IP != "":
		return s.IP
	case s.UserID != "":
		return s.UserID
	case s.UserEmail != "":
		return s.UserEmail
	case s.System != "":
		return s.System
	}
	return "unknown"
}

// AlertContext is the structured payload attached to an alert.
type AlertContext struct {
	Timestamp         time.Time      `json:"timestamp"`
	Resource          string         `json:"resource,omitempty"`
	ActorID           string         `json:"actor_id,omitempty"`
	AttemptCount      int64          `json:"attempt_count,omitempty"`
	IP                string         `json:"ip,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// SecurityAlert is one raised, possibly aggregated, incident.
type SecurityAlert struct {
	ID                string       `json:"id"`
	Type              AlertType    `json:"type"`
	Category          Category     `json:"category"`
	Severity          Severity     `json:"severity"`
	Status            Status       `json:"status"`
	Title             string       `json:"title,omitempty"`
	Context           AlertContext `json:"context"`
	Source            AlertSource  `json:"source"`
	AggregationKey    string       `json:"aggregation_key"`
	OccurrenceCount   int64        `json:"occurrence_count"`
	FirstSeenAt       time.Time    `json:"first_seen_at"`
	LastSeenAt        time.Time    `json:"last_seen_at"`
	AcknowledgedAt    *time.Time   `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string       `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy        string       `json:"resolved_by,omitempty"`
	EscalationLevel   int          `json:"escalation_level"`
	NotificationCount int          `json:"notification_count"`
	LastNotifiedAt    *time.Time   `json:"last_notified_at,omitempty"`
	Notes             []AlertNote  `json:"notes,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// AlertNote is an admin annotation recorded with a status change or action.
type AlertNote struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// maxAlertNotes bounds the annotation history kept on a hot alert.
const maxAlertNotes = 50

// AddNote appends an annotation, keeping at most the most recent maxAlertNotes.
func (a *SecurityAlert) AddNote(note AlertNote) {
	a.Notes = append(a.Notes, note)
	if len(a.Notes) > maxAlertNotes {
		a.Notes = a.Notes[len(a.Notes)-maxAlertNotes:]
	}
}

// AlertPayload is the request to raise an alert, produced by detectors and callers.
type AlertPayload struct {
	Type           AlertType    `json:"type" validate:"required,alert_type"`
	Severity       Severity     `json:"severity" validate:"required,severity"`
	Title          string       `json:"title,omitempty" validate:"max=200"`
	Context        AlertContext `json:"context"`
	Source         AlertSource  `json:"source"`
	IdempotencyKey string       `json:"idempotency_key,omitempty" validate:"max=128"`
}

// Resource returns the affected resource used for aggregation.
func (p *AlertPayload) Resource() string {
	return p.Context.Resource
}
