// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Alert lifecycle events
	EventTypeAlertStatusChanged EventType = "alert.status_changed"
	EventTypeAlertAction        EventType = "alert.action"
	EventTypeEscalationForced   EventType = "alert.escalation_forced"

	// Entity response events
	EventTypeEntityBlocked   EventType = "entity.blocked"
	EventTypeEntityUnblocked EventType = "entity.unblocked"

	// Access control events
	EventTypeAuthFailure EventType = "auth.failure"
	EventTypeAuthzDenied EventType = "authz.denied"
	EventTypeMaintenance EventType = "admin.maintenance"
	EventTypeAdminAction EventType = "admin.action"
	EventTypeExport      EventType = "admin.export"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Event is one audited action.
type Event struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          EventType       `json:"type"`
	Severity      Severity        `json:"severity"`
	Outcome       Outcome         `json:"outcome"`
	Actor         Actor           `json:"actor"`
	Target        *Target         `json:"target,omitempty"`
	Source        Source          `json:"source"`
	Action        string          `json:"action"`
	Description   string          `json:"description"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// Actor is who performed an action: an administrator, an API client or the
// engine itself.
type Actor struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Name       string   `json:"name,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	AuthMethod string   `json:"auth_method,omitempty"`
}

// Target is the object of an action, typically an alert or an entity.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Source is where a request originated.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than olderThan.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter selects audit events. Zero fields match everything.
type QueryFilter struct {
	Types         []EventType `json:"types,omitempty"`
	Severities    []Severity  `json:"severities,omitempty"`
	Outcomes      []Outcome   `json:"outcomes,omitempty"`
	ActorID       string      `json:"actor_id,omitempty"`
	TargetID      string      `json:"target_id,omitempty"`
	TargetType    string      `json:"target_type,omitempty"`
	SourceIP      string      `json:"source_ip,omitempty"`
	StartTime     *time.Time  `json:"start_time,omitempty"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	RequestID     string      `json:"request_id,omitempty"`
	SearchText    string      `json:"search_text,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	Offset        int         `json:"offset,omitempty"`
}

// DefaultQueryFilter returns the filter used when a caller supplies none.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}

// ErrEventNotFound is returned by Get for an unknown id.
var ErrEventNotFound = errors.New("audit event not found")
