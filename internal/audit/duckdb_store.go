// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
)

// DuckDBStore implements Store on the audit_events table of the archive
// database. Writes are serialized; DuckDB allows one writer per handle.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a DuckDB-backed audit store. Call CreateTable once
// before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table and its indexes.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			outcome TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_name TEXT,
			actor_roles JSON,
			actor_auth_method TEXT,
			target_id TEXT,
			target_type TEXT,
			target_name TEXT,
			source_ip TEXT NOT NULL,
			source_user_agent TEXT,
			source_hostname TEXT,
			action TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSON,
			correlation_id TEXT,
			request_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor_id ON audit_events(actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_events(target_type, target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_source_ip ON audit_events(source_ip)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

const auditColumns = `id, timestamp, type, severity, outcome,
	actor_id, actor_type, actor_name, CAST(actor_roles AS VARCHAR), actor_auth_method,
	target_id, target_type, target_name,
	source_ip, source_user_agent, source_hostname,
	action, description, CAST(metadata AS VARCHAR),
	correlation_id, request_id`

// Save persists an audit event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var targetID, targetType, targetName *string
	if event.Target != nil {
		targetID, targetType, targetName = &event.Target.ID, &event.Target.Type, &event.Target.Name
	}
	var metadata *string
	if len(event.Metadata) > 0 {
		m := string(event.Metadata)
		metadata = &m
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, type, severity, outcome,
			actor_id, actor_type, actor_name, actor_roles, actor_auth_method,
			target_id, target_type, target_name,
			source_ip, source_user_agent, source_hostname,
			action, description, metadata,
			correlation_id, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, string(event.Type), string(event.Severity), string(event.Outcome),
		event.Actor.ID, event.Actor.Type, event.Actor.Name, marshalRoles(event.Actor.Roles), event.Actor.AuthMethod,
		targetID, targetType, targetName,
		event.Source.IPAddress, event.Source.UserAgent, event.Source.Hostname,
		event.Action, event.Description, metadata,
		event.CorrelationID, event.RequestID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", event.ID, err)
	}
	return nil
}

func marshalRoles(roles []string) string {
	if len(roles) == 0 {
		return "[]"
	}
	if data, err := json.Marshal(roles); err == nil {
		return string(data)
	}
	return "[]"
}

// Get retrieves an event by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_events WHERE id = ?", id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		return nil, fmt.Errorf("get audit event %s: %w", id, err)
	}
	return event, nil
}

// Query retrieves events matching the filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilterConditions(filter)
	query := "SELECT " + auditColumns + " FROM audit_events" + where + " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Skipping unreadable audit row")
			continue
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildFilterConditions(filter)
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("expire audit events: %w", err)
	}
	return result.RowsAffected()
}

// where accumulates AND-ed SQL conditions and their arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func whereIn[T ~string](w *where, column string, values []T) {
	if len(values) == 0 {
		return
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	w.add(column+" IN (?"+strings.Repeat(", ?", len(values)-1)+")", args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func buildFilterConditions(f QueryFilter) (string, []interface{}) {
	w := &where{}
	whereIn(w, "type", f.Types)
	whereIn(w, "severity", f.Severities)
	whereIn(w, "outcome", f.Outcomes)
	w.eq("actor_id", f.ActorID)
	w.eq("target_id", f.TargetID)
	w.eq("target_type", f.TargetType)
	w.eq("source_ip", f.SourceIP)
	w.eq("correlation_id", f.CorrelationID)
	w.eq("request_id", f.RequestID)
	if f.StartTime != nil {
		w.add("timestamp >= ?", *f.StartTime)
	}
	if f.EndTime != nil {
		w.add("timestamp <= ?", *f.EndTime)
	}
	if f.SearchText != "" {
		pattern := "%" + strings.ToLower(f.SearchText) + "%"
		w.add("(LOWER(description) LIKE ? OR LOWER(action) LIKE ?)", pattern, pattern)
	}
	return w.String(), w.args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		event                              Event
		eventType, severity, outcome       string
		roles, metadata                    sql.NullString
		actorName, authMethod              sql.NullString
		targetID, targetType, targetName   sql.NullString
		userAgent, hostname, corrID, reqID sql.NullString
	)
	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &severity, &outcome,
		&event.Actor.ID, &event.Actor.Type, &actorName, &roles, &authMethod,
		&targetID, &targetType, &targetName,
		&event.Source.IPAddress, &userAgent, &hostname,
		&event.Action, &event.Description, &metadata,
		&corrID, &reqID,
	)
	if err != nil {
		return nil, err
	}

	event.Type = EventType(eventType)
	event.Severity = Severity(severity)
	event.Outcome = Outcome(outcome)
	event.Actor.Name = actorName.String
	event.Actor.AuthMethod = authMethod.String
	event.Source.UserAgent = userAgent.String
	event.Source.Hostname = hostname.String
	event.CorrelationID = corrID.String
	event.RequestID = reqID.String
	if roles.Valid && roles.String != "" && roles.String != "[]" {
		if err := json.Unmarshal([]byte(roles.String), &event.Actor.Roles); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse actor roles JSON")
		}
	}
	if targetID.Valid {
		event.Target = &Target{ID: targetID.String, Type: targetType.String, Name: targetName.String}
	}
	if metadata.Valid && metadata.String != "" {
		event.Metadata = json.RawMessage(metadata.String)
	}
	return &event, nil
}
