// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/logging"
)

// Config holds configuration for the audit logger.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool `koanf:"enabled"`

	// LogLevel filters events by minimum severity.
	LogLevel Severity `koanf:"log_level"`

	// Retention is how long audit events are kept.
	Retention time.Duration `koanf:"retention"`

	// CleanupInterval is how often retention cleanup runs.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `koanf:"buffer_size"`

	// LogToStdout also writes events to the application log.
	LogToStdout bool `koanf:"log_to_stdout"`

	// IncludeDebug includes debug-level events.
	IncludeDebug bool `koanf:"include_debug"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		LogLevel:        SeverityInfo,
		Retention:       90 * 24 * time.Hour,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1000,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, ok := severityOrder[c.LogLevel]; !ok {
		return fmt.Errorf("invalid audit log_level %q", c.LogLevel)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("audit buffer_size must be positive")
	}
	if c.Retention <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("audit retention and cleanup_interval must be positive")
	}
	return nil
}

// Logger queues audit events and writes them to its Store from one
// goroutine, so callers on the alert path never wait on storage.
type Logger struct {
	store   Store
	cfg     Config
	enabled atomic.Bool

	queue chan *Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewLogger starts the writer goroutine. Close stops it.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	l := &Logger{
		store: store,
		cfg:   cfg,
		queue: make(chan *Event, cfg.BufferSize),
		done:  make(chan struct{}),
	}
	l.enabled.Store(cfg.Enabled)

	l.wg.Add(1)
	go l.writer()
	return l
}

// writer persists queued events until Close, then flushes what is left.
func (l *Logger) writer() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.persist(e)
		case <-l.done:
			for {
				select {
				case e := <-l.queue:
					l.persist(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) persist(e *Event) {
	if l.cfg.LogToStdout {
		if data, err := json.Marshal(e); err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, e); err != nil {
		logging.Error().Err(err).Str("event_id", e.ID).Str("type", string(e.Type)).Msg("Audit event not saved")
	}
}

// Log queues event, filling in its ID and timestamp. It never blocks: with
// a full queue the event is dropped and counted in the log.
func (l *Logger) Log(event *Event) {
	if l == nil || !l.enabled.Load() || !l.cfg.admits(event.Severity) {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	default:
		logging.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("Audit queue full, event dropped")
	}
}

// admits applies the minimum level. Debug events also need IncludeDebug.
func (c Config) admits(s Severity) bool {
	if s == SeverityDebug && !c.IncludeDebug {
		return false
	}
	return severityOrder[s] >= severityOrder[c.LogLevel]
}

// Close flushes queued events and stops the writer. Later Log calls are
// ignored.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

// Cleanup deletes events older than the retention period.
func (l *Logger) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	n, err := l.store.Delete(ctx, now.Add(-l.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	if n > 0 {
		logging.Info().Int64("count", n).Dur("retention", l.cfg.Retention).Msg("Expired audit events removed")
	}
	return n, nil
}

// Serve runs retention cleanup every CleanupInterval until ctx ends, then
// flushes the queue. Logger runs in the data layer of the supervisor tree.
func (l *Logger) Serve(ctx context.Context) error {
	interval := l.cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultConfig().CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = l.Close()
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := l.Cleanup(ctx, now); err != nil {
				logging.Error().Err(err).Msg("Audit cleanup failed")
			}
		}
	}
}

func (l *Logger) String() string { return "audit-logger" }

// Get returns one event.
func (l *Logger) Get(ctx context.Context, id string) (*Event, error) {
	return l.store.Get(ctx, id)
}

// Query returns matching events, newest first.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count returns the number of matching events.
func (l *Logger) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return l.store.Count(ctx, filter)
}

// SetEnabled turns recording on or off at runtime.
func (l *Logger) SetEnabled(enabled bool) { l.enabled.Store(enabled) }

// Enabled reports whether events are recorded.
func (l *Logger) Enabled() bool { return l.enabled.Load() }

// LogAlertStatus records an alert status change.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAlertStatus(ctx context.Context, actor Actor, alertID, from, to, note string) {
	l.Log(&Event{
		Type:        EventTypeAlertStatusChanged,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: alertID, Type: "alert"},
		Action:      "status:" + to,
		Description: fmt.Sprintf("Alert status changed from %s to %s", from, to),
		Metadata:    mustJSON(map[string]string{"from": from, "to": to, "note": note}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogAlertAction records an admin action taken on an alert.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAlertAction(ctx context.Context, actor Actor, alertID, action string, outcome Outcome, metadata map[string]interface{}) {
	sev := SeverityWarning
	if outcome == OutcomeFailure {
		sev = SeverityError
	}
	l.Log(&Event{
		Type:          EventTypeAlertAction,
		Severity:      sev,
		Outcome:       outcome,
		Actor:         actor,
		Target:        &Target{ID: alertID, Type: "alert"},
		Action:        action,
		Description:   "Admin action " + action + " on alert " + alertID,
		Metadata:      mustJSON(metadata),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		RequestID:     logging.RequestIDFromContext(ctx),
	})
}

// LogEntityAction records a block or unblock of an entity.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogEntityAction(ctx context.Context, actor Actor, entityType, entityID, action string, blocked bool, reason string) {
	typ, desc := EventTypeEntityUnblocked, "Lifted "+action+" on "
	if blocked {
		typ, desc = EventTypeEntityBlocked, "Applied "+action+" to "
	}
	l.Log(&Event{
		Type:        typ,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: entityID, Type: entityType},
		Action:      action,
		Description: desc + entityType + " " + entityID,
		Metadata:    mustJSON(map[string]string{"reason": reason}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogAuthFailure records a rejected API credential.
func (l *Logger) LogAuthFailure(ctx context.Context, source Source, reason string) {
	l.Log(&Event{
		Type:        EventTypeAuthFailure,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       Actor{ID: "anonymous", Type: "client"},
		Source:      source,
		Action:      "authenticate",
		Description: "Authentication failed: " + reason,
		Metadata:    mustJSON(map[string]string{"reason": reason}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogAuthzDenied records an authorization denial.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogAuthzDenied(ctx context.Context, actor Actor, source Source, resource, action string) {
	l.Log(&Event{
		Type:        EventTypeAuthzDenied,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       actor,
		Source:      source,
		Action:      "authorize",
		Target:      &Target{ID: resource, Type: "resource"},
		Description: "Authorization denied for " + action + " on " + resource,
		Metadata: mustJSON(map[string]string{
			"resource":         resource,
			"requested_action": action,
		}),
		RequestID: logging.RequestIDFromContext(ctx),
	})
}

// LogMaintenance records a manually triggered maintenance task.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogMaintenance(ctx context.Context, actor Actor, task string, metadata map[string]interface{}) {
	l.Log(&Event{
		Type:        EventTypeMaintenance,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: task, Type: "maintenance"},
		Action:      "run",
		Description: "Maintenance task " + task + " triggered",
		Metadata:    mustJSON(metadata),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// LogEscalationForced records an escalation level processed on demand.
//
//nolint:gocritic // hugeParam: Actor passed by value for API simplicity
func (l *Logger) LogEscalationForced(ctx context.Context, actor Actor, alertID string, level int, result string) {
	l.Log(&Event{
		Type:        EventTypeEscalationForced,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: alertID, Type: "alert"},
		Action:      "escalate",
		Description: fmt.Sprintf("Escalation level %d processed on demand: %s", level, result),
		Metadata:    mustJSON(map[string]interface{}{"level": level, "result": result}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

// mustJSON marshals v, or returns {} when it cannot.
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// SourceFromRequest creates a Source from an HTTP request. The first
// X-Forwarded-For hop wins over the socket address.
func SourceFromRequest(r *http.Request) Source {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}

	return Source{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Hostname:  r.Host,
	}
}

// ActorFromUser creates an Actor for an authenticated API user.
func ActorFromUser(id, name string, roles []string, authMethod string) Actor {
	return Actor{
		ID:         id,
		Type:       "user",
		Name:       name,
		Roles:      roles,
		AuthMethod: authMethod,
	}
}

// SystemActor returns the Actor used for automated actions.
func SystemActor() Actor {
	return Actor{
		ID:   "system",
		Type: "system",
		Name: "Vigil",
	}
}
