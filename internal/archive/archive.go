// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB database/sql driver

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// ErrClosed is returned by operations on a closed archive.
var ErrClosed = errors.New("archive: closed")

// Config configures the DuckDB cold archive.
type Config struct {
	Enabled                bool   `koanf:"enabled"`
	Path                   string `koanf:"path"`
	Threads                int    `koanf:"threads"`
	MaxMemory              string `koanf:"max_memory"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// DefaultConfig returns the archive defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		Path:                   "/data/vigil-archive.duckdb",
		MaxMemory:              "512MB",
		PreserveInsertionOrder: true,
	}
}

// maxConflictRetries bounds retries of an archive batch that lost a write race.
const maxConflictRetries = 3

// Archive stores resolved alerts that left the hot store.
type Archive struct {
	conn   *sql.DB
	cfg    Config
	mu     sync.Mutex
	closed bool
}

// Open opens (creating when missing) the archive database at cfg.Path. An
// empty path or ":memory:" opens an in-memory database.
//
//nolint:gocritic // hugeParam: Config passed by value for API simplicity
func Open(cfg Config) (*Archive, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	if path != "" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%t&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory, cfg.PreserveInsertionOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	configureConnectionPool(conn, path == "")

	a := &Archive{conn: conn, cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.initialize(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("Alert archive opened")
	return a, nil
}

// configureConnectionPool sizes the pool. An in-memory database lives in a
// single connection, so it gets exactly one.
func configureConnectionPool(conn *sql.DB, inMemory bool) {
	if inMemory {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		return
	}
	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)
}

func (a *Archive) initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS archived_alerts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			title TEXT,
			source_user_id TEXT,
			source_ip TEXT,
			source_system TEXT,
			aggregation_key TEXT NOT NULL,
			occurrence_count BIGINT NOT NULL,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			resolved_by TEXT,
			escalation_level INTEGER NOT NULL,
			notification_count INTEGER NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL,
			document JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_alerts_type ON archived_alerts(type)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_alerts_last_seen ON archived_alerts(last_seen_at)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_alerts_source_ip ON archived_alerts(source_ip)`,
	}
	for _, stmt := range statements {
		if _, err := a.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute archive schema statement: %w", err)
		}
	}
	return a.Checkpoint(ctx)
}

// DB exposes the underlying handle so the audit store can share the file.
func (a *Archive) DB() *sql.DB {
	return a.conn
}

const upsertAlert = `INSERT OR REPLACE INTO archived_alerts (
	id, type, category, severity, status, title,
	source_user_id, source_ip, source_system,
	aggregation_key, occurrence_count, first_seen_at, last_seen_at,
	resolved_at, resolved_by, escalation_level, notification_count,
	archived_at, document
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ArchiveAlerts writes alerts in one transaction. Re-archiving an alert
// replaces the earlier row, so a retried batch is harmless.
func (a *Archive) ArchiveAlerts(ctx context.Context, alerts []*models.SecurityAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	if a.isClosed() {
		return ErrClosed
	}

	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		err = a.archiveBatch(ctx, alerts)
		if err == nil || !isTransactionConflict(err) {
			break
		}
		logging.Debug().Err(err).Int("attempt", attempt+1).Msg("Archive batch conflicted, retrying")
	}
	if err != nil {
		return fmt.Errorf("archive %d alerts: %w", len(alerts), err)
	}
	return nil
}

func (a *Archive) archiveBatch(ctx context.Context, alerts []*models.SecurityAlert) error {
	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertAlert)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	archivedAt := time.Now().UTC()
	for _, alert := range alerts {
		doc, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", alert.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			alert.ID, string(alert.Type), string(alert.Category), string(alert.Severity), string(alert.Status),
			nullString(alert.Title),
			nullString(alert.Source.UserID), nullString(alert.Source.IP), nullString(alert.Source.System),
			alert.AggregationKey, alert.OccurrenceCount, alert.FirstSeenAt, alert.LastSeenAt,
			nullTime(alert.ResolvedAt), nullString(alert.ResolvedBy),
			alert.EscalationLevel, alert.NotificationCount,
			archivedAt, string(doc),
		)
		if err != nil {
			return fmt.Errorf("insert alert %s: %w", alert.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns one archived alert.
func (a *Archive) Get(ctx context.Context, id string) (*models.SecurityAlert, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	var doc string
	err := a.conn.QueryRowContext(ctx,
		`SELECT CAST(document AS VARCHAR) FROM archived_alerts WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("archived alert %s: %w", id, models.ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query archived alert %s: %w", id, err)
	}
	return decode(doc)
}

// Filter narrows Query. Zero fields are ignored.
type Filter struct {
	Type     models.AlertType
	SourceIP string
	UserID   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Query returns archived alerts newest first.
//
//nolint:gocritic // hugeParam: Filter passed by value for API simplicity
func (a *Archive) Query(ctx context.Context, f Filter) ([]*models.SecurityAlert, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	where, args := f.where()
	q := "SELECT CAST(document AS VARCHAR) FROM archived_alerts" + where + " ORDER BY last_seen_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := a.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.SecurityAlert
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan archived alert: %w", err)
		}
		alert, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// Count returns the number of archived alerts matching f. Limit and Offset
// are ignored.
//
//nolint:gocritic // hugeParam: Filter passed by value for API simplicity
func (a *Archive) Count(ctx context.Context, f Filter) (int64, error) {
	if a.isClosed() {
		return 0, ErrClosed
	}
	where, args := f.where()
	var n int64
	if err := a.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM archived_alerts"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived alerts: %w", err)
	}
	return n, nil
}

//nolint:gocritic // hugeParam: Filter passed by value for API simplicity
func (f Filter) where() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.SourceIP != "" {
		conds = append(conds, "source_ip = ?")
		args = append(args, f.SourceIP)
	}
	if f.UserID != "" {
		conds = append(conds, "source_user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "last_seen_at >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "last_seen_at < ?")
		args = append(args, f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Ping verifies the database is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	if a.isClosed() {
		return ErrClosed
	}
	return a.conn.PingContext(ctx)
}

// Checkpoint flushes the DuckDB write-ahead log into the database file.
func (a *Archive) Checkpoint(ctx context.Context) error {
	if _, err := a.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close checkpoints and closes the database. It is safe to call twice.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Archive checkpoint before close failed")
	}
	return a.conn.Close()
}

func (a *Archive) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func decode(doc string) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	if err := json.Unmarshal([]byte(doc), &alert); err != nil {
		return nil, fmt.Errorf("decode archived alert: %w", err)
	}
	return &alert, nil
}

// isTransactionConflict reports DuckDB optimistic concurrency failures.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "cannot update a table that has been altered")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
