// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

//go:build integration

package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/models"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "archive.duckdb")
	cfg.Threads = 1
	a, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func resolvedAlert(id string, typ models.AlertType, ip string, lastSeen time.Time) *models.SecurityAlert {
	resolved := lastSeen.Add(time.Hour)
	return &models.SecurityAlert{
		ID:              id,
		Type:            typ,
		Category:        typ.Category(),
		Severity:        models.SeverityWarning,
		Status:          models.StatusArchived,
		Title:           "archived " + id,
		Source:          models.AlertSource{IP: ip, UserID: "user-" + id},
		AggregationKey:  string(typ) + ":" + id,
		OccurrenceCount: 3,
		FirstSeenAt:     lastSeen.Add(-time.Hour),
		LastSeenAt:      lastSeen,
		ResolvedAt:      &resolved,
		ResolvedBy:      "admin-1",
		Notes:           []models.AlertNote{{Actor: "admin-1", Action: "resolve", CreatedAt: resolved}},
		UpdatedAt:       resolved,
	}
}

func TestArchiveAlerts_GetRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	in := resolvedAlert("a1", models.AlertTypeBruteForce, "203.0.113.9", ts)
	if err := a.ArchiveAlerts(ctx, []*models.SecurityAlert{in}); err != nil {
		t.Fatalf("ArchiveAlerts failed: %v", err)
	}

	got, err := a.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != in.Type || got.OccurrenceCount != 3 || got.ResolvedBy != "admin-1" {
		t.Errorf("Get = %+v, want fields of %+v", got, in)
	}
	if !got.LastSeenAt.Equal(ts) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, ts)
	}
	if len(got.Notes) != 1 {
		t.Errorf("Notes = %d, want 1", len(got.Notes))
	}
}

func TestArchiveAlerts_ReplaceIsIdempotent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	ts := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	alert := resolvedAlert("a1", models.AlertTypeAPIAbuse, "198.51.100.1", ts)
	for i := 0; i < 2; i++ {
		if err := a.ArchiveAlerts(ctx, []*models.SecurityAlert{alert}); err != nil {
			t.Fatalf("ArchiveAlerts #%d failed: %v", i+1, err)
		}
	}
	n, err := a.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestArchive_GetMissing(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Get(context.Background(), "nope")
	if !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("Get missing error = %v, want ErrAlertNotFound", err)
	}
}

func TestArchive_QueryFilters(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	batch := []*models.SecurityAlert{
		resolvedAlert("a1", models.AlertTypeBruteForce, "203.0.113.9", base),
		resolvedAlert("a2", models.AlertTypeBruteForce, "203.0.113.10", base.Add(time.Hour)),
		resolvedAlert("a3", models.AlertTypePromoAbuse, "203.0.113.9", base.Add(2*time.Hour)),
	}
	if err := a.ArchiveAlerts(ctx, batch); err != nil {
		t.Fatalf("ArchiveAlerts failed: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"a3", "a2", "a1"}},
		{"by type", Filter{Type: models.AlertTypeBruteForce}, []string{"a2", "a1"}},
		{"by ip", Filter{SourceIP: "203.0.113.9"}, []string{"a3", "a1"}},
		{"by user", Filter{UserID: "user-a2"}, []string{"a2"}},
		{"since", Filter{Since: base.Add(30 * time.Minute)}, []string{"a3", "a2"}},
		{"until", Filter{Until: base.Add(30 * time.Minute)}, []string{"a1"}},
		{"limit offset", Filter{Limit: 1, Offset: 1}, []string{"a2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query returned %d alerts, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestArchive_EmptyBatch(t *testing.T) {
	a := openTestArchive(t)
	if err := a.ArchiveAlerts(context.Background(), nil); err != nil {
		t.Errorf("empty batch error = %v", err)
	}
}

func TestArchive_Closed(t *testing.T) {
	a := openTestArchive(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	err := a.ArchiveAlerts(context.Background(), []*models.SecurityAlert{resolvedAlert("x", models.AlertTypeAPIAbuse, "", time.Now())})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("ArchiveAlerts after close = %v, want ErrClosed", err)
	}
	if err := a.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after close = %v, want ErrClosed", err)
	}
}

func TestArchive_ReopenKeepsRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "archive.duckdb")
	cfg.Threads = 1

	a, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ts := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	if err := a.ArchiveAlerts(context.Background(), []*models.SecurityAlert{resolvedAlert("a1", models.AlertTypeCardTesting, "192.0.2.1", ts)}); err != nil {
		t.Fatalf("ArchiveAlerts failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()
	if _, err := b.Get(context.Background(), "a1"); err != nil {
		t.Errorf("Get after reopen failed: %v", err)
	}
}

func TestArchive_SharedWithAuditStore(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	st := audit.NewDuckDBStore(a.DB())
	if err := st.CreateTable(ctx); err != nil {
		t.Fatalf("audit CreateTable on shared handle failed: %v", err)
	}
	if err := a.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestIsTransactionConflict(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("TransactionContext Error: Transaction conflict: cannot update"), true},
		{errors.New("Conflict on update of row"), true},
		{errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		if got := isTransactionConflict(tt.err); got != tt.want {
			t.Errorf("isTransactionConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
