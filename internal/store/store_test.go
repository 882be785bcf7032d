// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type counter struct {
	N int `json:"n"`
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(txn *Txn) error {
		return txn.Set("test/a", &counter{N: 7})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var got counter
	err = s.View(ctx, func(txn *Txn) error {
		return txn.Get("test/a", &got)
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got.N != 7 {
		t.Errorf("N = %d, want 7", got.N)
	}
}

func TestTxn_ExpiresAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(txn *Txn) error {
		if err := txn.Set("test/forever", &counter{N: 1}); err != nil {
			return err
		}
		return txn.SetWithTTL("test/brief", &counter{N: 2}, time.Hour)
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err = s.View(ctx, func(txn *Txn) error {
		exp, err := txn.ExpiresAt("test/forever")
		if err != nil || !exp.IsZero() {
			t.Errorf("ExpiresAt(forever) = %v, %v; want zero", exp, err)
		}
		exp, err = txn.ExpiresAt("test/brief")
		if err != nil || exp.Before(time.Now().Add(59*time.Minute)) {
			t.Errorf("ExpiresAt(brief) = %v, %v; want about an hour ahead", exp, err)
		}
		if _, err := txn.ExpiresAt("test/missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ExpiresAt(missing) error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.View(context.Background(), func(txn *Txn) error {
		var c counter
		return txn.Get("test/missing", &c)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStore_ClosureErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(txn *Txn) error {
		if err := txn.Set("test/rollback", &counter{N: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}
	if models.IsTransient(err) {
		t.Error("closure error must not be marked transient")
	}

	var exists bool
	_ = s.View(ctx, func(txn *Txn) error {
		var err error
		exists, err = txn.Exists("test/rollback")
		return err
	})
	if exists {
		t.Error("write from failed closure was committed")
	}
}

func TestStore_ConcurrentIncrementsRetryConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const workers = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, func(txn *Txn) error {
				var c counter
				if err := txn.Get("test/counter", &c); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
				c.N++
				return txn.Set("test/counter", &c)
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	var got counter
	if err := s.View(ctx, func(txn *Txn) error { return txn.Get("test/counter", &got) }); err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got.N != workers {
		t.Errorf("counter = %d, want %d", got.N, workers)
	}
}

func TestStore_ClosedIsTransient(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = s.Update(context.Background(), func(txn *Txn) error { return nil })
	if !models.IsTransient(err) {
		t.Errorf("Update() on closed store error = %v, want transient", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Update() on closed store error = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStore_ScanAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(txn *Txn) error {
		for i := 0; i < 5; i++ {
			if err := txn.Set(fmt.Sprintf("scan/a/%d", i), &counter{N: i}); err != nil {
				return err
			}
		}
		return txn.Set("scan/b/0", &counter{N: 99})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	n, err := s.CountPrefix(ctx, "scan/a/")
	if err != nil {
		t.Fatalf("CountPrefix() error = %v", err)
	}
	if n != 5 {
		t.Errorf("CountPrefix() = %d, want 5", n)
	}

	var seen []string
	err = s.ScanPrefix(ctx, "scan/a/", func(key string, _ []byte) error {
		seen = append(seen, key)
		if len(seen) == 2 {
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPrefix() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != "scan/a/0" || seen[1] != "scan/a/1" {
		t.Errorf("ScanPrefix() keys = %v, want [scan/a/0 scan/a/1]", seen)
	}
}

func TestStore_ScanFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(txn *Txn) error {
		for i := 0; i < 6; i++ {
			key := WindowEventKey("login", "1.2.3.4", base.Add(time.Duration(i)*time.Minute), fmt.Sprint(i))
			if err := txn.Set(key, &counter{N: i}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	prefix := WindowStreamPrefix("login", "1.2.3.4")
	var count int
	err = s.View(ctx, func(txn *Txn) error {
		return txn.ScanFrom(prefix, prefix+TimeSegment(base.Add(3*time.Minute)), func(string, []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("ScanFrom() error = %v", err)
	}
	if count != 3 {
		t.Errorf("ScanFrom() visited %d keys, want 3", count)
	}
}

func TestStore_ListAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	alerts := []*models.SecurityAlert{
		{ID: "a1", Type: models.AlertTypeBruteForce, Category: models.CategoryAuthentication, Severity: models.SeverityWarning, Status: models.StatusOpen, FirstSeenAt: now, LastSeenAt: now.Add(-2 * time.Hour), Source: models.AlertSource{IP: "10.0.0.1"}},
		{ID: "a2", Type: models.AlertTypePromoAbuse, Category: models.CategoryFraud, Severity: models.SeverityWarning, Status: models.StatusResolved, FirstSeenAt: now, LastSeenAt: now.Add(-time.Hour), Source: models.AlertSource{UserID: "alice"}},
		{ID: "a3", Type: models.AlertTypeBruteForce, Category: models.CategoryAuthentication, Severity: models.SeverityCritical, Status: models.StatusOpen, FirstSeenAt: now, LastSeenAt: now, Source: models.AlertSource{IP: "10.0.0.2"}},
	}
	err := s.Update(ctx, func(txn *Txn) error {
		for _, a := range alerts {
			if err := txn.PutAlert(a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tests := []struct {
		name    string
		filter  AlertFilter
		limit   int
		offset  int
		wantIDs []string
		total   int
	}{
		{"all newest first", AlertFilter{}, 0, 0, []string{"a3", "a2", "a1"}, 3},
		{"open only", AlertFilter{Statuses: []models.Status{models.StatusOpen}}, 0, 0, []string{"a3", "a1"}, 2},
		{"by type", AlertFilter{Types: []models.AlertType{models.AlertTypePromoAbuse}}, 0, 0, []string{"a2"}, 1},
		{"by source", AlertFilter{Source: "ALICE"}, 0, 0, []string{"a2"}, 1},
		{"paged", AlertFilter{}, 1, 1, []string{"a2"}, 3},
		{"offset past end", AlertFilter{}, 10, 5, nil, 3},
		{"since", AlertFilter{Since: now.Add(-90 * time.Minute)}, 0, 0, []string{"a3", "a2"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListAlerts(ctx, tt.filter, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("ListAlerts() error = %v", err)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d alerts, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("alert[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestTxn_GetAlertNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.View(context.Background(), func(txn *Txn) error {
		_, err := txn.GetAlert("nope")
		return err
	})
	if !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("error = %v, want ErrAlertNotFound", err)
	}
}

func TestTxn_PutBlockedExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	ref := models.EntityRef{Type: models.EntityIP, ID: "10.0.0.9"}

	err := s.Update(ctx, func(txn *Txn) error {
		return txn.PutBlocked(&models.BlockedEntity{
			EntityType: ref.Type, EntityID: ref.ID, Action: models.ActionTempBlocked, ExpiresAt: &past,
		}, now)
	})
	if err != nil {
		t.Fatalf("PutBlocked() error = %v", err)
	}

	var list []*models.BlockedEntity
	_ = s.View(ctx, func(txn *Txn) error {
		var err error
		list, err = txn.ListBlocked(ref)
		return err
	})
	if len(list) != 0 {
		t.Errorf("expired block was stored: %v", list)
	}
}

func TestGarbageCollector_StartStop(t *testing.T) {
	s := newTestStore(t)
	gc := NewGarbageCollector(s)

	if err := gc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !gc.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := gc.Start(context.Background()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	gc.Stop()
	if gc.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	gc.Stop()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing path", func(c *Config) { c.Path = "" }, true},
		{"in memory without path", func(c *Config) { c.Path = ""; c.InMemory = true }, false},
		{"no retries", func(c *Config) { c.MaxConflictRetries = 0 }, true},
		{"bad gc ratio", func(c *Config) { c.GCRatio = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
