// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package aggregation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, archiver Archiver) (*Aggregator, *store.Store) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig(), archiver), s
}

func bruteForcePayload(ip string) *models.AlertPayload {
	return &models.AlertPayload{
		Type:     models.AlertTypeBruteForce,
		Severity: models.SeverityWarning,
		Context:  models.AlertContext{Resource: "login", AttemptCount: 1},
		Source:   models.AlertSource{IP: ip},
	}
}

func TestGenerateAggregationKey(t *testing.T) {
	a := bruteForcePayload("10.0.0.1:4444")
	b := bruteForcePayload("10.0.0.1")
	if GenerateAggregationKey(a) != GenerateAggregationKey(b) {
		t.Error("port variant of the same source produced a different key")
	}

	c := bruteForcePayload("10.0.0.1")
	c.Context.Resource = "admin-login"
	if GenerateAggregationKey(b) == GenerateAggregationKey(c) {
		t.Error("different resources share a key")
	}

	d := bruteForcePayload("10.0.0.1")
	d.Type = models.AlertTypeAPIAbuse
	if GenerateAggregationKey(b) == GenerateAggregationKey(d) {
		t.Error("different types share a key")
	}
}

func TestCreateOrAggregate_ConcurrentSameKey(t *testing.T) {
	agg, s := newTestAggregator(t, nil)
	ctx := context.Background()
	const n = 40

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				errs <- err
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}

	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}

	alerts, total, err := s.ListAlerts(ctx, store.AlertFilter{}, 0, 0)
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("alerts = %d, want 1", total)
	}
	if alerts[0].OccurrenceCount != n {
		t.Errorf("OccurrenceCount = %d, want %d", alerts[0].OccurrenceCount, n)
	}
	if alerts[0].LastSeenAt.Before(alerts[0].FirstSeenAt) {
		t.Error("LastSeenAt before FirstSeenAt")
	}
}

func TestCreateOrAggregate_MergeKeepsSeverity(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	first, err := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow)
	if err != nil {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}

	p := bruteForcePayload("10.0.0.1")
	p.Severity = models.SeverityCritical
	p.Context.AttemptCount = 4
	second, err := agg.CreateOrAggregate(ctx, p, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}

	if !second.Aggregated || second.Alert.ID != first.Alert.ID {
		t.Fatalf("second result = %+v, want merge into %s", second, first.Alert.ID)
	}
	if second.Alert.Severity != models.SeverityWarning {
		t.Errorf("Severity = %s, want warning unchanged", second.Alert.Severity)
	}
	if second.Alert.Context.AttemptCount != 5 {
		t.Errorf("AttemptCount = %d, want 5", second.Alert.Context.AttemptCount)
	}
	if !second.Alert.LastSeenAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("LastSeenAt = %v", second.Alert.LastSeenAt)
	}
}

func TestCreateOrAggregate_WindowAndStatus(t *testing.T) {
	agg, s := newTestAggregator(t, nil)
	ctx := context.Background()

	first, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow)

	// Outside the 15 minute brute force window.
	late, err := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(16*time.Minute))
	if err != nil {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}
	if !late.Created || late.Alert.ID == first.Alert.ID {
		t.Error("occurrence outside the window was merged")
	}

	// Resolve it; the next occurrence starts a new alert.
	err = s.Update(ctx, func(txn *store.Txn) error {
		alert, err := txn.GetAlert(late.Alert.ID)
		if err != nil {
			return err
		}
		alert.Status = models.StatusResolved
		return txn.PutAlert(alert)
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	again, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(17*time.Minute))
	if !again.Created {
		t.Error("occurrence after resolve was merged into the resolved alert")
	}

	// Acknowledged alerts keep absorbing.
	err = s.Update(ctx, func(txn *store.Txn) error {
		alert, err := txn.GetAlert(again.Alert.ID)
		if err != nil {
			return err
		}
		alert.Status = models.StatusAcknowledged
		return txn.PutAlert(alert)
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	ack, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(18*time.Minute))
	if !ack.Aggregated || ack.Alert.ID != again.Alert.ID {
		t.Error("occurrence was not merged into the acknowledged alert")
	}
}

func TestCreateOrAggregate_IdempotencyKey(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	p := bruteForcePayload("10.0.0.1")
	p.IdempotencyKey = "evt-123"

	first, err := agg.CreateOrAggregate(ctx, p, testNow)
	if err != nil {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}
	replay, err := agg.CreateOrAggregate(ctx, p, testNow.Add(time.Second))
	if err != nil {
		t.Fatalf("CreateOrAggregate() error = %v", err)
	}

	if !replay.Duplicate || replay.Alert.ID != first.Alert.ID {
		t.Fatalf("replay = %+v, want duplicate of %s", replay, first.Alert.ID)
	}
	if replay.Alert.OccurrenceCount != 1 {
		t.Errorf("OccurrenceCount = %d after replay, want 1", replay.Alert.OccurrenceCount)
	}
	if replay.ShouldNotify {
		t.Error("replay must not notify")
	}
}

func TestRenotifyPolicy_IsCheckpoint(t *testing.T) {
	p := DefaultRenotifyPolicy()
	want := map[int64]bool{5: true, 25: true, 100: true, 500: true, 2500: true, 12500: true}

	for n := int64(1); n <= 13000; n++ {
		if got := p.IsCheckpoint(n); got != want[n] {
			t.Errorf("IsCheckpoint(%d) = %v, want %v", n, got, want[n])
		}
	}

	none := RenotifyPolicy{}
	if none.IsCheckpoint(5) {
		t.Error("empty policy must never renotify")
	}
}

func TestShouldNotifyForAggregatedAlert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Renotify[string(models.AlertTypePromoAbuse)] = RenotifyPolicy{Checkpoints: []int64{3}}
	agg := New(nil, cfg, nil)

	tests := []struct {
		typ   models.AlertType
		count int64
		want  bool
	}{
		{models.AlertTypeBruteForce, 1, true},
		{models.AlertTypeBruteForce, 2, false},
		{models.AlertTypeBruteForce, 5, true},
		{models.AlertTypeBruteForce, 6, false},
		{models.AlertTypePromoAbuse, 3, true},
		{models.AlertTypePromoAbuse, 5, false},
	}
	for _, tt := range tests {
		alert := &models.SecurityAlert{Type: tt.typ, OccurrenceCount: tt.count}
		if got := agg.ShouldNotifyForAggregatedAlert(alert); got != tt.want {
			t.Errorf("%s count %d: got %v, want %v", tt.typ, tt.count, got, tt.want)
		}
	}
}

type fakeArchiver struct {
	mu     sync.Mutex
	alerts []*models.SecurityAlert
	err    error
}

func (f *fakeArchiver) ArchiveAlerts(_ context.Context, alerts []*models.SecurityAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alerts...)
	return nil
}

func TestArchiveOldResolvedAlerts(t *testing.T) {
	arch := &fakeArchiver{}
	agg, s := newTestAggregator(t, arch)
	ctx := context.Background()

	old, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(-40*24*time.Hour))
	recent, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.2"), testNow.Add(-2*24*time.Hour))
	open, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.3"), testNow.Add(-40*24*time.Hour))

	resolve := func(id string, at time.Time) {
		err := s.Update(ctx, func(txn *store.Txn) error {
			alert, err := txn.GetAlert(id)
			if err != nil {
				return err
			}
			alert.Status = models.StatusResolved
			alert.ResolvedAt = &at
			return txn.PutAlert(alert)
		})
		if err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
	resolve(old.Alert.ID, testNow.Add(-35*24*time.Hour))
	resolve(recent.Alert.ID, testNow.Add(-24*time.Hour))

	n, err := agg.ArchiveOldResolvedAlerts(ctx, testNow)
	if err != nil {
		t.Fatalf("ArchiveOldResolvedAlerts() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
	if len(arch.alerts) != 1 || arch.alerts[0].ID != old.Alert.ID || arch.alerts[0].Status != models.StatusArchived {
		t.Errorf("archiver received %+v", arch.alerts)
	}

	err = s.View(ctx, func(txn *store.Txn) error {
		if _, err := txn.GetAlert(old.Alert.ID); !errors.Is(err, models.ErrAlertNotFound) {
			t.Errorf("old alert still present: %v", err)
		}
		if _, err := txn.GetAlert(recent.Alert.ID); err != nil {
			t.Errorf("recent resolved alert removed: %v", err)
		}
		if _, err := txn.GetAlert(open.Alert.ID); err != nil {
			t.Errorf("open alert removed: %v", err)
		}
		exists, err := txn.Exists(store.AggIndexKey(old.Alert.AggregationKey))
		if err != nil {
			return err
		}
		if exists {
			t.Error("aggregation index of archived alert left behind")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}

	// Idempotent.
	n, err = agg.ArchiveOldResolvedAlerts(ctx, testNow)
	if err != nil || n != 0 {
		t.Errorf("second run = %d, %v; want 0, nil", n, err)
	}
}

func TestArchiveOldResolvedAlerts_ArchiverFailureKeepsAlerts(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("disk full")}
	agg, s := newTestAggregator(t, arch)
	ctx := context.Background()

	res, _ := agg.CreateOrAggregate(ctx, bruteForcePayload("10.0.0.1"), testNow.Add(-40*24*time.Hour))
	resolvedAt := testNow.Add(-35 * 24 * time.Hour)
	_ = s.Update(ctx, func(txn *store.Txn) error {
		alert, _ := txn.GetAlert(res.Alert.ID)
		alert.Status = models.StatusResolved
		alert.ResolvedAt = &resolvedAt
		return txn.PutAlert(alert)
	})

	if _, err := agg.ArchiveOldResolvedAlerts(ctx, testNow); err == nil {
		t.Fatal("expected archiver error")
	}
	err := s.View(ctx, func(txn *store.Txn) error {
		_, err := txn.GetAlert(res.Alert.ID)
		return err
	})
	if err != nil {
		t.Errorf("alert removed although archiving failed: %v", err)
	}
}
