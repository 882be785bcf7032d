// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package threatscore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *store.Store, *testClock) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(s, DefaultConfig()).WithClock(clock.Now), s, clock
}

var alice = models.EntityRef{Type: models.EntityUser, ID: "alice"}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{0, 0}, {30, 0}, {31, 1}, {50, 1}, {51, 2}, {70, 2}, {71, 3}, {85, 3}, {86, 4}, {100, 4},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestPrimaryAction(t *testing.T) {
	if got := PrimaryAction(4, models.EntityIP); got != models.ActionIPBlocked {
		t.Errorf("PrimaryAction(4, ip) = %s", got)
	}
	if got := PrimaryAction(4, models.EntityUser); got != models.ActionPermanentlyBlocked {
		t.Errorf("PrimaryAction(4, user) = %s", got)
	}
	if got := PrimaryAction(0, models.EntityUser); got != "" {
		t.Errorf("PrimaryAction(0, user) = %s, want none", got)
	}
}

func TestCompute_Decay(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := &models.ThreatScore{
		RawFactors:     map[string]int64{"brute_force_detected": 3},
		Weights:        map[string]int{"brute_force_detected": 10},
		LastIncidentAt: t0,
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"fresh", 0, 30},
		{"one hour", time.Hour, 28},
		{"partial hour rounds down", 90 * time.Minute, 27},
		{"fully decayed", 20 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(ts, t0.Add(tt.elapsed), 2); got != tt.want {
				t.Errorf("Compute() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordFactor_FirstIncident(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordFactor(ctx, alice, "brute_force_detected", 10)
	if err != nil {
		t.Fatalf("RecordFactor() error = %v", err)
	}
	if res.Score != 10 || res.Tier != 0 {
		t.Errorf("score=%d tier=%d, want 10/0", res.Score, res.Tier)
	}
	if res.AppliedAction != nil {
		t.Errorf("tier 0 must not apply an action, got %s", res.AppliedAction.Action)
	}
}

func TestRecordFactor_IncreaseIsWeightMinusDecay(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordFactor(ctx, alice, "brute_force_detected", 10); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	res, err := svc.RecordFactor(ctx, alice, "brute_force_detected", 10)
	if err != nil {
		t.Fatal(err)
	}
	// 10 - 4 (two hours of decay) + 10
	if res.Score != 16 {
		t.Errorf("score = %d, want 16", res.Score)
	}

	// The realized decay survives later reads.
	got, err := svc.GetScore(ctx, alice, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 16 {
		t.Errorf("GetScore() = %d, want 16", got.Score)
	}
}

func TestRecordFactor_TierTwoActionAppliedOnce(t *testing.T) {
	svc, s, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.RecordFactor(ctx, alice, "card_testing", 26); err != nil {
			t.Fatal(err)
		}
	}
	got, err := svc.GetScore(ctx, alice, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 52 || got.Tier != 2 {
		t.Fatalf("score=%d tier=%d, want 52/2", got.Score, got.Tier)
	}

	res, err := svc.RecordFactor(ctx, alice, "api_abuse", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != 2 || res.AppliedAction != nil {
		t.Errorf("staying in tier 2 must not apply again: %+v", res)
	}

	var blocks []*models.BlockedEntity
	err = s.View(ctx, func(txn *store.Txn) error {
		var err error
		blocks, err = txn.ListBlocked(alice)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocked records = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Action != models.ActionCaptchaRequired {
		t.Errorf("action = %s, want %s", b.Action, models.ActionCaptchaRequired)
	}
	if len(b.Measures) != 2 || b.Measures[1] != models.ActionMFAForced {
		t.Errorf("measures = %v, want captcha and mfa", b.Measures)
	}
	if b.ExpiresAt == nil {
		t.Error("tier 2 action should expire")
	}
}

func TestRecordFactor_ScoreMatchesFormula(t *testing.T) {
	svc, s, clock := newTestService(t)
	ctx := context.Background()

	steps := []struct {
		advance  time.Duration
		category string
		weight   int
	}{
		{0, "brute_force_detected", 10},
		{30 * time.Minute, "brute_force_detected", 10},
		{3 * time.Hour, "sql_injection", 25},
		{10 * time.Hour, "api_abuse", 5},
		{0, "data_breach_attempt", 30},
		{0, "data_breach_attempt", 30},
		{0, "data_breach_attempt", 30},
		{48 * time.Hour, "api_abuse", 5},
	}
	for i, st := range steps {
		clock.Advance(st.advance)
		res, err := svc.RecordFactor(ctx, alice, st.category, st.weight)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}

		var stored *models.ThreatScore
		err = s.View(ctx, func(txn *store.Txn) error {
			var err error
			stored, err = txn.GetScore(alice)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if want := Compute(stored, stored.LastIncidentAt, 2); stored.Score != want || res.Score != want {
			t.Errorf("step %d: stored=%d result=%d formula=%d", i, stored.Score, res.Score, want)
		}
		if stored.Score < 0 || stored.Score > MaxScore {
			t.Errorf("step %d: score %d out of range", i, stored.Score)
		}
	}
}

func TestRecordFactor_EpochRearmsAfterDecay(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordFactor(ctx, alice, "card_testing", 40)
	if err != nil {
		t.Fatal(err)
	}
	if res.AppliedAction == nil || res.AppliedAction.Action != models.ActionRateLimited {
		t.Fatalf("expected rate_limited, got %+v", res)
	}

	// 40 decays to 30 after five hours, back in the log-only tier.
	clock.Advance(5 * time.Hour)
	res, err = svc.RecordFactor(ctx, alice, "api_abuse", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Epoch != 1 {
		t.Errorf("epoch = %d, want 1", res.Epoch)
	}
	if res.AppliedAction == nil || res.AppliedAction.Action != models.ActionRateLimited {
		t.Errorf("tier 1 should re-arm in the new epoch, got %+v", res)
	}
}

func TestRecordFactor_ConcurrentWriters(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordFactor(ctx, alice, "promo_abuse", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("RecordFactor() error = %v", err)
	}

	got, err := svc.GetScore(ctx, alice, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.RawFactors["promo_abuse"] != workers || got.Score != workers {
		t.Errorf("occurrences=%d score=%d, want %d", got.RawFactors["promo_abuse"], got.Score, workers)
	}
}

func TestRecordFactor_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.RecordFactor(context.Background(), models.EntityRef{Type: "planet", ID: "x"}, "c", 1)
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestCheckBlocked_ExpiresTemporaryBlocks(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	ip := models.EntityRef{Type: models.EntityIP, ID: "203.0.113.9"}

	if _, err := svc.Block(ctx, ip, models.ActionTempBlocked, "", "admin-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	status, err := svc.CheckBlocked(ctx, ip)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Blocked || len(status.Actions) != 1 {
		t.Fatalf("status = %+v, want blocked", status)
	}
	if status.Actions[0].Reason != "Manually blocked by admin" {
		t.Errorf("reason = %q", status.Actions[0].Reason)
	}

	clock.Advance(2 * time.Hour)
	status, err = svc.CheckBlocked(ctx, ip)
	if err != nil {
		t.Fatal(err)
	}
	if status.Blocked || len(status.Actions) != 0 {
		t.Errorf("expired block still reported: %+v", status)
	}
}

func TestBlockUnblock(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Block(ctx, alice, models.ActionSuspended, "fraud", "admin-1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Block(ctx, alice, models.ActionMFAForced, "fraud", "admin-1", 0); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.BlockedStats(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.ByType["user"] != 2 || stats.ExpiringWithin != 0 {
		t.Errorf("stats = %+v", stats)
	}

	n, err := svc.Unblock(ctx, alice, "admin-1", models.ActionSuspended)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	status, err := svc.CheckBlocked(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if status.Blocked {
		t.Error("mfa_forced alone must not count as blocked")
	}

	n, err = svc.Unblock(ctx, alice, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if w := cfg.WeightFor("unknown_category"); w != cfg.DefaultWeight {
		t.Errorf("WeightFor(unknown) = %d", w)
	}

	cfg.DecayPerHour = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative decay should be rejected")
	}
}

func TestRecordFactor_SaturationForgivesOverflow(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// Twelve incidents of weight 10 store a raw sum of 120 but a visible
	// score of 100; the overflow is folded into DecayPoints.
	for i := 0; i < 12; i++ {
		if _, err := svc.RecordFactor(ctx, alice, "brute_force_detected", 10); err != nil {
			t.Fatal(err)
		}
	}

	steps := []struct {
		advance  time.Duration
		category string
		weight   int
		want     int
	}{
		// 100 - 10 of decay + 10
		{5 * time.Hour, "api_abuse", 10, 100},
		// 100 - 20 of decay + 5
		{10 * time.Hour, "sql_injection", 5, 85},
	}
	for i, st := range steps {
		clock.Advance(st.advance)
		res, err := svc.RecordFactor(ctx, alice, st.category, st.weight)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Score != st.want {
			t.Errorf("step %d: score = %d, want %d", i, res.Score, st.want)
		}
	}

	clock.Advance(5 * time.Hour)
	got, err := svc.GetScore(ctx, alice, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Score != 75 {
		t.Errorf("GetScore() = %d, want 75", got.Score)
	}
	if got.DecayPoints <= 0 {
		t.Errorf("DecayPoints = %d, want the forgiven overflow", got.DecayPoints)
	}
}
