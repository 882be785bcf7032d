// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/aggregation"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/ratelimit"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/threatscore"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type dispatch struct {
	alertID  string
	severity models.Severity
	reason   string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch
	fail  bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, alert *models.SecurityAlert, reason string) *notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatch{alertID: alert.ID, severity: alert.Severity, reason: reason})
	res := &notify.Result{AlertID: alert.ID, Recipients: 1, Channels: map[notify.Channel]notify.ChannelResult{}}
	if f.fail {
		res.Channels[notify.ChannelInApp] = notify.ChannelResult{Failed: 1}
	} else {
		res.Channels[notify.ChannelInApp] = notify.ChannelResult{Sent: 1}
	}
	return res
}

func (f *fakeDispatcher) forAlert(id string) []dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispatch
	for _, c := range f.calls {
		if c.alertID == id {
			out = append(out, c)
		}
	}
	return out
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeBroadcaster) BroadcastJSON(messageType string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, messageType)
}

func (f *fakeBroadcaster) count(messageType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.types {
		if t == messageType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc         *Service
	store       *store.Store
	threats     *threatscore.Service
	escalation  *escalation.Scheduler
	dispatcher  *fakeDispatcher
	broadcaster *fakeBroadcaster
	audit       *audit.Logger
	auditStore  *audit.MemoryStore
	clock       *testClock
}

type fixtureOptions struct {
	limiter func(*ratelimit.Config)
	threats func(*threatscore.Config)
	alerts  func(*Config)
}

func newFixture(t *testing.T, opts *fixtureOptions) *fixture {
	t.Helper()
	if opts == nil {
		opts = &fixtureOptions{}
	}
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := &testClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}

	rlCfg := ratelimit.DefaultConfig()
	if opts.limiter != nil {
		opts.limiter(&rlCfg)
	}
	tsCfg := threatscore.DefaultConfig()
	if opts.threats != nil {
		opts.threats(&tsCfg)
	}
	cfg := DefaultConfig()
	if opts.alerts != nil {
		opts.alerts(&cfg)
	}

	auditStore := audit.NewMemoryStore(1000)
	auditLogger := audit.NewLogger(auditStore, audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLogger.Close() })

	f := &fixture{
		store:       s,
		threats:     threatscore.NewService(s, tsCfg).WithClock(clock.Now),
		escalation:  escalation.NewScheduler(s, nil, nil, escalation.DefaultConfig()).WithClock(clock.Now),
		dispatcher:  &fakeDispatcher{},
		broadcaster: &fakeBroadcaster{},
		audit:       auditLogger,
		auditStore:  auditStore,
		clock:       clock,
	}
	svc, err := New(Deps{
		Store:       s,
		Limiter:     ratelimit.New(ratelimit.NewStoreBackend(s), rlCfg).WithClock(clock.Now),
		Aggregator:  aggregation.New(s, aggregation.DefaultConfig(), nil),
		Threats:     f.threats,
		Escalation:  f.escalation,
		Notifier:    f.dispatcher,
		Broadcaster: f.broadcaster,
		Audit:       auditLogger,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.svc = svc.WithClock(clock.Now)
	return f
}

func (f *fixture) alert(t *testing.T, id string) *models.SecurityAlert {
	t.Helper()
	a, err := f.svc.GetAlert(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAlert(%s) error = %v", id, err)
	}
	return a
}

func (f *fixture) alertsOfType(t *testing.T, typ models.AlertType) []*models.SecurityAlert {
	t.Helper()
	list, _, err := f.svc.ListAlerts(context.Background(), store.AlertFilter{Types: []models.AlertType{typ}}, 100, 0)
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	return list
}

func (f *fixture) score(t *testing.T, entity models.EntityRef) *models.ThreatScore {
	t.Helper()
	ts, err := f.threats.GetScore(context.Background(), entity, f.clock.Now())
	if err != nil {
		t.Fatalf("GetScore() error = %v", err)
	}
	return ts
}

func bruteForcePayload(ip string, sev models.Severity) *models.AlertPayload {
	return &models.AlertPayload{
		Type:     models.AlertTypeBruteForce,
		Severity: sev,
		Context:  models.AlertContext{Resource: "login", AttemptCount: 5},
		Source:   models.AlertSource{IP: ip},
	}
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	if _, err := New(Deps{}, DefaultConfig()); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

// Six failed logins for alice: the detector fires at the fifth and sixth
// attempt, producing one alert with two occurrences and two threat factors.
func TestScenario_BruteForceScoresEachOccurrence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	engine := detection.NewEngine(f.svc, detection.NewDefaultDetectors(f.store, detection.DefaultThresholds())...).
		WithClock(f.clock.Now)

	for i := 0; i < 6; i++ {
		_, err := engine.Process(ctx, &detection.Signal{
			ID:         fmt.Sprintf("login-%d", i),
			Kind:       detection.SignalLoginAttempt,
			UserID:     "alice",
			Timestamp:  f.clock.Now(),
			Attributes: map[string]any{"success": false},
		})
		if err != nil {
			t.Fatalf("Process(%d) error = %v", i, err)
		}
		f.clock.Advance(30 * time.Second)
	}

	list := f.alertsOfType(t, models.AlertTypeBruteForce)
	if len(list) != 1 {
		t.Fatalf("expected one brute force alert, got %d", len(list))
	}
	a := list[0]
	if a.Severity != models.SeverityWarning {
		t.Errorf("severity = %s, want warning", a.Severity)
	}
	if a.OccurrenceCount != 2 {
		t.Errorf("occurrences = %d, want 2", a.OccurrenceCount)
	}

	tsCfg := threatscore.DefaultConfig()
	weight := tsCfg.WeightFor(models.AlertTypeBruteForce.ShortName())
	ts := f.score(t, models.EntityRef{Type: models.EntityUser, ID: "alice"})
	// 30s between the two firings is below one hour of decay.
	if ts.Score != 2*weight {
		t.Errorf("score = %d, want %d", ts.Score, 2*weight)
	}
	if got := ts.RawFactors[models.AlertTypeBruteForce.ShortName()]; got != 2 {
		t.Errorf("brute force factor = %d, want 2", got)
	}
	if n := len(f.dispatcher.forAlert(a.ID)); n != 1 {
		t.Errorf("expected 1 notification, got %d", n)
	}
}

func TestScenario_PromoAbuseNotifiedOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var id string
	for i := 0; i < 5; i++ {
		res, err := f.svc.CreatePromoAbuseAlert(ctx, PromoAbuseParams{
			UserID:          "bob",
			PromoCode:       "SPRING",
			RedemptionCount: int64(5 + i),
		})
		if err != nil {
			t.Fatalf("CreatePromoAbuseAlert(%d) error = %v", i, err)
		}
		if i == 0 {
			id = res.AlertID
		} else if res.AlertID != id {
			t.Fatalf("firing %d produced a second alert", i)
		}
		f.clock.Advance(time.Minute)
	}

	if list := f.alertsOfType(t, models.AlertTypePromoAbuse); len(list) != 1 {
		t.Fatalf("expected one promo alert, got %d", len(list))
	}
	if n := len(f.dispatcher.forAlert(id)); n != 1 {
		t.Errorf("expected exactly one notification, got %d", n)
	}
	a := f.alert(t, id)
	if a.OccurrenceCount != 5 || a.NotificationCount != 1 {
		t.Errorf("occurrences=%d notifications=%d, want 5 and 1", a.OccurrenceCount, a.NotificationCount)
	}
}

func TestScenario_CriticalEscalatesToEmergency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("198.51.100.4", models.SeverityCritical))
	if err != nil {
		t.Fatalf("CreateSecurityAlert() error = %v", err)
	}
	if !res.Escalating {
		t.Fatal("critical alert should be scheduled for escalation")
	}

	f.clock.Advance(29 * time.Minute)
	if _, err := f.svc.RunTask(ctx, TaskProcessEscalations); err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}
	if sev := f.alert(t, res.AlertID).Severity; sev != models.SeverityCritical {
		t.Fatalf("escalated early to %s", sev)
	}

	f.clock.Advance(time.Minute)
	tr, err := f.svc.RunTask(ctx, TaskProcessEscalations)
	if err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}
	if tr.Processed != 1 {
		t.Errorf("processed = %d, want 1", tr.Processed)
	}

	a := f.alert(t, res.AlertID)
	if a.Severity != models.SeverityEmergency || a.EscalationLevel != 1 {
		t.Errorf("alert = %s level %d, want emergency level 1", a.Severity, a.EscalationLevel)
	}
	sched, err := f.escalation.Get(ctx, res.AlertID)
	if err != nil {
		t.Fatalf("Get schedule error = %v", err)
	}
	if sched.State != models.ScheduleExhausted {
		t.Errorf("schedule state = %s, want exhausted", sched.State)
	}

	calls := f.dispatcher.forAlert(res.AlertID)
	if len(calls) != 2 || calls[1].severity != models.SeverityEmergency {
		t.Errorf("expected initial and emergency notifications, got %+v", calls)
	}
	if a.NotificationCount != 2 {
		t.Errorf("notification count = %d, want 2", a.NotificationCount)
	}

	f.clock.Advance(time.Hour)
	tr, _ = f.svc.RunTask(ctx, TaskProcessEscalations)
	if tr.Processed != 0 {
		t.Errorf("terminal tier escalated again: %d", tr.Processed)
	}
}

func TestScenario_TierTwoActionAppliedOnce(t *testing.T) {
	f := newFixture(t, &fixtureOptions{threats: func(c *threatscore.Config) {
		c.Weights[models.AlertTypePromoAbuse.ShortName()] = 26
	}})
	ctx := context.Background()
	user := models.EntityRef{Type: models.EntityUser, ID: "carol"}

	for _, code := range []string{"A", "B"} {
		if _, err := f.svc.CreatePromoAbuseAlert(ctx, PromoAbuseParams{UserID: "carol", PromoCode: code, RedemptionCount: 5}); err != nil {
			t.Fatal(err)
		}
	}
	if ts := f.score(t, user); ts.Score != 52 || ts.Tier != 2 {
		t.Fatalf("score=%d tier=%d, want 52 and 2", ts.Score, ts.Tier)
	}

	// Stays inside 51-70.
	res, err := f.svc.CreateApiAbuseAlert(ctx, APIAbuseParams{UserID: "carol", Endpoint: "/v1/orders", RequestCount: 60, TimeWindow: "1m"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ThreatScores) != 1 || res.ThreatScores[0].Tier != 2 || res.ThreatScores[0].AppliedAction != nil {
		t.Fatalf("unexpected threat result %+v", res.ThreatScores)
	}

	blocked, err := f.threats.ListBlocked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	captcha := 0
	for _, b := range blocked {
		if b.EntityID == "carol" && b.Action == models.ActionCaptchaRequired {
			captcha++
		}
	}
	if captcha != 1 {
		t.Errorf("expected one captcha record, got %d", captcha)
	}

	admin := f.alertsOfType(t, models.AlertTypeAdminActionRequired)
	if len(admin) != 1 {
		t.Fatalf("expected one admin alert, got %d", len(admin))
	}
	if admin[0].Source.System != "threat-score" || admin[0].Source.UserID != "carol" {
		t.Errorf("unexpected admin alert source %+v", admin[0].Source)
	}
}

func TestCreateSecurityAlert_Validation(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name    string
		payload *models.AlertPayload
	}{
		{name: "nil", payload: nil},
		{name: "missing type", payload: &models.AlertPayload{Severity: models.SeverityInfo}},
		{name: "unknown severity", payload: &models.AlertPayload{Type: models.AlertTypeAPIAbuse, Severity: "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSecurityAlert(context.Background(), tt.payload)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
	if n, _ := f.store.CountPrefix(context.Background(), store.PrefixAlert); n != 0 {
		t.Errorf("invalid payloads persisted %d alerts", n)
	}
}

func TestCreateSecurityAlert_MergedOccurrencesFeedThreatScore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ip := models.EntityRef{Type: models.EntityIP, ID: "203.0.113.50"}
	cfg := threatscore.DefaultConfig()
	weight := cfg.WeightFor(models.AlertTypeBruteForce.ShortName())

	var id string
	for i := 1; i <= 4; i++ {
		res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload(ip.ID, models.SeverityWarning))
		if err != nil {
			t.Fatalf("CreateSecurityAlert(%d) error = %v", i, err)
		}
		if i == 1 {
			id = res.AlertID
		} else if !res.Aggregated || res.AlertID != id {
			t.Fatalf("occurrence %d did not merge: %+v", i, res)
		}
		if len(res.ThreatScores) != 1 || res.ThreatScores[0].Score != i*weight {
			t.Fatalf("occurrence %d threat scores = %+v, want %d", i, res.ThreatScores, i*weight)
		}
	}

	ts := f.score(t, ip)
	if ts.Score != 4*weight || ts.RawFactors[models.AlertTypeBruteForce.ShortName()] != 4 {
		t.Errorf("score=%d factors=%v, want %d from 4 occurrences", ts.Score, ts.RawFactors, 4*weight)
	}
	if a := f.alert(t, id); a.OccurrenceCount != 4 {
		t.Errorf("occurrences = %d, want 4", a.OccurrenceCount)
	}
}

func TestCreateSecurityAlert_DuplicateIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := bruteForcePayload("192.0.2.1", models.SeverityWarning)
	p.IdempotencyKey = "signal:abc:brute_force"

	first, err := f.svc.CreateSecurityAlert(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.CreateSecurityAlert(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || second.AlertID != first.AlertID {
		t.Fatalf("replay result = %+v", second)
	}
	if second.Notified || len(second.ThreatScores) != 0 {
		t.Error("replay should have no side effects")
	}
	if a := f.alert(t, first.AlertID); a.OccurrenceCount != 1 {
		t.Errorf("occurrences = %d, want 1", a.OccurrenceCount)
	}
	if n := f.broadcaster.count(MessageAlertCreated) + f.broadcaster.count(MessageAlertUpdated); n != 1 {
		t.Errorf("expected one broadcast, got %d", n)
	}
}

func TestCreateSecurityAlert_RateLimitedStillPersists(t *testing.T) {
	f := newFixture(t, &fixtureOptions{limiter: func(c *ratelimit.Config) {
		c.Limits[string(models.AlertTypeBruteForce)] = 1
	}})
	ctx := context.Background()

	first, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.9", models.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Notified || first.RateLimited {
		t.Fatalf("first alert of a pair must notify: %+v", first)
	}

	p := bruteForcePayload("192.0.2.9", models.SeverityWarning)
	p.Context.Resource = "admin-login"
	second, err := f.svc.CreateSecurityAlert(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Created || !second.RateLimited || second.Notified {
		t.Fatalf("second alert should be created but suppressed: %+v", second)
	}
	if a := f.alert(t, second.AlertID); a.NotificationCount != 0 {
		t.Errorf("suppressed alert has %d notifications", a.NotificationCount)
	}

	// Emergency bypasses the ceiling.
	p = bruteForcePayload("192.0.2.9", models.SeverityEmergency)
	p.Context.Resource = "root-login"
	third, err := f.svc.CreateSecurityAlert(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if !third.Notified {
		t.Error("emergency alert should bypass the rate limit")
	}
}

func TestCreateSecurityAlert_InfoDoesNotEscalate(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.CreateSecurityAlert(context.Background(), bruteForcePayload("192.0.2.2", models.SeverityInfo))
	if err != nil {
		t.Fatal(err)
	}
	if res.Escalating {
		t.Error("info alerts never escalate")
	}
}

func TestNotifyAlert_Failure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.3", models.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}

	f.dispatcher.fail = true
	err = f.svc.NotifyAlert(ctx, f.alert(t, res.AlertID), ReasonEscalated)
	if !errors.Is(err, notify.ErrNoDelivery) {
		t.Fatalf("error = %v, want ErrNoDelivery", err)
	}
	if a := f.alert(t, res.AlertID); a.NotificationCount != 1 {
		t.Errorf("failed delivery changed notification count to %d", a.NotificationCount)
	}
}

func TestCreateSecurityAlertsBatch(t *testing.T) {
	f := newFixture(t, &fixtureOptions{alerts: func(c *Config) { c.BatchLimit = 3 }})
	ctx := context.Background()

	out, err := f.svc.CreateSecurityAlertsBatch(ctx, []*models.AlertPayload{
		bruteForcePayload("192.0.2.10", models.SeverityWarning),
		{Type: "security.unknown", Severity: models.SeverityInfo},
		bruteForcePayload("192.0.2.11", models.SeverityInfo),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Succeeded != 2 || out.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", out.Succeeded, out.Failed)
	}
	if !errors.Is(out.Items[1].Err(), models.ErrValidation) || out.Items[1].Error == "" {
		t.Errorf("item 1 should carry the validation error, got %+v", out.Items[1])
	}
	if out.Items[2].Result == nil || !out.Items[2].Result.Created {
		t.Error("item after a failure must still be created")
	}

	_, err = f.svc.CreateSecurityAlertsBatch(ctx, make([]*models.AlertPayload, 4))
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("oversized batch error = %v", err)
	}
}

func TestUpdateAlertStatus(t *testing.T) {
	actor := audit.ActorFromUser("admin-1", "ops", []string{"admin"}, "jwt")

	tests := []struct {
		name    string
		steps   []models.Status
		wantErr error
	}{
		{name: "acknowledge then resolve", steps: []models.Status{models.StatusAcknowledged, models.StatusResolved}},
		{name: "resolve directly", steps: []models.Status{models.StatusResolved}},
		{name: "reopen", steps: []models.Status{models.StatusResolved, models.StatusOpen}},
		{name: "archive", steps: []models.Status{models.StatusArchived}},
		{name: "archived is final", steps: []models.Status{models.StatusArchived, models.StatusOpen}, wantErr: models.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.20", models.SeverityCritical))
			if err != nil {
				t.Fatal(err)
			}

			for i, st := range tt.steps {
				_, err = f.svc.UpdateAlertStatus(ctx, res.AlertID, st, actor, "step")
				if err != nil && i < len(tt.steps)-1 {
					t.Fatalf("step %d: %v", i, err)
				}
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, models.ErrValidation) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateAlertStatus() error = %v", err)
			}

			a := f.alert(t, res.AlertID)
			final := tt.steps[len(tt.steps)-1]
			if a.Status != final {
				t.Errorf("status = %s, want %s", a.Status, final)
			}
			if final == models.StatusOpen && a.ResolvedAt != nil {
				t.Error("re-opened alert should clear ResolvedAt")
			}
			if len(a.Notes) != len(tt.steps) {
				t.Errorf("notes = %d, want %d", len(a.Notes), len(tt.steps))
			}

			sched, err := f.escalation.Get(ctx, res.AlertID)
			if err != nil {
				t.Fatal(err)
			}
			wantState := models.ScheduleCancelled
			if final == models.StatusOpen {
				wantState = models.ScheduleScheduled
			}
			if sched.State != wantState {
				t.Errorf("schedule state = %s, want %s", sched.State, wantState)
			}
		})
	}
}

func TestUpdateAlertStatus_ReopenedAlertEscalates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	actor := audit.ActorFromUser("admin-1", "ops", []string{"admin"}, "jwt")

	res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("198.51.100.9", models.SeverityCritical))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateAlertStatus(ctx, res.AlertID, models.StatusAcknowledged, actor, "looking"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Minute)
	if _, err := f.svc.UpdateAlertStatus(ctx, res.AlertID, models.StatusOpen, actor, "still happening"); err != nil {
		t.Fatal(err)
	}

	sched, err := f.escalation.Get(ctx, res.AlertID)
	if err != nil {
		t.Fatal(err)
	}
	if !sched.Pending() || sched.Generation != 1 || sched.Level != 0 {
		t.Fatalf("re-opened schedule = %+v, want pending level 0 generation 1", sched)
	}

	merged, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("198.51.100.9", models.SeverityCritical))
	if err != nil {
		t.Fatal(err)
	}
	if merged.AlertID != res.AlertID || !merged.Escalating {
		t.Fatalf("merge result = %+v, want escalating merge", merged)
	}

	f.clock.Advance(2 * time.Hour)
	tr, err := f.svc.RunTask(ctx, TaskProcessEscalations)
	if err != nil {
		t.Fatalf("RunTask() error = %v", err)
	}
	if tr.Processed != 1 {
		t.Errorf("processed = %d, want 1", tr.Processed)
	}
	a := f.alert(t, res.AlertID)
	if a.Severity != models.SeverityEmergency || a.EscalationLevel != 1 {
		t.Errorf("alert = %s level %d, want emergency level 1", a.Severity, a.EscalationLevel)
	}
}

func TestUpdateAlertStatus_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	actor := audit.SystemActor()

	if _, err := f.svc.UpdateAlertStatus(ctx, "missing", models.StatusResolved, actor, ""); !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("missing alert error = %v", err)
	}
	if _, err := f.svc.UpdateAlertStatus(ctx, "x", "closed", actor, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("unknown status error = %v", err)
	}
}

func TestUpdateAlertStatus_Audited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.21", models.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}
	actor := audit.ActorFromUser("admin-2", "ops", []string{"admin"}, "jwt")
	if _, err := f.svc.UpdateAlertStatus(ctx, res.AlertID, models.StatusAcknowledged, actor, "looking"); err != nil {
		t.Fatal(err)
	}
	_ = f.audit.Close()

	events, err := f.auditStore.Query(ctx, audit.QueryFilter{Types: []audit.EventType{audit.EventTypeAlertStatusChanged}, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Actor.ID != "admin-2" || events[0].Target.ID != res.AlertID {
		t.Fatalf("unexpected audit events %+v", events)
	}
}

func TestPerformAction(t *testing.T) {
	actor := audit.ActorFromUser("admin-1", "ops", []string{"admin"}, "jwt")

	tests := []struct {
		name       string
		req        ActionRequest
		noAlert    bool
		wantStatus models.Status
		wantErr    error
		check      func(t *testing.T, f *fixture, res *ActionResult)
	}{
		{
			name:       "acknowledge",
			req:        ActionRequest{Action: ActionAcknowledge},
			wantStatus: models.StatusAcknowledged,
		},
		{
			name:       "false positive resolves",
			req:        ActionRequest{Action: ActionFalsePositive, Notes: "test traffic"},
			wantStatus: models.StatusResolved,
			check: func(t *testing.T, f *fixture, res *ActionResult) {
				last := res.Alert.Notes[len(res.Alert.Notes)-1]
				if last.Text != "false positive: test traffic" {
					t.Errorf("note = %q", last.Text)
				}
			},
		},
		{
			name:       "investigate acknowledges open alert",
			req:        ActionRequest{Action: ActionInvestigate},
			wantStatus: models.StatusAcknowledged,
		},
		{
			name:       "block ip defaults to alert source",
			req:        ActionRequest{Action: ActionBlockIP, Notes: "manual"},
			wantStatus: models.StatusOpen,
			check: func(t *testing.T, f *fixture, res *ActionResult) {
				if res.Entity == nil || res.Entity.ID != "192.0.2.30" {
					t.Fatalf("entity = %+v", res.Entity)
				}
				st, err := f.threats.CheckBlocked(context.Background(), *res.Entity)
				if err != nil || !st.Blocked {
					t.Errorf("ip should be blocked: %+v %v", st, err)
				}
				if res.Blocked == nil || !res.Blocked.Permanent() {
					t.Error("manual block without ttl should be permanent")
				}
				if f.broadcaster.count(MessageEntityBlocked) != 1 {
					t.Error("expected entity_blocked broadcast")
				}
			},
		},
		{
			name:       "suspend explicit user",
			req:        ActionRequest{Action: ActionSuspendUser, TargetUserID: "mallory"},
			wantStatus: models.StatusOpen,
			check: func(t *testing.T, f *fixture, res *ActionResult) {
				st, err := f.threats.CheckBlocked(context.Background(), models.EntityRef{Type: models.EntityUser, ID: "mallory"})
				if err != nil || !st.Blocked {
					t.Fatalf("user should be suspended: %+v %v", st, err)
				}
				_, err = f.svc.PerformAction(context.Background(), ActionRequest{Action: ActionUnsuspendUser, TargetUserID: "mallory"}, audit.SystemActor())
				if err != nil {
					t.Fatal(err)
				}
				st, _ = f.threats.CheckBlocked(context.Background(), models.EntityRef{Type: models.EntityUser, ID: "mallory"})
				if st.Blocked {
					t.Error("user should be unsuspended")
				}
			},
		},
		{
			name:    "suspend without user",
			req:     ActionRequest{Action: ActionSuspendUser},
			wantErr: models.ErrValidation,
		},
		{
			name:    "unknown action",
			req:     ActionRequest{Action: "delete"},
			wantErr: models.ErrValidation,
		},
		{
			name:    "resolve without alert",
			req:     ActionRequest{Action: ActionResolve},
			noAlert: true,
			wantErr: models.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			created, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.30", models.SeverityWarning))
			if err != nil {
				t.Fatal(err)
			}

			req := tt.req
			if !tt.noAlert {
				req.AlertID = created.AlertID
			}
			res, err := f.svc.PerformAction(ctx, req, actor)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PerformAction() error = %v", err)
			}
			if res.Alert == nil || res.Alert.Status != tt.wantStatus {
				t.Fatalf("alert = %+v, want status %s", res.Alert, tt.wantStatus)
			}
			if tt.check != nil {
				tt.check(t, f, res)
			}
		})
	}
}

func TestPerformAction_Audited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	actor := audit.ActorFromUser("admin-3", "ops", []string{"admin"}, "jwt")

	if _, err := f.svc.PerformAction(ctx, ActionRequest{Action: ActionBlockIP, TargetIP: "203.0.113.50"}, actor); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.PerformAction(ctx, ActionRequest{Action: ActionUnblockIP, TargetIP: "203.0.113.50"}, actor); err != nil {
		t.Fatal(err)
	}
	_, _ = f.svc.PerformAction(ctx, ActionRequest{Action: ActionResolve, AlertID: "missing"}, actor)
	_ = f.audit.Close()

	actions, _ := f.auditStore.Query(ctx, audit.QueryFilter{Types: []audit.EventType{audit.EventTypeAlertAction}, Limit: 10})
	if len(actions) != 3 {
		t.Fatalf("expected 3 action events, got %d", len(actions))
	}
	failures, _ := f.auditStore.Query(ctx, audit.QueryFilter{Outcomes: []audit.Outcome{audit.OutcomeFailure}, Limit: 10})
	if len(failures) != 1 {
		t.Errorf("expected 1 failed action, got %d", len(failures))
	}
	entity, _ := f.auditStore.Query(ctx, audit.QueryFilter{
		Types: []audit.EventType{audit.EventTypeEntityBlocked, audit.EventTypeEntityUnblocked},
		Limit: 10,
	})
	if len(entity) != 2 {
		t.Errorf("expected block and unblock events, got %d", len(entity))
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.40", models.SeverityInfo)); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(48 * time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.41", models.SeverityWarning)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.CreateSystemCriticalAlert(ctx, SystemCriticalParams{Component: "store", Message: "disk full"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.PerformAction(ctx, ActionRequest{Action: ActionBlockIP, TargetIP: "192.0.2.99"}, audit.SystemActor()); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.GetStats(ctx, 0)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Occurrences != 3 || stats.Aggregated != 1 {
		t.Errorf("occurrences=%d aggregated=%d, want 3 and 1", stats.Occurrences, stats.Aggregated)
	}
	if stats.BySeverity["warning"] != 1 || stats.BySeverity["critical"] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
	if stats.ByType["system_critical"] != 1 {
		t.Errorf("by type = %v", stats.ByType)
	}
	if stats.OpenBySeverity[models.SeverityInfo] != 1 {
		t.Errorf("open alerts outside the period should still count: %v", stats.OpenBySeverity)
	}
	if stats.Escalation.Scheduled != 2 {
		t.Errorf("escalation scheduled = %d, want 2", stats.Escalation.Scheduled)
	}
	if stats.Blocked.ByType["ip"] != 1 {
		t.Errorf("blocked = %+v", stats.Blocked)
	}
}

func TestRunMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.CreateSecurityAlert(ctx, bruteForcePayload("192.0.2.50", models.SeverityWarning))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateAlertStatus(ctx, res.AlertID, models.StatusResolved, audit.SystemActor(), ""); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(aggregation.DefaultConfig().ArchiveAfter + time.Hour)
	report, err := f.svc.RunMaintenance(ctx)
	if err != nil {
		t.Fatalf("RunMaintenance() error = %v", err)
	}
	if report.Failed() || len(report.Tasks) != len(MaintenanceTasks) {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, tr := range report.Tasks {
		if tr.Task == TaskArchiveResolved && tr.Processed != 1 {
			t.Errorf("archived = %d, want 1", tr.Processed)
		}
	}
	if _, err := f.svc.GetAlert(ctx, res.AlertID); !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("archived alert still in hot store: %v", err)
	}

	// Idempotent.
	report, err = f.svc.RunMaintenance(ctx)
	if err != nil || report.Failed() {
		t.Fatalf("second run failed: %v", err)
	}

	if _, err := f.svc.RunTask(ctx, "defrag"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("unknown task error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero batch", mutate: func(c *Config) { c.BatchLimit = 0 }, wantErr: true},
		{name: "negative block ttl", mutate: func(c *Config) { c.BlockTTL = -time.Second }, wantErr: true},
		{name: "zero stats period", mutate: func(c *Config) { c.StatsPeriod = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
