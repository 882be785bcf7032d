// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/eventprocessor"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, pub *eventprocessor.Publisher) (*Queue, *testClock) {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	q := New(s, pub, cfg).WithClock(clock.Now)
	return q, clock
}

func TestQueue_ScheduleIsIdempotent(t *testing.T) {
	q, clock := newTestQueue(t, nil)
	ctx := context.Background()

	due := clock.Now().Add(time.Hour)
	token, err := q.Schedule(ctx, Task{ID: "escalation:a1:1", Kind: "escalation", DueAt: due})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if token != "escalation:a1:1" {
		t.Errorf("token = %q", token)
	}

	// A second schedule with a different due time keeps the first.
	if _, err := q.Schedule(ctx, Task{ID: "escalation:a1:1", Kind: "escalation", DueAt: due.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	task, err := q.Get(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if !task.DueAt.Equal(due) {
		t.Errorf("DueAt = %v, want %v", task.DueAt, due)
	}
	if n, _ := q.Pending(ctx); n != 1 {
		t.Errorf("Pending() = %d, want 1", n)
	}
}

func TestQueue_ScheduleValidation(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	tests := []struct {
		name string
		task Task
	}{
		{"missing id", Task{Kind: "x"}},
		{"missing kind", Task{ID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Schedule(context.Background(), tt.task); err == nil {
				t.Error("Schedule() expected error")
			}
		})
	}
}

func TestQueue_Cancel(t *testing.T) {
	q, clock := newTestQueue(t, nil)
	ctx := context.Background()

	called := false
	q.RegisterHandler("noop", func(context.Context, *Task) error {
		called = true
		return nil
	})

	token, err := q.Schedule(ctx, Task{ID: "t1", Kind: "noop", DueAt: clock.Now().Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, token); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	// Unknown and already cancelled tokens are fine.
	if err := q.Cancel(ctx, token); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
	if err := q.Cancel(ctx, "never-scheduled"); err != nil {
		t.Errorf("Cancel(unknown) error = %v", err)
	}

	clock.Advance(time.Hour)
	n, err := q.DispatchDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || called {
		t.Errorf("dispatched = %d, called = %v after cancel", n, called)
	}
	if _, err := q.Get(ctx, token); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestQueue_DispatchInline(t *testing.T) {
	q, clock := newTestQueue(t, nil)
	ctx := context.Background()

	var ran []string
	q.RegisterHandler("noop", func(_ context.Context, task *Task) error {
		ran = append(ran, task.ID)
		return nil
	})

	start := clock.Now()
	for _, tc := range []struct {
		id  string
		due time.Duration
	}{
		{"late", 2 * time.Hour},
		{"early", 30 * time.Minute},
		{"middle", time.Hour},
	} {
		if _, err := q.Schedule(ctx, Task{ID: tc.id, Kind: "noop", DueAt: start.Add(tc.due)}); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(time.Hour)
	n, err := q.DispatchDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("dispatched = %d, want 2", n)
	}
	if len(ran) != 2 || ran[0] != "early" || ran[1] != "middle" {
		t.Errorf("ran = %v, want [early middle]", ran)
	}
	if _, err := q.Get(ctx, "early"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("completed task still present: %v", err)
	}
	if p, _ := q.Pending(ctx); p != 1 {
		t.Errorf("Pending() = %d, want 1", p)
	}
}

func TestQueue_FailedHandlerIsPostponed(t *testing.T) {
	q, clock := newTestQueue(t, nil)
	ctx := context.Background()

	fail := true
	calls := 0
	q.RegisterHandler("flaky", func(context.Context, *Task) error {
		calls++
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	if _, err := q.Schedule(ctx, Task{ID: "f1", Kind: "flaky", DueAt: clock.Now()}); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.DispatchDue(ctx); n != 0 {
		t.Errorf("dispatched = %d, want 0 on failure", n)
	}

	task, err := q.Get(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}
	if want := clock.Now().Add(q.config.RetryDelay); !task.DueAt.Equal(want) {
		t.Errorf("DueAt = %v, want %v", task.DueAt, want)
	}

	// Not yet due again.
	if n, _ := q.DispatchDue(ctx); n != 0 || calls != 1 {
		t.Errorf("dispatched = %d, calls = %d before retry delay", n, calls)
	}

	fail = false
	clock.Advance(q.config.RetryDelay)
	if n, _ := q.DispatchDue(ctx); n != 1 {
		t.Errorf("dispatched = %d, want 1 after retry delay", n)
	}
	if p, _ := q.Pending(ctx); p != 0 {
		t.Errorf("Pending() = %d, want 0", p)
	}
}

func TestQueue_UnknownKind(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	err := q.Run(context.Background(), &Task{ID: "x", Kind: "missing"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Run() error = %v, want ErrUnknownKind", err)
	}
}

func TestQueue_DispatchThroughBus(t *testing.T) {
	bus := eventprocessor.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	q, clock := newTestQueue(t, bus.Publisher())
	ctx := context.Background()

	got := make(chan string, 1)
	q.RegisterHandler("escalation", func(_ context.Context, task *Task) error {
		got <- string(task.Payload)
		return nil
	})

	router, err := bus.NewRouter()
	if err != nil {
		t.Fatal(err)
	}
	sub, err := bus.Subscriber("taskqueue")
	if err != nil {
		t.Fatal(err)
	}
	q.Attach(router, sub)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = router.Run(runCtx) }()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() { _ = router.Close() })

	payload := []byte(`{"alert_id":"a1","level":1}`)
	if _, err := q.Schedule(ctx, Task{ID: "escalation:a1:1", Kind: "escalation", DueAt: clock.Now(), Payload: payload}); err != nil {
		t.Fatal(err)
	}
	if n, err := q.DispatchDue(ctx); err != nil || n != 1 {
		t.Fatalf("DispatchDue() = %d, %v", n, err)
	}

	select {
	case p := <-got:
		if p != string(payload) {
			t.Errorf("payload = %s, want %s", p, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task handler was not called")
	}
	if p, _ := q.Pending(ctx); p != 0 {
		t.Errorf("Pending() = %d, want 0 after publish", p)
	}
}

func TestQueue_StartStop(t *testing.T) {
	q, clock := newTestQueue(t, nil)
	ctx := context.Background()

	done := make(chan struct{})
	q.RegisterHandler("noop", func(context.Context, *Task) error {
		close(done)
		return nil
	})
	if _, err := q.Schedule(ctx, Task{ID: "s1", Kind: "noop", DueAt: clock.Now()}); err != nil {
		t.Fatal(err)
	}

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Start(ctx); err == nil {
		t.Error("second Start() expected error")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not run the due task")
	}
	q.Stop()
	if q.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero retry delay", func(c *Config) { c.RetryDelay = 0 }, true},
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
