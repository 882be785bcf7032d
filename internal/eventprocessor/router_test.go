// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"
)

func startRouter(t *testing.T, r *Router) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
	})
	return cancel
}

func TestRouter_DeliversToHandler(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	r, err := bus.NewRouter()
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	sub, err := bus.Subscriber("test")
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 1)
	r.AddConsumerHandler("signals", TopicSignals, sub, func(msg *message.Message) error {
		got <- msg.Metadata.Get(MetaKind)
		return nil
	})
	startRouter(t, r)

	err = bus.Publisher().PublishJSON(context.Background(), TopicSignals, "", map[string]string{"k": "v"},
		map[string]string{MetaKind: "login_failed"})
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case kind := <-got:
		if kind != "login_failed" {
			t.Errorf("kind = %q, want login_failed", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestRouter_PoisonQueueAfterRetries(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	bus.config.Router.RetryMaxRetries = 2
	bus.config.Router.RetryInitialInterval = time.Millisecond
	bus.config.Router.RetryMaxInterval = 5 * time.Millisecond

	r, err := bus.NewRouter()
	if err != nil {
		t.Fatal(err)
	}
	sub, err := bus.Subscriber("test")
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	r.AddConsumerHandler("failing", TopicTasks, sub, func(msg *message.Message) error {
		calls.Add(1)
		return errors.New("boom")
	})

	poisoned, err := sub.Subscribe(context.Background(), TopicPoison)
	if err != nil {
		t.Fatal(err)
	}
	startRouter(t, r)

	if err := bus.Publisher().PublishJSON(context.Background(), TopicTasks, "task-1", "payload", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
		if msg.UUID != "task-1" {
			t.Errorf("poisoned UUID = %q, want task-1", msg.UUID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the poison queue")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("handler calls = %d, want 3 (1 + 2 retries)", n)
	}
}

func TestPublisher_ClosedAndBreaker(t *testing.T) {
	bus := NewMemoryBus()
	pub := bus.Publisher()
	if err := bus.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := pub.PublishJSON(context.Background(), TopicAlerts, "", 1, nil)
	if !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("error = %v, want ErrPublisherClosed", err)
	}

	if _, err := NewPublisher(nil, nil); !errors.Is(err, ErrNilPublisher) {
		t.Errorf("NewPublisher(nil) error = %v", err)
	}

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 2, Timeout: time.Minute})
	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("down") })
	}
	if state := CircuitBreakerState(cb); state != gobreaker.StateOpen.String() {
		t.Errorf("state = %s, want open", state)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "kafka" }, true},
		{"nats defaults", func(c *Config) { c.Backend = BackendNATS }, false},
		{"nats external without url", func(c *Config) {
			c.Backend = BackendNATS
			c.NATS.Embedded = false
			c.NATS.URL = ""
		}, true},
		{"nats zero subscribers", func(c *Config) {
			c.Backend = BackendNATS
			c.NATS.SubscribersCount = 0
		}, true},
		{"retry multiplier below one", func(c *Config) { c.Router.RetryMultiplier = 0.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestNATSConfig_Derived(t *testing.T) {
	cfg := DefaultNATSConfig()
	sc := cfg.SubscriberConfig("nats://x:4222", "tasks")
	if sc.StreamName != cfg.StreamName || sc.DurableName != "tasks" {
		t.Errorf("subscriber config = %+v", sc)
	}
	stream := cfg.StreamConfig()
	if len(stream.Subjects) != 1 || stream.Subjects[0] != "vigil.>" {
		t.Errorf("stream subjects = %v", stream.Subjects)
	}
	if NotificationTopic("sms") != "vigil.notify.sms" {
		t.Errorf("NotificationTopic = %s", NotificationTopic("sms"))
	}
}
