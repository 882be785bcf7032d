// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/vigil/internal/logging"
)

func TestBus_MemoryPing(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close(context.Background())

	if err := bus.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}
}

func TestBus_EmbeddedNATS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendNATS
	cfg.NATS.Embedded = true
	cfg.NATS.Port = -1 // random
	cfg.NATS.StoreDir = t.TempDir()
	cfg.NATS.MaxMemory = 16 << 20
	cfg.NATS.MaxStore = 64 << 20

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	bus, err := NewBus(ctx, cfg)
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	if err := bus.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}

	// The stream captures every vigil subject, so a JetStream publish is acked.
	err = bus.Publisher().PublishJSON(ctx, TopicSignals, "sig-1", map[string]string{"ip": "10.0.0.1"},
		map[string]string{MetaKind: "login_failed"})
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	// A second EnsureStream against the live stream is an update, not an error.
	if err := EnsureStream(ctx, bus.control, cfg.NATS.StreamConfig()); err != nil {
		t.Errorf("EnsureStream() on existing stream = %v", err)
	}

	if err := bus.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.server.Healthy(); err == nil {
		t.Error("Healthy() = nil after Close")
	}
	if err := bus.Close(ctx); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestConnOptions(t *testing.T) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	opts := natsgo.GetDefaultOptions()
	for _, o := range connOptions("control", 7, 3*time.Second, logger) {
		if err := o(&opts); err != nil {
			t.Fatalf("option error = %v", err)
		}
	}

	if opts.Name != "vigil-control" {
		t.Errorf("Name = %q, want vigil-control", opts.Name)
	}
	if opts.MaxReconnect != 7 || opts.ReconnectWait != 3*time.Second {
		t.Errorf("reconnect = %d/%s, want 7/3s", opts.MaxReconnect, opts.ReconnectWait)
	}
	if !opts.RetryOnFailedConnect {
		t.Error("RetryOnFailedConnect = false")
	}
	if opts.DisconnectedErrCB == nil || opts.ReconnectedCB == nil || opts.ClosedCB == nil {
		t.Error("connection handlers not installed")
	}
}
