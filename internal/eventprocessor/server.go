// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const (
	embeddedServerName = "vigil"
	embeddedMaxPayload = 4 << 20
	embeddedReadyWait  = 30 * time.Second
)

// EmbeddedServer is a single-node nats-server with JetStream running inside
// the Vigil process.
type EmbeddedServer struct {
	ns  *server.Server
	cfg ServerConfig
}

func (c ServerConfig) options() *server.Options {
	return &server.Options{
		ServerName:         embeddedServerName,
		Host:               c.Host,
		Port:               c.Port,
		JetStream:          true,
		StoreDir:           c.StoreDir,
		JetStreamMaxMemory: c.JetStreamMaxMem,
		JetStreamMaxStore:  c.JetStreamMaxStore,
		MaxPayload:         embeddedMaxPayload,
		NoLog:              true,
		NoSigs:             true,
	}
}

// StartEmbeddedServer starts the server and waits until it accepts clients.
func StartEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	ns, err := server.NewServer(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("configure embedded NATS: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyWait) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS on %s:%d not ready after %s", cfg.Host, cfg.Port, embeddedReadyWait)
	}
	if !ns.JetStreamEnabled() {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS started without JetStream (store %s)", cfg.StoreDir)
	}
	return &EmbeddedServer{ns: ns, cfg: cfg}, nil
}

// ClientURL is the URL local clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Healthy reports whether the server is running with JetStream.
func (s *EmbeddedServer) Healthy() error {
	switch {
	case !s.ns.Running():
		return fmt.Errorf("embedded NATS is not running")
	case !s.ns.JetStreamEnabled():
		return fmt.Errorf("embedded NATS lost JetStream")
	}
	return nil
}

// Shutdown stops the server. The wait for its goroutines is abandoned when
// ctx ends first.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.ns.Shutdown()
	done := make(chan struct{})
	go func() {
		s.ns.WaitForShutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
