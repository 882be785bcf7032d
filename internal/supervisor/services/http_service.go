// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPShutdownTimeout = 10 * time.Second

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs the admin API under supervision. Each Serve call
// binds a fresh listener, so a bind failure is reported to the supervisor
// and retried with its backoff instead of killing the process.
type HTTPServerService struct {
	addr            string
	server          HTTPServer
	shutdownTimeout time.Duration

	mu    sync.Mutex
	bound net.Addr
}

// NewHTTPServerService serves server on addr. A non-positive
// shutdownTimeout means 10s.
func NewHTTPServerService(addr string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultHTTPShutdownTimeout
	}
	return &HTTPServerService{addr: addr, server: server, shutdownTimeout: shutdownTimeout}
}

// Serve accepts connections until ctx is canceled, then drains in-flight
// requests for at most the shutdown timeout.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.setBound(ln.Addr())
	defer h.setBound(nil)

	done := make(chan error, 1)
	go func() {
		// Serve closes ln when it returns.
		done <- h.server.Serve(ln)
	}()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server on %s: %w", h.addr, err)

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-done
		return ctx.Err()
	}
}

// Addr returns the bound address while serving, or nil.
func (h *HTTPServerService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

func (h *HTTPServerService) setBound(a net.Addr) {
	h.mu.Lock()
	h.bound = a
	h.mu.Unlock()
}

// String implements fmt.Stringer.
func (h *HTTPServerService) String() string {
	return "http-server"
}
