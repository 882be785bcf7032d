// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds the restart policy shared by every layer.
type TreeConfig struct {
	// FailureThreshold is the number of failures before a layer backs off.
	FailureThreshold float64 `koanf:"failure_threshold"`

	// FailureDecay is the half-life of the failure count in seconds.
	FailureDecay float64 `koanf:"failure_decay"`

	// FailureBackoff is how long a layer waits once the threshold is hit.
	FailureBackoff time.Duration `koanf:"failure_backoff"`

	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Validate rejects negative settings. Zero values fall back to the defaults.
func (c TreeConfig) Validate() error {
	if c.FailureThreshold < 0 || c.FailureDecay < 0 {
		return errors.New("failure_threshold and failure_decay must not be negative")
	}
	if c.FailureBackoff < 0 || c.ShutdownTimeout < 0 {
		return errors.New("failure_backoff and shutdown_timeout must not be negative")
	}
	return nil
}

func (c TreeConfig) withDefaults() TreeConfig {
	d := DefaultTreeConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = d.FailureDecay
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

func (c TreeConfig) spec() suture.Spec {
	return suture.Spec{
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// Layer selects the child supervisor a service runs under.
type Layer int

// Layers in start order. The root stops them in reverse, so the admin API
// stops accepting requests before the consumers and stores go away.
const (
	LayerData Layer = iota
	LayerMessaging
	LayerAPI
)

var layerNames = [...]string{"data-layer", "messaging-layer", "api-layer"}

func (l Layer) String() string {
	if l < 0 || int(l) >= len(layerNames) {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// SupervisorTree runs Vigil's long-lived components in three layers:
//
//   - data: Badger value-log GC, audit flusher, maintenance loop
//   - messaging: Watermill router, task dispatcher, WebSocket hub
//   - api: HTTP server
//
// A component that keeps failing is backed off inside its own layer.
type SupervisorTree struct {
	root   *suture.Supervisor
	layers [len(layerNames)]*suture.Supervisor
	logger *slog.Logger
	config TreeConfig

	mu       sync.Mutex
	services map[Layer][]string
}

// NewSupervisorTree builds the root and the layer supervisors. Lifecycle
// events are logged through sutureslog on logger.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor config: %w", err)
	}
	config = config.withDefaults()

	// MustHook has a pointer receiver.
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	rootSpec := config.spec()
	rootSpec.EventHook = hook

	t := &SupervisorTree{
		root:     suture.New("vigil", rootSpec),
		logger:   logger,
		config:   config,
		services: make(map[Layer][]string),
	}
	// Children inherit the EventHook when added to the root.
	for i, name := range layerNames {
		t.layers[i] = suture.New(name, config.spec())
		t.root.Add(t.layers[i])
	}
	return t, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// Add runs svc under the given layer.
func (t *SupervisorTree) Add(layer Layer, svc suture.Service) suture.ServiceToken {
	t.mu.Lock()
	t.services[layer] = append(t.services[layer], serviceName(svc))
	t.mu.Unlock()
	return t.layers[layer].Add(svc)
}

// AddDataService runs svc in the data layer.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.Add(LayerData, svc)
}

// AddMessagingService runs svc in the messaging layer.
func (t *SupervisorTree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.Add(LayerMessaging, svc)
}

// AddAPIService runs svc in the API layer.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.Add(LayerAPI, svc)
}

// RemoveMessagingService stops and removes a messaging service.
func (t *SupervisorTree) RemoveMessagingService(token suture.ServiceToken) error {
	return t.layers[LayerMessaging].Remove(token)
}

// Services returns the names added to layer, sorted.
func (t *SupervisorTree) Services(layer Layer) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.services[layer]...)
	sort.Strings(out)
	return out
}

// Serve runs the tree until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a goroutine. The channel receives the
// tree's result and is then closed.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	inner := t.root.ServeBackground(ctx)
	go func() {
		defer close(out)
		out <- <-inner
	}()
	return out
}

// Run serves the tree until ctx is canceled or the root gives up, then
// logs services that missed the shutdown timeout. Cancellation is not an
// error.
func (t *SupervisorTree) Run(ctx context.Context) error {
	for i, name := range layerNames {
		t.logger.Info("starting layer", "layer", name, "services", t.Services(Layer(i)))
	}

	err := <-t.ServeBackground(ctx)

	if unstopped, rerr := t.UnstoppedServiceReport(); rerr == nil {
		for _, svc := range unstopped {
			t.logger.Warn("service did not stop within the shutdown timeout",
				"service", svc.Name, "timeout", t.config.ShutdownTimeout)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// UnstoppedServiceReport lists services that did not stop within the
// shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

func serviceName(svc suture.Service) string {
	if s, ok := svc.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", svc)
}
