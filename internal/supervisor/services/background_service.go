// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"
	"fmt"
)

// StartStopper matches components that own a background goroutine.
//
// Satisfied by:
//   - *taskqueue.Queue (due-task dispatcher)
//   - *store.GarbageCollector (Badger value-log GC)
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// BackgroundService adapts Start/Stop to suture's Serve:
//  1. Start(ctx) spawns the component's goroutine
//  2. Serve blocks until ctx is canceled
//  3. Stop waits for the goroutine to exit
type BackgroundService struct {
	component StartStopper
	name      string
}

// NewBackgroundService wraps component under name.
func NewBackgroundService(name string, component StartStopper) *BackgroundService {
	return &BackgroundService{component: component, name: name}
}

// NewTaskDispatcherService supervises the deferred task dispatcher.
func NewTaskDispatcherService(queue StartStopper) *BackgroundService {
	return NewBackgroundService("task-dispatcher", queue)
}

// NewStoreGCService supervises the Badger value-log garbage collector.
func NewStoreGCService(gc StartStopper) *BackgroundService {
	return NewBackgroundService("store-gc", gc)
}

// Serve implements suture.Service. A failed Start is returned so suture
// applies its backoff.
func (s *BackgroundService) Serve(ctx context.Context) error {
	if s.component.IsRunning() {
		// Left over from a previous Serve that did not reach Stop.
		s.component.Stop()
	}
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()
	s.component.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *BackgroundService) String() string {
	return s.name
}
