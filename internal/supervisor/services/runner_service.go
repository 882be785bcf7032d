// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"
	"errors"
	"fmt"
)

// RunFunc blocks until ctx is canceled or the component fails.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a component whose run loop already honors a
// context, such as websocket.Hub.RunWithContext or the Watermill router.
type RunnerService struct {
	run  RunFunc
	name string
}

// NewRunnerService wraps run under name.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{run: run, name: name}
}

// NewWebSocketHubService supervises the live alert hub.
func NewWebSocketHubService(run RunFunc) *RunnerService {
	return NewRunnerService("websocket-hub", run)
}

// NewEventRouterService supervises the Watermill router.
func NewEventRouterService(run RunFunc) *RunnerService {
	return NewRunnerService("event-router", run)
}

// Serve runs the component. A run loop that returns nil while ctx is still
// live is treated as a failure so the supervisor restarts it.
func (r *RunnerService) Serve(ctx context.Context) error {
	err := r.run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return fmt.Errorf("%s: %w", r.name, errStoppedEarly)
	}
	return fmt.Errorf("%s: %w", r.name, err)
}

// String implements fmt.Stringer.
func (r *RunnerService) String() string {
	return r.name
}

var errStoppedEarly = errors.New("run loop returned before shutdown")
