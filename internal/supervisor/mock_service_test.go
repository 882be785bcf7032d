// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package supervisor

import (
	"context"
	"errors"
	"sync"
)

var errScripted = errors.New("scripted failure")

// MockService stands in for a Vigil component. Each Serve call takes the
// next scripted outcome; with none left it runs until canceled.
type MockService struct {
	name string

	mu      sync.Mutex
	script  []error
	sticky  error
	starts  int32
	returns int32
}

func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// SetFailCount scripts n failing runs before the service stays up.
func (m *MockService) SetFailCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.script = append(m.script, errScripted)
	}
}

// SetError makes every run return err at once.
func (m *MockService) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sticky = err
}

func (m *MockService) Serve(ctx context.Context) error {
	m.mu.Lock()
	m.starts++
	var outcome error
	switch {
	case len(m.script) > 0:
		outcome, m.script = m.script[0], m.script[1:]
	case m.sticky != nil:
		outcome = m.sticky
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.returns++
		m.mu.Unlock()
	}()
	if outcome != nil {
		return outcome
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockService) StartCount() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockService) StopCount() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.returns
}

func (m *MockService) String() string { return m.name }
