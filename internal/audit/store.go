// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultMemoryCapacity = 10000

// MemoryStore keeps the most recent events in a fixed ring. A full ring
// overwrites its oldest event. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []Event
	start int // index of the oldest event
	n     int
}

// NewMemoryStore returns a ring holding capacity events; capacity <= 0 means
// 10000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]Event, capacity)}
}

// at returns the i-th oldest event. Caller holds mu.
func (s *MemoryStore) at(i int) *Event {
	return &s.ring[(s.start+i)%len(s.ring)]
}

// Save appends event.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n < len(s.ring) {
		*s.at(s.n) = *event
		s.n++
		return nil
	}
	s.ring[s.start] = *event
	s.start = (s.start + 1) % len(s.ring)
	return nil
}

// Get returns the event with id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := s.n - 1; i >= 0; i-- {
		if e := s.at(i); e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	skip := filter.Offset
	for i := s.n - 1; i >= 0; i-- {
		e := s.at(i)
		if !filter.matches(e) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, *e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of matching events.
func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := 0; i < s.n; i++ {
		if filter.matches(s.at(i)) {
			n++
		}
	}
	return n, nil
}

// Delete drops events older than olderThan and compacts the ring.
func (s *MemoryStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Event, len(s.ring))
	k := 0
	for i := 0; i < s.n; i++ {
		if e := s.at(i); !e.Timestamp.Before(olderThan) {
			kept[k] = *e
			k++
		}
	}
	deleted := int64(s.n - k)
	s.ring, s.start, s.n = kept, 0, k
	return deleted, nil
}

// Len returns the number of events held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

func (f *QueryFilter) matches(e *Event) bool {
	switch {
	case len(f.Types) > 0 && !contains(f.Types, e.Type),
		len(f.Severities) > 0 && !contains(f.Severities, e.Severity),
		len(f.Outcomes) > 0 && !contains(f.Outcomes, e.Outcome):
		return false
	case f.ActorID != "" && e.Actor.ID != f.ActorID,
		f.SourceIP != "" && e.Source.IPAddress != f.SourceIP,
		f.CorrelationID != "" && e.CorrelationID != f.CorrelationID,
		f.RequestID != "" && e.RequestID != f.RequestID:
		return false
	case f.TargetID != "" && (e.Target == nil || e.Target.ID != f.TargetID),
		f.TargetType != "" && (e.Target == nil || e.Target.Type != f.TargetType):
		return false
	case f.StartTime != nil && e.Timestamp.Before(*f.StartTime),
		f.EndTime != nil && e.Timestamp.After(*f.EndTime):
		return false
	}
	if f.SearchText == "" {
		return true
	}
	q := strings.ToLower(f.SearchText)
	return strings.Contains(strings.ToLower(e.Description), q) ||
		strings.Contains(strings.ToLower(e.Action), q)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
