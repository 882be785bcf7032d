// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/store"
)

// Window streams. One stream per counted behavior.
const (
	streamLoginFailures  = "login_failures"
	streamPayments       = "payments"
	streamPaymentFailure = "payment_failures"
	streamPaymentCards   = "payment_cards"
	streamAccounts       = "accounts"
	streamAPIRequests    = "api_requests"
	streamInjections     = "injections"
	streamSessions       = "sessions"
	streamPromo          = "promo"
)

// WindowEvent is one event recorded in a sliding window stream.
type WindowEvent struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Value  string    `json:"value,omitempty"`
	Amount float64   `json:"amount,omitempty"`
}

// WindowCounter keeps sliding-window event streams in the store. Events are
// keyed by time and id, so replaying an event overwrites it, and expire with
// their TTL.
type WindowCounter struct {
	store *store.Store
}

// NewWindowCounter creates a window counter over s.
func NewWindowCounter(s *store.Store) *WindowCounter {
	return &WindowCounter{store: s}
}

// Record stores ev in stream for subject with the given retention.
func (w *WindowCounter) Record(ctx context.Context, stream, subject string, ev WindowEvent, ttl time.Duration) error {
	if ev.ID == "" {
		return fmt.Errorf("window event without id")
	}
	key := store.WindowEventKey(stream, subject, ev.At, ev.ID)
	return w.store.Update(ctx, func(txn *store.Txn) error {
		return txn.SetWithTTL(key, &ev, ttl)
	})
}

// Events returns the events of stream for subject with since <= At <= until,
// oldest first.
func (w *WindowCounter) Events(ctx context.Context, stream, subject string, since, until time.Time) ([]WindowEvent, error) {
	prefix := store.WindowStreamPrefix(stream, subject)
	start := prefix + store.TimeSegment(since)
	var events []WindowEvent
	err := w.store.View(ctx, func(txn *store.Txn) error {
		return txn.ScanFrom(prefix, start, func(key string, val []byte) error {
			var ev WindowEvent
			if err := json.Unmarshal(val, &ev); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if ev.At.After(until) {
				return store.ErrStopScan
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events of stream for subject in [since, until].
func (w *WindowCounter) Count(ctx context.Context, stream, subject string, since, until time.Time) (int, error) {
	events, err := w.Events(ctx, stream, subject, since, until)
	return len(events), err
}

// Distinct returns the number of distinct non-empty values in [since, until].
func (w *WindowCounter) Distinct(ctx context.Context, stream, subject string, since, until time.Time) (int, error) {
	events, err := w.Events(ctx, stream, subject, since, until)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.Value != "" {
			seen[ev.Value] = struct{}{}
		}
	}
	return len(seen), nil
}

// updateProfile reads and rewrites one profile document in a single transaction.
// fn receives nil when no profile exists yet and returns the document to store.
func updateProfile[T any](ctx context.Context, s *store.Store, kind, subject string, fn func(current *T) (*T, error)) error {
	key := store.ProfileKey(kind, subject)
	return s.Update(ctx, func(txn *store.Txn) error {
		var current T
		err := txn.Get(key, &current)
		var next *T
		switch {
		case errors.Is(err, store.ErrNotFound):
			next, err = fn(nil)
		case err != nil:
			return err
		default:
			next, err = fn(&current)
		}
		if err != nil || next == nil {
			return err
		}
		return txn.Set(key, next)
	})
}
