// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/store"
)

// StoreBackend keeps window records in the transactional store.
type StoreBackend struct {
	store *store.Store
}

// NewStoreBackend creates a store backed window record backend.
func NewStoreBackend(s *store.Store) *StoreBackend {
	return &StoreBackend{store: s}
}

// Increment implements Backend. Records carrying a bypass override are
// written without expiry.
func (b *StoreBackend) Increment(ctx context.Context, rec models.RateLimitRecord, window, retain time.Duration) (*models.RateLimitRecord, error) {
	var out models.RateLimitRecord
	err := b.store.Update(ctx, func(txn *store.Txn) error {
		var cur models.RateLimitRecord
		err := txn.Get(store.RateLimitKey(rec.Key), &cur)
		switch {
		case errors.Is(err, store.ErrNotFound):
			cur = rec
		case err != nil:
			return err
		case !cur.WindowStart.Equal(rec.WindowStart):
			// Rollover resets the count; the bypass override survives.
			cur.WindowStart = rec.WindowStart
			cur.Count = 0
		}
		cur.Count++
		out = cur
		if cur.Bypass {
			return txn.Set(store.RateLimitKey(rec.Key), &cur)
		}
		return txn.SetWithTTL(store.RateLimitKey(rec.Key), &cur, window+retain)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetBypass implements Backend.
func (b *StoreBackend) SetBypass(ctx context.Context, rec models.RateLimitRecord, bypass bool) error {
	return b.store.Update(ctx, func(txn *store.Txn) error {
		var cur models.RateLimitRecord
		err := txn.Get(store.RateLimitKey(rec.Key), &cur)
		if errors.Is(err, store.ErrNotFound) {
			cur = rec
		} else if err != nil {
			return err
		}
		cur.Bypass = bypass
		// Overrides are kept until cleared.
		return txn.Set(store.RateLimitKey(rec.Key), &cur)
	})
}

// Cleanup implements Backend. Records carrying a bypass override are kept.
func (b *StoreBackend) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []string
	err := b.store.ScanPrefix(ctx, store.PrefixRateLimit, func(key string, val []byte) error {
		var rec models.RateLimitRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !rec.Bypass && rec.WindowStart.Before(cutoff) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = b.store.Update(ctx, func(txn *store.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Stats implements Backend.
func (b *StoreBackend) Stats(ctx context.Context, windowStart time.Time, limitFor func(models.AlertType) int64) (models.RateLimitStats, error) {
	var stats models.RateLimitStats
	err := b.store.ScanPrefix(ctx, store.PrefixRateLimit, func(key string, val []byte) error {
		var rec models.RateLimitRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !rec.WindowStart.Equal(windowStart) {
			return nil
		}
		stats.ActiveWindows++
		stats.TotalCounted += rec.Count
		if !rec.Bypass && rec.Count > limitFor(rec.Type) {
			stats.LimitedKeys++
		}
		return nil
	})
	return stats, err
}
