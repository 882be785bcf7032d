// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

var (
	// ErrNotFound is returned by Txn.Get when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrStopScan stops a scan early without reporting an error.
	ErrStopScan = errors.New("stop scan")
)

// Config holds store configuration.
type Config struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps all data in memory. Used by tests and ephemeral nodes.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy block compression.
	Compression bool `koanf:"compression"`

	// MaxConflictRetries bounds how often a conflicting transaction is re-run.
	MaxConflictRetries int `koanf:"max_conflict_retries"`

	// RetryBaseDelay is the first backoff delay after a conflict. It doubles per attempt.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// GCInterval is the value log GC interval.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio float64 `koanf:"gc_ratio"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:               "/data/vigil",
		SyncWrites:         true,
		Compression:        true,
		MaxConflictRetries: 32,
		RetryBaseDelay:     2 * time.Millisecond,
		GCInterval:         10 * time.Minute,
		GCRatio:            0.5,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("path is required unless in_memory is set")
	}
	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("max_conflict_retries must be at least 1")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry_base_delay must be positive")
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return fmt.Errorf("gc_ratio must be between 0 and 1 exclusive")
	}
	return nil
}

// Store is a transactional key/document store backed by BadgerDB.
type Store struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")

	return &Store{db: db, config: cfg}, nil
}

// OpenInMemory opens an ephemeral in-memory store with default tuning.
func OpenInMemory() (*Store, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Path = ""
	return Open(cfg)
}

// Close closes the underlying database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	return nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.config
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// transient marks a storage engine failure as retryable by the caller.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrTransientStore, op, err)
}

// Update runs fn inside a read-write transaction and commits it.
//
// When the commit conflicts with a concurrent writer the whole closure is
// re-run against a fresh snapshot, up to MaxConflictRetries times. fn must
// therefore be free of side effects outside the transaction.
func (s *Store) Update(ctx context.Context, fn func(txn *Txn) error) error {
	start := time.Now()
	err := s.update(ctx, fn)
	metrics.RecordStoreTxn("update", time.Since(start), transientOnly(err))
	return err
}

func (s *Store) update(ctx context.Context, fn func(txn *Txn) error) error {
	for attempt := 0; ; attempt++ {
		if s.isClosed() {
			return transient("update", ErrClosed)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		retry, err := s.attempt(ctx, fn)
		if !retry {
			return err
		}

		metrics.StoreTxnConflicts.Inc()
		if attempt+1 >= s.config.MaxConflictRetries {
			return transient("update", fmt.Errorf("gave up after %d conflicts: %w", attempt+1, err))
		}
		if err := s.backoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// attempt runs fn once. retry is true only when the commit lost a race.
func (s *Store) attempt(ctx context.Context, fn func(txn *Txn) error) (retry bool, err error) {
	defer func() {
		// Badger panics on use after Close; surface that as a transient failure.
		if r := recover(); r != nil {
			retry = false
			err = transient("update", fmt.Errorf("%v", r))
		}
	}()

	btxn := s.db.NewTransaction(true)
	defer btxn.Discard()

	if err := fn(&Txn{txn: btxn, ctx: ctx}); err != nil {
		return false, err
	}
	if err := btxn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return true, err
		}
		return false, transient("commit", err)
	}
	return false, nil
}

func (s *Store) backoff(ctx context.Context, attempt int) error {
	delay := s.config.RetryBaseDelay << min(attempt, 8)
	// Full jitter spreads out writers that collided on the same key.
	delay = time.Duration(rand.Int64N(int64(delay)) + 1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(txn *Txn) error) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreTxn("view", time.Since(start), transientOnly(err))
	}()

	if s.isClosed() {
		return transient("view", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = transient("view", fmt.Errorf("%v", r))
		}
	}()

	btxn := s.db.NewTransaction(false)
	defer btxn.Discard()
	return fn(&Txn{txn: btxn, ctx: ctx})
}

// ScanPrefix calls fn for every key with the given prefix in key order,
// inside a single read-only snapshot.
func (s *Store) ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return s.View(ctx, func(txn *Txn) error {
		return txn.Scan(prefix, fn)
	})
}

// CountPrefix returns the number of keys with the given prefix.
func (s *Store) CountPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.View(ctx, func(txn *Txn) error {
		var err error
		n, err = txn.Count(prefix)
		return err
	})
	return n, err
}

// Ping verifies the store can serve reads.
func (s *Store) Ping(ctx context.Context) error {
	return s.View(ctx, func(txn *Txn) error {
		_, err := txn.Exists(healthKey)
		return err
	})
}

// RunGC runs value log garbage collection until nothing is left to rewrite.
// It is a no-op for in-memory stores.
func (s *Store) RunGC() error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.config.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// transientOnly filters domain errors out of store failure metrics.
func transientOnly(err error) error {
	if models.IsTransient(err) {
		return err
	}
	return nil
}
