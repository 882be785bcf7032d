// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
)

// GarbageCollector periodically reclaims Badger value log space.
type GarbageCollector struct {
	store    *Store
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// NewGarbageCollector creates a collector running at the store's GC interval.
func NewGarbageCollector(s *Store) *GarbageCollector {
	interval := s.config.GCInterval
	if interval <= 0 {
		interval = DefaultConfig().GCInterval
	}
	return &GarbageCollector{store: s, interval: interval}
}

// Start begins the background GC loop.
func (g *GarbageCollector) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.run()

	logging.Info().Dur("interval", g.interval).Msg("Store garbage collector started")
	return nil
}

// Stop stops the GC loop and waits for it to exit.
func (g *GarbageCollector) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.cancel()
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
	logging.Info().Msg("Store garbage collector stopped")
}

// IsRunning returns whether the collector is active.
func (g *GarbageCollector) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// LastRun returns the time of the last completed GC pass.
func (g *GarbageCollector) LastRun() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRun
}

func (g *GarbageCollector) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.collect()
		}
	}
}

func (g *GarbageCollector) collect() {
	start := time.Now()
	if err := g.store.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Store GC failed")
		return
	}

	g.mu.Lock()
	g.lastRun = time.Now()
	g.mu.Unlock()

	logging.Debug().Dur("duration", time.Since(start)).Msg("Store GC pass complete")
}
