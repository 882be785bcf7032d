// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package authz

import (
	"sync"
	"time"
)

// decisionCache memoizes enforcement results for ttl.
type decisionCache struct {
	ttl      time.Duration
	mu       sync.RWMutex
	items    map[string]decision
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type decision struct {
	allowed   bool
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	c := &decisionCache{
		ttl:    ttl,
		items:  make(map[string]decision),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	go c.sweep()
	return c
}

func cacheKey(sub, obj, act string) string {
	return sub + "\x00" + obj + "\x00" + act
}

func (c *decisionCache) get(sub, obj, act string) (allowed, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, found := c.items[cacheKey(sub, obj, act)]
	if !found || c.now().After(d.expiresAt) {
		return false, false
	}
	return d.allowed, true
}

func (c *decisionCache) set(sub, obj, act string, allowed bool) {
	c.mu.Lock()
	c.items[cacheKey(sub, obj, act)] = decision{allowed: allowed, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	c.items = make(map[string]decision)
	c.mu.Unlock()
}

func (c *decisionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// sweep drops expired decisions every ttl.
func (c *decisionCache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, d := range c.items {
				if now.After(d.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *decisionCache) stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
