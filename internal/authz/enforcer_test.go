// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package authz

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestEnforcer(t *testing.T, cfg Config) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(cfg)
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEmbeddedPolicy(t *testing.T) {
	e := newTestEnforcer(t, DefaultConfig())

	tests := []struct {
		role     string
		resource string
		action   string
		want     bool
	}{
		{"viewer", ResourceAlerts, ActionRead, true},
		{"viewer", ResourceStream, ActionRead, true},
		{"viewer", ResourceAlerts, ActionWrite, false},
		{"viewer", ResourceAudit, ActionRead, false},
		{"analyst", ResourceAlerts, ActionWrite, true},
		{"analyst", ResourceStats, ActionRead, true},
		{"analyst", ResourceAlertActions, ActionWrite, false},
		{"analyst", ResourceMaintenance, ActionWrite, false},
		{"admin", ResourceAlertActions, ActionWrite, true},
		{"admin", ResourceMaintenance, ActionWrite, true},
		{"admin", ResourceAudit, ActionRead, true},
		{"admin", ResourceEntities, ActionRead, true},
		{"admin", ResourceSignals, ActionWrite, false},
		{"service", ResourceSignals, ActionWrite, true},
		{"service", ResourceAlerts, ActionWrite, true},
		{"service", ResourceAlerts, ActionRead, false},
		{"stranger", ResourceAlerts, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.resource+"/"+tt.action, func(t *testing.T) {
			got, err := e.EnforceWithRole("", tt.role, tt.resource, tt.action)
			if err != nil {
				t.Fatalf("EnforceWithRole: %v", err)
			}
			if got != tt.want {
				t.Errorf("EnforceWithRole(%s, %s, %s) = %v, want %v", tt.role, tt.resource, tt.action, got, tt.want)
			}
		})
	}
}

func TestPolicyFileSubjectGrant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	policy := embeddedPolicy + "\ng, oncall@example.com, admin\n"
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}

	e := newTestEnforcer(t, Config{PolicyPath: path})

	ok, err := e.EnforceWithRole("oncall@example.com", "viewer", ResourceMaintenance, ActionWrite)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("subject grant should allow maintenance")
	}

	ok, err = e.EnforceWithRole("someone@example.com", "viewer", ResourceMaintenance, ActionWrite)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("viewer without grant should be denied")
	}

	roles, err := e.RolesFor("oncall@example.com")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"admin": true, "analyst": true, "viewer": true}
	for _, r := range roles {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Errorf("RolesFor missing %v, got %v", want, roles)
	}
}

func TestReload(t *testing.T) {
	e := newTestEnforcer(t, DefaultConfig())
	if err := e.Reload(); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("Reload on embedded policy = %v, want ErrNoAdapter", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(path, []byte("p, viewer, alerts, read\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	fe := newTestEnforcer(t, Config{PolicyPath: path, CacheTTL: time.Hour})

	if ok, _ := fe.EnforceWithRole("", "viewer", ResourceStats, ActionRead); ok {
		t.Fatal("stats should be denied before reload")
	}
	if err := os.WriteFile(path, []byte("p, viewer, alerts, read\np, viewer, stats, read\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := fe.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if ok, _ := fe.EnforceWithRole("", "viewer", ResourceStats, ActionRead); !ok {
		t.Error("stats should be allowed after reload")
	}
}

func TestLoadPolicyMalformed(t *testing.T) {
	e := newTestEnforcer(t, Config{})
	if err := loadPolicy(e.enforcer, "p, viewer, alerts\n"); err == nil {
		t.Error("expected error for short policy line")
	}
	if err := loadPolicy(e.enforcer, "# comment\n\n"); err != nil {
		t.Errorf("comments should be skipped: %v", err)
	}
}

func TestDecisionCache(t *testing.T) {
	c := newDecisionCache(time.Hour)
	defer c.stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, ok := c.get("viewer", "alerts", "read"); ok {
		t.Fatal("empty cache should miss")
	}
	c.set("viewer", "alerts", "read", true)
	if allowed, ok := c.get("viewer", "alerts", "read"); !ok || !allowed {
		t.Errorf("get = %v, %v; want true, true", allowed, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.get("viewer", "alerts", "read"); ok {
		t.Error("expired entry should miss")
	}

	c.clear()
	if c.size() != 0 {
		t.Errorf("size after clear = %d", c.size())
	}
	c.stop()
}
