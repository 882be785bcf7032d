// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/vigil/internal/metrics"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Resources checked by the API.
const (
	ResourceAlerts       = "alerts"
	ResourceAlertActions = "alerts:actions"
	ResourceStats        = "stats"
	ResourceStream       = "stream"
	ResourceEntities     = "entities"
	ResourceEscalations  = "escalations"
	ResourceMaintenance  = "maintenance"
	ResourceAudit        = "audit"
	ResourceSignals      = "signals"
)

// Actions.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// ErrNoAdapter is returned by Reload when the embedded policy is in use.
var ErrNoAdapter = errors.New("no policy file configured")

// Config holds enforcer configuration.
type Config struct {
	// ModelPath overrides the embedded model when the file exists.
	ModelPath string `koanf:"model_path"`

	// PolicyPath overrides the embedded policy when the file exists. Per
	// subject grants ("g, alice@example.com, admin") go here.
	PolicyPath string `koanf:"policy_path"`

	// ReloadInterval re-reads PolicyPath periodically. Zero disables it.
	ReloadInterval time.Duration `koanf:"reload_interval"`

	// CacheTTL caches decisions. Zero disables the cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// DefaultConfig returns the embedded policy with a one minute cache.
func DefaultConfig() Config {
	return Config{CacheTTL: time.Minute}
}

// Enforcer wraps a casbin SyncedEnforcer with a decision cache.
type Enforcer struct {
	config   Config
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
	fromFile bool
}

// NewEnforcer loads the model and policy.
func NewEnforcer(cfg Config) (*Enforcer, error) {
	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var se *casbin.SyncedEnforcer
	fromFile := cfg.PolicyPath != "" && fileExists(cfg.PolicyPath)
	if fromFile {
		se, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		se, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(se, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if fromFile && cfg.ReloadInterval > 0 {
		se.StartAutoLoadPolicy(cfg.ReloadInterval)
	}

	e := &Enforcer{config: cfg, enforcer: se, fromFile: fromFile}
	if cfg.CacheTTL > 0 {
		e.cache = newDecisionCache(cfg.CacheTTL)
	}
	return e, nil
}

// loadPolicy adds the rules of a policy CSV to the enforcer.
func loadPolicy(se *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := se.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := se.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Enforce reports whether sub may perform act on obj.
func (e *Enforcer) Enforce(sub, obj, act string) (bool, error) {
	if e.cache != nil {
		if allowed, ok := e.cache.get(sub, obj, act); ok {
			return allowed, nil
		}
	}
	allowed, err := e.enforcer.Enforce(sub, obj, act)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	if e.cache != nil {
		e.cache.set(sub, obj, act, allowed)
	}
	return allowed, nil
}

// EnforceWithRole allows the request if either the subject itself or its
// token role is granted obj/act. The result is recorded in
// vigil_authz_decisions_total.
func (e *Enforcer) EnforceWithRole(subject, role, obj, act string) (bool, error) {
	allowed, err := e.enforceWithRole(subject, role, obj, act)
	result := "deny"
	switch {
	case err != nil:
		result = "error"
	case allowed:
		result = "allow"
	}
	metrics.AuthzDecisions.WithLabelValues(obj, act, result).Inc()
	return allowed, err
}

func (e *Enforcer) enforceWithRole(subject, role, obj, act string) (bool, error) {
	if subject != "" {
		if ok, err := e.Enforce(subject, obj, act); err != nil || ok {
			return ok, err
		}
	}
	if role == "" {
		return false, nil
	}
	return e.Enforce(role, obj, act)
}

// RolesFor returns the roles granted to subject, including inherited ones.
func (e *Enforcer) RolesFor(subject string) ([]string, error) {
	return e.enforcer.GetImplicitRolesForUser(subject)
}

// Reload re-reads the policy file and clears the cache.
func (e *Enforcer) Reload() error {
	if !e.fromFile {
		return ErrNoAdapter
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	if e.cache != nil {
		e.cache.clear()
	}
	return nil
}

// Close stops policy reloading and the cache sweeper.
func (e *Enforcer) Close() {
	e.enforcer.StopAutoLoadPolicy()
	if e.cache != nil {
		e.cache.stop()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
