// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"vigil.yaml",
	"vigil.yml",
	"/etc/vigil/config.yaml",
	"/etc/vigil/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VIGIL_"

// Load reads configuration in three layers, later layers winning:
//  1. built-in defaults
//  2. a YAML file: path, else $CONFIG_PATH, else the first of DefaultConfigPaths
//  3. VIGIL_* environment variables listed in envMappings
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated environment values.
var sliceConfigPaths = []string{
	"api.cors_origins",
	"ratelimit.bypass_sources",
	"ratelimit.bypass_severities",
	"notify.relay.channels",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Environment variables arrive as strings; YAML lists are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names, lowercased and without the
// VIGIL_ prefix, to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// API
	"cors_origins":           "api.cors_origins",
	"api_rate_limit":         "api.rate_limit_requests",
	"api_rate_limit_window":  "api.rate_limit_window",
	"api_rate_limit_off":     "api.rate_limit_disabled",
	"api_max_page_size":      "api.max_page_size",
	"slow_request_threshold": "api.slow_request_threshold",

	// Security
	"auth_mode":         "security.auth.mode",
	"jwt_secret":        "security.auth.jwt_secret",
	"jwt_issuer":        "security.auth.issuer",
	"jwt_token_ttl":     "security.auth.token_ttl",
	"anonymous_role":    "security.auth.anonymous_role",
	"authz_model_path":  "security.authz.model_path",
	"authz_policy_path": "security.authz.policy_path",
	"authz_reload":      "security.authz.reload_interval",
	"authz_cache_ttl":   "security.authz.cache_ttl",

	// Store
	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_sync_writes": "store.sync_writes",
	"store_gc_interval": "store.gc_interval",

	// Events
	"events_backend":       "events.backend",
	"nats_url":             "events.nats.url",
	"nats_embedded":        "events.nats.embedded",
	"nats_store_dir":       "events.nats.store_dir",
	"nats_stream":          "events.nats.stream_name",
	"nats_subscribers":     "events.nats.subscribers",
	"router_retry_count":   "events.router.retry_max_retries",
	"router_throttle":      "events.router.throttle_per_second",
	"router_poison_topic":  "events.router.poison_queue_topic",
	"router_close_timeout": "events.router.close_timeout",

	// Task queue
	"taskqueue_poll_interval": "taskqueue.poll_interval",
	"taskqueue_batch_size":    "taskqueue.batch_size",

	// Rate limiting
	"ratelimit_backend":           "ratelimit.backend",
	"ratelimit_window":            "ratelimit.window",
	"ratelimit_default":           "ratelimit.default",
	"ratelimit_bypass_sources":    "ratelimit.bypass_sources",
	"ratelimit_bypass_severities": "ratelimit.bypass_severities",
	"redis_addr":                  "ratelimit.redis.addr",
	"redis_password":              "ratelimit.redis.password",
	"redis_db":                    "ratelimit.redis.db",

	// Aggregation, threat score, escalation
	"aggregation_window":     "aggregation.default_window",
	"archive_after":          "aggregation.archive_after",
	"threat_decay_per_hour":  "threatscore.decay_per_hour",
	"threat_default_weight":  "threatscore.default_weight",
	"escalation_sweep_batch": "escalation.sweep_batch",

	// Notifications
	"notify_enabled":      "notify.enabled",
	"notify_timezone":     "notify.timezone",
	"notify_relay":        "notify.relay.channels",
	"webhook_url":         "notify.webhook.url",
	"webhook_timeout":     "notify.webhook.timeout",
	"slack_webhook_url":   "notify.slack.webhook_url",
	"slack_footer":        "notify.slack.footer",
	"inbox_ttl":           "notify.inbox.ttl",
	"alerts_batch_limit":  "alerts.batch_limit",
	"alerts_block_ttl":    "alerts.block_ttl",
	"alerts_suspend_ttl":  "alerts.suspend_ttl",
	"alerts_stats_period": "alerts.stats_period",

	// Archive and audit
	"archive_enabled":    "archive.enabled",
	"archive_path":       "archive.path",
	"archive_max_memory": "archive.max_memory",
	"audit_enabled":      "audit.enabled",
	"audit_retention":    "audit.retention",
	"audit_log_level":    "audit.log_level",

	// Maintenance
	"maintenance_enabled":  "maintenance.enabled",
	"maintenance_interval": "maintenance.interval",
	"maintenance_timeout":  "maintenance.timeout",
	"maintenance_on_start": "maintenance.run_on_startup",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_shutdown_timeout": "supervisor.shutdown_timeout",
}

// envTransformFunc maps VIGIL_* variable names to koanf paths. Unmapped
// variables are skipped so unrelated environment cannot leak into config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

// WatchConfigFile calls callback whenever the file at path changes. The
// caller reloads with Load and guards concurrent access.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
