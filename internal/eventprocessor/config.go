// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"fmt"
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config holds event bus configuration.
type Config struct {
	// Backend is "memory" or "nats".
	Backend string `koanf:"backend"`

	NATS   NATSConfig   `koanf:"nats"`
	Router RouterConfig `koanf:"router"`

	// MemoryBuffer is the output channel buffer of the in-process backend.
	MemoryBuffer int64 `koanf:"memory_buffer"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendMemory,
		NATS:         DefaultNATSConfig(),
		Router:       DefaultRouterConfig(),
		MemoryBuffer: 1024,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.MemoryBuffer < 0 {
			return fmt.Errorf("%w: memory_buffer must not be negative", ErrInvalidConfig)
		}
	case BackendNATS:
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return c.Router.Validate()
}

// NATSConfig holds NATS JetStream configuration.
type NATSConfig struct {
	// URL is the server to connect to. Ignored when Embedded is set.
	URL string `koanf:"url"`

	// Embedded starts an in-process nats-server with JetStream.
	Embedded bool `koanf:"embedded"`

	// Embedded server listen address and storage.
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	StoreDir  string `koanf:"store_dir"`
	MaxMemory int64  `koanf:"max_memory"`
	MaxStore  int64  `koanf:"max_store"`

	// Stream settings.
	StreamName      string        `koanf:"stream_name"`
	StreamMaxAge    time.Duration `koanf:"stream_max_age"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`

	// Consumer settings.
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`

	// Connection settings.
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// DefaultNATSConfig returns production defaults for NATS.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:              "nats://127.0.0.1:4222",
		Embedded:         true,
		Host:             "127.0.0.1",
		Port:             4222,
		StoreDir:         "/data/vigil/jetstream",
		MaxMemory:        256 << 20,
		MaxStore:         2 << 30,
		StreamName:       "VIGIL",
		StreamMaxAge:     72 * time.Hour,
		DuplicateWindow:  2 * time.Minute,
		QueueGroup:       "vigil",
		SubscribersCount: 4,
		AckWait:          30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// Validate checks the NATS configuration.
func (c *NATSConfig) Validate() error {
	if !c.Embedded && c.URL == "" {
		return fmt.Errorf("%w: nats.url is required without an embedded server", ErrInvalidConfig)
	}
	if c.Embedded && c.StoreDir == "" {
		return fmt.Errorf("%w: nats.store_dir is required for the embedded server", ErrInvalidConfig)
	}
	if c.StreamName == "" {
		return fmt.Errorf("%w: nats.stream_name is required", ErrInvalidConfig)
	}
	if c.SubscribersCount < 1 {
		return fmt.Errorf("%w: nats.subscribers must be at least 1", ErrInvalidConfig)
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("%w: nats.max_deliver must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// ServerConfig derives the embedded server settings.
func (c *NATSConfig) ServerConfig() ServerConfig {
	return ServerConfig{
		Host:              c.Host,
		Port:              c.Port,
		StoreDir:          c.StoreDir,
		JetStreamMaxMem:   c.MaxMemory,
		JetStreamMaxStore: c.MaxStore,
	}
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// PublisherConfig derives publisher settings for url.
func (c *NATSConfig) PublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    c.MaxReconnects,
		ReconnectWait:    c.ReconnectWait,
		ReconnectBuffer:  8 * 1024 * 1024,
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
	// StreamName binds the consumer to an existing stream instead of
	// provisioning one per topic.
	StreamName string
}

// SubscriberConfig derives subscriber settings for url and a durable consumer name.
func (c *NATSConfig) SubscriberConfig(url, durable string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      durable,
		QueueGroup:       c.QueueGroup + "-" + durable,
		SubscribersCount: c.SubscribersCount,
		AckWaitTimeout:   c.AckWait,
		MaxDeliver:       c.MaxDeliver,
		MaxAckPending:    c.MaxAckPending,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    c.MaxReconnects,
		ReconnectWait:    c.ReconnectWait,
		StreamName:       c.StreamName,
	}
}

// StreamConfig defines the JetStream stream carrying every vigil subject.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	DuplicateWindow time.Duration
	Replicas        int
}

// StreamConfig derives the stream settings.
func (c *NATSConfig) StreamConfig() StreamConfig {
	return StreamConfig{
		Name:            c.StreamName,
		Subjects:        []string{SubjectRoot + ".>"},
		MaxAge:          c.StreamMaxAge,
		DuplicateWindow: c.DuplicateWindow,
		Replicas:        1,
	}
}

// RouterConfig holds configuration for the Watermill Router.
type RouterConfig struct {
	// CloseTimeout is how long to wait for handlers to finish when closing.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier      float64       `koanf:"retry_multiplier"`

	// ThrottlePerSecond bounds handled messages per second. 0 disables it.
	ThrottlePerSecond int64 `koanf:"throttle_per_second"`

	// PoisonQueueTopic receives messages that failed after all retries.
	PoisonQueueTopic string `koanf:"poison_queue_topic"`
}

// DefaultRouterConfig returns production defaults for the Router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     TopicPoison,
	}
}

// Validate checks the router configuration.
func (c *RouterConfig) Validate() error {
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("%w: router.retry_max_retries must not be negative", ErrInvalidConfig)
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("%w: router.retry_multiplier must be at least 1", ErrInvalidConfig)
	}
	if c.ThrottlePerSecond < 0 {
		return fmt.Errorf("%w: router.throttle_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
