// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/vigil/internal/logging"
)

// Bus owns the publisher, the subscribers and, when configured, the embedded
// NATS server of one process.
type Bus struct {
	config    Config
	logger    watermill.LoggerAdapter
	publisher *Publisher
	url       string

	server  *EmbeddedServer
	control *natsgo.Conn
	memory  *gochannel.GoChannel

	mu          sync.Mutex
	subscribers []message.Subscriber
	closed      bool
}

// NewBus starts the configured backend.
func NewBus(ctx context.Context, cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bus{
		config: cfg,
		logger: watermill.NewSlogLogger(logging.NewSlogLogger()),
	}

	if cfg.Backend == BackendMemory {
		b.memory = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: cfg.MemoryBuffer}, b.logger)
		pub, err := NewPublisher(b.memory, nil)
		if err != nil {
			return nil, err
		}
		b.publisher = pub
		logging.Info().Str("backend", cfg.Backend).Msg("Event bus started")
		return b, nil
	}

	b.url = cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := StartEmbeddedServer(cfg.NATS.ServerConfig())
		if err != nil {
			return nil, err
		}
		b.server = srv
		b.url = srv.ClientURL()
	}

	nc, err := natsgo.Connect(b.url, connOptions("control", cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait, b.logger)...)
	if err != nil {
		b.shutdownServer(ctx)
		return nil, fmt.Errorf("connect to %s: %w", b.url, err)
	}
	b.control = nc

	if err := EnsureStream(ctx, nc, cfg.NATS.StreamConfig()); err != nil {
		b.closeControl()
		b.shutdownServer(ctx)
		return nil, err
	}

	wmPub, err := NewNATSPublisher(cfg.NATS.PublisherConfig(b.url), b.logger)
	if err != nil {
		b.closeControl()
		b.shutdownServer(ctx)
		return nil, err
	}
	pub, err := NewPublisher(wmPub, NewCircuitBreaker(DefaultCircuitBreakerConfig("nats-publisher")))
	if err != nil {
		b.closeControl()
		b.shutdownServer(ctx)
		return nil, err
	}
	b.publisher = pub

	logging.Info().
		Str("backend", cfg.Backend).
		Str("url", b.url).
		Bool("embedded", cfg.NATS.Embedded).
		Msg("Event bus started")
	return b, nil
}

// NewMemoryBus returns an in-process bus. Used by tests.
func NewMemoryBus() *Bus {
	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	b, err := NewBus(context.Background(), cfg)
	if err != nil {
		// The memory backend cannot fail with default settings.
		panic(err)
	}
	return b
}

// Publisher returns the shared publisher.
func (b *Bus) Publisher() *Publisher {
	return b.publisher
}

// Subscriber returns a subscriber for one consumer. durable names the
// JetStream consumer so that each consumer keeps its own position.
func (b *Bus) Subscriber(durable string) (message.Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("event bus is closed")
	}
	if b.memory != nil {
		return b.memory, nil
	}

	sub, err := NewNATSSubscriber(b.config.NATS.SubscriberConfig(b.url, durable), b.logger)
	if err != nil {
		return nil, err
	}
	b.subscribers = append(b.subscribers, sub)
	return sub, nil
}

// Ping reports whether the bus can take events. The memory backend is
// always ready.
func (b *Bus) Ping(ctx context.Context) error {
	if b.memory != nil {
		return nil
	}
	if b.server != nil {
		if err := b.server.Healthy(); err != nil {
			return err
		}
	}
	return pingStream(ctx, b.control, b.config.NATS.StreamName)
}

// NewRouter creates a router whose poison queue publishes on this bus.
func (b *Bus) NewRouter() (*Router, error) {
	return NewRouter(b.config.Router, b.publisher.WatermillPublisher(), b.logger)
}

// Close closes subscribers, the publisher and the embedded server.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscribers
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	b.closeControl()
	if err := b.shutdownServer(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Bus) closeControl() {
	if b.control != nil {
		b.control.Close()
	}
}

func (b *Bus) shutdownServer(ctx context.Context) error {
	if b.server == nil {
		return nil
	}
	if err := b.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown embedded NATS: %w", err)
	}
	return nil
}
