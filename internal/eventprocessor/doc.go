// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package eventprocessor provides the event bus used to move signals, deferred
tasks and notification relays between components.

The bus is built on Watermill and has two backends:

  - memory: an in-process GoChannel pub/sub, used by tests and single-node
    deployments that do not need durability
  - nats: NATS JetStream through watermill-nats, either against an external
    cluster or an embedded nats-server started by the process

# Topics

	vigil.signals          raw detector signals (kind in metadata "kind")
	vigil.tasks            due deferred tasks published by the task queue
	vigil.alerts           alert lifecycle events for external consumers
	vigil.notify.<channel> notification relay for mail, SMS and push workers
	vigil.dlq              poison queue for messages that exhausted retries

# Router

Router wraps message.Router with the middleware stack every consumer gets,
outer to inner:

 1. Throttle (optional) bounds messages per second
 2. PoisonQueue moves messages that still fail to vigil.dlq
 3. Retry re-runs failed handlers with exponential backoff
 4. Recoverer converts handler panics into errors

Handlers are acked on success and nacked on error, so delivery is
at-least-once. Every consumer in the engine is idempotent for that reason.

# Resilience

Publisher wraps any message.Publisher with a gobreaker circuit breaker so that
a partitioned NATS cluster fails fast instead of stalling callers.
*/
package eventprocessor
