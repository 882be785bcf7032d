// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package eventprocessor

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/vigil/internal/metrics"
)

// connOptions are the client options shared by every NATS connection of a
// process. role names the connection on the server (vigil-<role>) and in
// the connection metrics.
func connOptions(role string, maxReconnects int, reconnectWait time.Duration, logger watermill.LoggerAdapter) []natsgo.Option {
	fields := watermill.LogFields{"role": role}
	return []natsgo.Option{
		natsgo.Name("vigil-" + role),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			metrics.BusConnectionEvents.WithLabelValues(role, "disconnected").Inc()
			if err != nil {
				logger.Error("NATS disconnected", err, fields)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			metrics.BusConnectionEvents.WithLabelValues(role, "reconnected").Inc()
			logger.Info("NATS reconnected", fields.Add(watermill.LogFields{"url": nc.ConnectedUrl()}))
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			metrics.BusConnectionEvents.WithLabelValues(role, "closed").Inc()
		}),
	}
}
