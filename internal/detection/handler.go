// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// WatermillHandler consumes signals from vigil.signals.
type WatermillHandler struct {
	engine *Engine
	logger zerolog.Logger
}

// NewWatermillHandler creates a signal consumer for engine.
func NewWatermillHandler(engine *Engine) *WatermillHandler {
	return &WatermillHandler{engine: engine, logger: logging.WithComponent("detection")}
}

// Handle processes one signal message. Malformed and invalid signals are
// acked. Only transient store failures are returned so the router retries
// them; window events are keyed by signal id, so a retry does not double count.
func (h *WatermillHandler) Handle(msg *message.Message) error {
	if h.engine == nil || !h.engine.Enabled() {
		return nil
	}

	sig, err := parseSignal(msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed signal")
		return nil
	}

	ctx := logging.ContextWithCorrelationID(msg.Context(), sig.ID)
	out, err := h.engine.Process(ctx, sig)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrValidation):
		h.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("Dropping invalid signal")
		return nil
	case models.IsTransient(err):
		return err
	default:
		h.logger.Error().Err(err).Str("signal_id", sig.ID).Msg("Signal processed with detector failures")
	}

	if len(out.Detections) > 0 {
		h.logger.Info().
			Str("signal_id", sig.ID).
			Str("kind", string(sig.Kind)).
			Int("alerts", len(out.Detections)).
			Msg("Signal raised alerts")
	}
	return nil
}

// parseSignal decodes a signal. The kind may travel in the message metadata
// and the message UUID stands in for a missing signal id.
func parseSignal(msg *message.Message) (*Signal, error) {
	var sig Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		return nil, err
	}
	if sig.Kind == "" {
		sig.Kind = SignalKind(msg.Metadata.Get(eventprocessor.MetaKind))
	}
	if sig.ID == "" {
		sig.ID = msg.UUID
	}
	return &sig, nil
}

// Attach registers the signal consumer on router.
func (h *WatermillHandler) Attach(router *eventprocessor.Router, sub message.Subscriber) {
	router.AddConsumerHandler("detection", eventprocessor.TopicSignals, sub, h.Handle)
}
