// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/models"
)

// RelayMessage is published on vigil.notify.<channel> for the external
// worker that owns delivery on that channel.
type RelayMessage struct {
	ID        string              `json:"id"`
	Channel   Channel             `json:"channel"`
	Recipient Recipient           `json:"recipient"`
	AlertID   string              `json:"alert_id"`
	AlertType models.AlertType    `json:"alert_type"`
	Severity  models.Severity     `json:"severity"`
	Reason    string              `json:"reason"`
	Subject   string              `json:"subject"`
	Body      string              `json:"body"`
	Context   models.AlertContext `json:"context"`
	CreatedAt time.Time           `json:"created_at"`
}

// RelaySender hands email, SMS and push deliveries to external workers
// over the event bus.
type RelaySender struct {
	channel   Channel
	publisher Publisher
}

// NewRelaySender creates a relay for one channel.
func NewRelaySender(channel Channel, publisher Publisher) *RelaySender {
	return &RelaySender{channel: channel, publisher: publisher}
}

// Channel implements Sender.
func (r *RelaySender) Channel() Channel { return r.channel }

// Enabled implements Sender.
func (r *RelaySender) Enabled() bool { return r.publisher != nil }

// Send implements Sender. One message is published per recipient.
func (r *RelaySender) Send(ctx context.Context, msg *Message) error {
	topic := eventprocessor.NotificationTopic(string(r.channel))
	var errs []error
	for _, rcpt := range msg.Recipients {
		relay := RelayMessage{
			ID:        uuid.NewString(),
			Channel:   r.channel,
			Recipient: rcpt,
			AlertID:   msg.Alert.ID,
			AlertType: msg.Alert.Type,
			Severity:  msg.Alert.Severity,
			Reason:    msg.Reason,
			Subject:   msg.Rendered.Subject,
			Body:      msg.Rendered.Body,
			Context:   msg.Alert.Context,
			CreatedAt: msg.Timestamp,
		}
		meta := map[string]string{
			eventprocessor.MetaAlertID: msg.Alert.ID,
			eventprocessor.MetaChannel: string(r.channel),
		}
		if err := r.publisher.PublishJSON(ctx, topic, relay.ID, relay, meta); err != nil {
			errs = append(errs, fmt.Errorf("relay %s to %s: %w", r.channel, rcpt.ID, err))
		}
	}
	return errors.Join(errs...)
}
