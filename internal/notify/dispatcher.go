// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// ErrNoDelivery is returned by NotifyAlert when every attempted delivery failed.
var ErrNoDelivery = errors.New("no notification delivered")

// ChannelResult counts deliveries on one channel.
type ChannelResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Result summarizes one Dispatch call.
type Result struct {
	AlertID    string                    `json:"alert_id"`
	Recipients int                       `json:"recipients"`
	Channels   map[Channel]ChannelResult `json:"channels"`
}

// Delivered reports whether at least one delivery succeeded.
func (r *Result) Delivered() bool {
	for _, c := range r.Channels {
		if c.Sent > 0 {
			return true
		}
	}
	return false
}

// Attempted reports whether any delivery was attempted.
func (r *Result) Attempted() bool {
	for _, c := range r.Channels {
		if c.Sent+c.Failed > 0 {
			return true
		}
	}
	return false
}

// Dispatcher routes alerts to channel senders.
type Dispatcher struct {
	config   Config
	location *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	senders map[Channel]Sender
}

// NewDispatcher creates a dispatcher with the given senders.
func NewDispatcher(cfg Config, senders ...Sender) *Dispatcher {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	d := &Dispatcher{
		config:   cfg,
		location: loc,
		logger:   logging.WithComponent("notify"),
		now:      time.Now,
		senders:  make(map[Channel]Sender),
	}
	for _, s := range senders {
		d.Register(s)
	}
	return d
}

// WithClock replaces the dispatcher clock. Used by tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Register adds or replaces the sender of its channel.
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Channel()] = s
}

func (d *Dispatcher) sender(ch Channel) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[ch]
	if !ok || !s.Enabled() {
		return nil, false
	}
	return s, true
}

// Recipients returns the recipients whose preferences accept an alert of
// type t and severity sev at now.
func (d *Dispatcher) Recipients(t models.AlertType, sev models.Severity, now time.Time) []Recipient {
	hour := now.In(d.location).Hour()
	var out []Recipient
	for _, r := range d.config.Recipients {
		if accepts(r, t, sev, hour) {
			out = append(out, r)
		}
	}
	if len(out) == 0 && sev != models.SeverityInfo {
		for _, r := range d.config.DefaultRecipients {
			if !r.Disabled {
				out = append(out, r)
			}
		}
	}
	return out
}

func accepts(r Recipient, t models.AlertType, sev models.Severity, hour int) bool {
	if r.Disabled {
		return false
	}
	min := r.MinSeverity
	if min == "" {
		min = models.SeverityWarning
	}
	if !sev.AtLeast(min) {
		metrics.NotificationsSuppressed.WithLabelValues("severity").Inc()
		return false
	}
	if len(r.Types) > 0 {
		matched := false
		for _, typ := range r.Types {
			if typ == string(t) || typ == t.ShortName() {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if sev != models.SeverityEmergency && r.QuietHours.Contains(hour) {
		metrics.NotificationsSuppressed.WithLabelValues("quiet_hours").Inc()
		return false
	}
	return true
}

// Send delivers alert to recipients on one channel. Channels that post once
// per alert ignore recipients.
func (d *Dispatcher) Send(ctx context.Context, alert *models.SecurityAlert, recipients []Recipient, channel Channel) error {
	_, err := d.send(ctx, alert, recipients, channel, "manual", d.now())
	return err
}

func (d *Dispatcher) send(ctx context.Context, alert *models.SecurityAlert, recipients []Recipient, channel Channel, reason string, now time.Time) (ChannelResult, error) {
	var res ChannelResult
	s, ok := d.sender(channel)
	if !ok {
		return res, nil
	}

	msg := &Message{
		Alert:     alert,
		Reason:    reason,
		Rendered:  Render(alert, reason),
		Timestamp: now,
	}

	if !channel.PerRecipient() {
		err := s.Send(ctx, msg)
		metrics.RecordNotification(string(channel), err)
		if err != nil {
			res.Failed++
			return res, err
		}
		res.Sent++
		return res, nil
	}

	var errs []error
	for _, r := range recipients {
		if !channel.Reaches(r) {
			continue
		}
		msg.Recipients = []Recipient{r}
		err := s.Send(ctx, msg)
		metrics.RecordNotification(string(channel), err)
		if err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		res.Sent++
	}
	return res, errors.Join(errs...)
}

// Dispatch notifies every channel configured for the alert severity.
// Channel failures are logged and counted, never fatal to siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.SecurityAlert, reason string) *Result {
	now := d.now()
	res := &Result{AlertID: alert.ID, Channels: make(map[Channel]ChannelResult)}
	if !d.config.Enabled {
		return res
	}

	recipients := d.Recipients(alert.Type, alert.Severity, now)
	res.Recipients = len(recipients)

	for _, ch := range d.config.ChannelsFor(alert.Severity) {
		cr, err := d.send(ctx, alert, recipients, ch, reason, now)
		if cr.Sent+cr.Failed > 0 {
			res.Channels[ch] = cr
		}
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("alert_id", alert.ID).
				Str("channel", string(ch)).
				Msg("Notification delivery failed")
		}
	}

	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Str("reason", reason).
		Int("recipients", res.Recipients).
		Interface("channels", res.Channels).
		Msg("Alert notification dispatched")
	return res
}

// NotifyAlert dispatches alert and fails only when deliveries were attempted
// and none succeeded.
func (d *Dispatcher) NotifyAlert(ctx context.Context, alert *models.SecurityAlert, reason string) error {
	res := d.Dispatch(ctx, alert, reason)
	if res.Attempted() && !res.Delivered() {
		return fmt.Errorf("%w for alert %s", ErrNoDelivery, alert.ID)
	}
	return nil
}
