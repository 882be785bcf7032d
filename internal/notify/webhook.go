// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/models"
)

// ErrStatus is wrapped by errors for non-2xx webhook responses.
var ErrStatus = errors.New("unexpected webhook status")

// poster posts JSON bodies through a token bucket and a circuit breaker.
type poster struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
}

func newPoster(name string, timeout time.Duration, perSecond float64, burst int) *poster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &poster{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: eventprocessor.NewCircuitBreaker(eventprocessor.DefaultCircuitBreakerConfig(name)),
	}
}

func (p *poster) post(ctx context.Context, target string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// WebhookPayload is the JSON body posted to the generic webhook.
type WebhookPayload struct {
	EventType string                `json:"event_type"`
	Reason    string                `json:"reason"`
	Subject   string                `json:"subject"`
	Body      string                `json:"body"`
	Alert     *models.SecurityAlert `json:"alert"`
	Timestamp time.Time             `json:"timestamp"`
	Source    string                `json:"source"`
}

// WebhookSender posts alerts to a generic webhook endpoint.
type WebhookSender struct {
	mu      sync.RWMutex
	url     string
	headers map[string]string
	poster  *poster
}

// NewWebhookSender creates a webhook sender. It is disabled without a URL.
func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &WebhookSender{
		url:     cfg.URL,
		headers: headers,
		poster:  newPoster("notify-webhook", cfg.Timeout, cfg.RatePerSecond, cfg.Burst),
	}
}

// Channel implements Sender.
func (w *WebhookSender) Channel() Channel { return ChannelWebhook }

// Enabled implements Sender.
func (w *WebhookSender) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.url != ""
}

// SetURL updates the webhook URL.
func (w *WebhookSender) SetURL(u string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = u
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, msg *Message) error {
	w.mu.RLock()
	target := w.url
	headers := w.headers
	w.mu.RUnlock()
	if target == "" {
		return nil
	}

	payload := WebhookPayload{
		EventType: "security_alert",
		Reason:    msg.Reason,
		Subject:   msg.Rendered.Subject,
		Body:      msg.Rendered.Body,
		Alert:     msg.Alert,
		Timestamp: msg.Timestamp,
		Source:    "vigil",
	}
	if err := w.poster.post(ctx, target, headers, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// BreakerState returns the circuit breaker state for health reporting.
func (w *WebhookSender) BreakerState() string {
	return eventprocessor.CircuitBreakerState(w.poster.breaker)
}
