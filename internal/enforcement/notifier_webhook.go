// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package enforcement

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/thesisguard/internal/models"
)

// WebhookConfig configures the alert webhook.
type WebhookConfig struct {
	URL       string            `koanf:"url" validate:"omitempty,url"`
	Headers   map[string]string `koanf:"headers"`
	Enabled   bool              `koanf:"enabled"`
	RateLimit time.Duration     `koanf:"rate_limit"`
	Timeout   time.Duration     `koanf:"timeout"`
}

// WebhookPayload is the JSON body sent to the webhook endpoint.
type WebhookPayload struct {
	Alert     *models.Alert `json:"alert"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// WebhookNotifier posts security alerts to a generic webhook.
type WebhookNotifier struct {
	mu      sync.RWMutex
	url     string
	headers map[string]string
	enabled bool

	limiter *rate.Limiter
	client  *http.Client
}

// NewWebhookNotifier creates a webhook notifier. Sends are paced to one per
// RateLimit (default 500ms) with a burst of one.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		enabled: cfg.Enabled,
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.url != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send delivers an alert to the webhook endpoint.
func (n *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	n.mu.RLock()
	if !n.enabled || n.url == "" {
		n.mu.RUnlock()
		return nil
	}
	url := n.url
	headers := make(map[string]string, len(n.headers))
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		Alert:     alert,
		EventType: "security_alert",
		Timestamp: time.Now(),
		Source:    "thesisguard",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
