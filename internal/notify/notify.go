// Package notify publishes cross-system events to the event hub. The hub is
// how the content, marketing, and analytics stacks learn that an orchestration
// pipeline finished; each subscriber reacts on its own schedule.
//
// OSS ships the webhook hub with HMAC-SHA256 signing. A nop hub stands in
// when no hub URL is configured.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Priority ranks an event for subscribers that triage their inboxes.
type Priority string

const (
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Event is one cross-system notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	UserID    string                 `json:"user_id,omitempty"`
	Priority  Priority               `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub publishes events to whatever transport is configured.
type Hub interface {
	Notify(ctx context.Context, event Event) error
}

// ── Webhook hub ──────────────────────────────────────────────

// WebhookHub posts events as JSON to a single webhook URL with HMAC-SHA256
// signing and bounded retries.
type WebhookHub struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookHub builds a hub for the given URL. Secret may be empty, in
// which case events are unsigned.
func NewWebhookHub(url, secret string) *WebhookHub {
	return &WebhookHub{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *WebhookHub) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			// Backoff must not outlive the caller.
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				return fmt.Errorf("event hub publish aborted: %w", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build hub request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "FanForge-EventHub/1.0")
		req.Header.Set("X-FanForge-Event", event.Type)
		req.Header.Set("X-FanForge-Priority", string(event.Priority))
		if h.secret != "" {
			mac := hmac.New(sha256.New, []byte(h.secret))
			mac.Write(body)
			req.Header.Set("X-FanForge-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			log.Debug().Str("event", event.Type).Str("priority", string(event.Priority)).Msg("Event published")
			return nil
		}
		lastErr = fmt.Errorf("hub HTTP %d from %s", resp.StatusCode, h.url)
	}
	return fmt.Errorf("event hub publish failed after 3 attempts: %w", lastErr)
}

// ── Nop hub ──────────────────────────────────────────────────

// NopHub drops every event. Used when no hub URL is configured.
type NopHub struct{}

func (NopHub) Notify(context.Context, Event) error { return nil }
