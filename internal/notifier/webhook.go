// Package notifier provides the best-effort operator alert sink. Alerts are
// fire-and-forget: a failed notification is logged and dropped, never allowed
// to affect the operation that raised it.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ──────────────────────────────────────────────────────────────────────────────
// Event & interface
// ──────────────────────────────────────────────────────────────────────────────

// Event is a minimal operator alert payload.
type Event struct {
	Kind    string            // e.g. "settlement_failed"
	Message string            // human-readable one-liner
	Fields  map[string]string // structured context (amounts, refs, ids)
}

// Notifier is the alert sink consumed by the settlement executor.
type Notifier interface {
	// Notify delivers the event best-effort and returns immediately.
	Notify(ctx context.Context, ev Event)
}

// ──────────────────────────────────────────────────────────────────────────────
// Noop
// ──────────────────────────────────────────────────────────────────────────────

// Noop discards all events. Used in dev and in tests.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Event) {}

// ──────────────────────────────────────────────────────────────────────────────
// Webhook
// ──────────────────────────────────────────────────────────────────────────────

// Webhook posts events to a Discord-style webhook URL.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *retryablehttp.Client
	log     *slog.Logger
}

// NewWebhook creates a webhook notifier. The underlying client retries
// transient failures twice; delivery still gives up within the timeout.
func NewWebhook(url string, timeout time.Duration, log *slog.Logger) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil // slog below instead of retryablehttp's own logging

	return &Webhook{
		url:     url,
		timeout: timeout,
		client:  client,
		log:     log.With("component", "notifier"),
	}
}

// Notify posts the event asynchronously. The spawned goroutine carries its own
// deadline so a hung webhook cannot leak.
func (w *Webhook) Notify(_ context.Context, ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		if err := w.post(ctx, ev); err != nil {
			w.log.Warn("alert delivery failed", "kind", ev.Kind, "err", err)
		}
	}()
}

func (w *Webhook) post(ctx context.Context, ev Event) error {
	content := fmt.Sprintf("**%s** — %s", ev.Kind, ev.Message)
	for k, v := range ev.Fields {
		content += fmt.Sprintf("\n%s: `%s`", k, v)
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("notifier.post: marshal: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier.post: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier.post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier.post: webhook returned %d", resp.StatusCode)
	}
	return nil
}
