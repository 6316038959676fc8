// Package webhook delivers signed batch notifications.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
const SignatureHeader = "X-Prodscrape-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // "batch.completed"
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notifier posts events with retries.
type Notifier struct {
	http *resty.Client

	// Delays between attempts; the first attempt runs immediately.
	Delays []time.Duration
}

// NewNotifier creates a Notifier. maxRetries caps retries after the first
// attempt; the backoff is 1s, 5s, 30s.
func NewNotifier(timeout time.Duration, maxRetries int) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}
	if maxRetries >= 0 && maxRetries+1 < len(delays) {
		delays = delays[:maxRetries+1]
	}
	return &Notifier{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "Prodscrape-Webhook/1.0"),
		Delays: delays,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends one event synchronously.
func (n *Notifier) Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := n.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if secret != "" {
		req.SetHeader(SignatureHeader, Sign(secret, body))
	}

	resp, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode())
	}
	return nil
}

// DeliverWithRetry sends an event, retrying on failure until the delays
// are exhausted or ctx is done.
func (n *Notifier) DeliverWithRetry(ctx context.Context, url, secret string, event *Event) error {
	var err error
	for attempt, delay := range n.Delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = n.Deliver(ctx, url, secret, event); err == nil {
			slog.Info("webhook delivered",
				"url", url,
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt+1,
			)
			return nil
		}
		slog.Warn("webhook delivery failed",
			"url", url,
			"event", event.Type,
			"job_id", event.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", url,
		"event", event.Type,
		"job_id", event.JobID,
	)
	return err
}

// DeliverAsync runs DeliverWithRetry in the background.
func (n *Notifier) DeliverAsync(url, secret string, event *Event) {
	go func() {
		_ = n.DeliverWithRetry(context.Background(), url, secret, event)
	}()
}
