package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/systemshift/bioref/internal/logger"
)

const defaultAttempts = 3

// Notifier delivers notifications via webhooks
type Notifier struct {
	httpClient *http.Client
	log        *logger.Logger
	attempts   int
	// backoff returns the wait before retry attempt n (n >= 1)
	backoff func(n int) time.Duration
}

// NewNotifier creates a new notifier
func NewNotifier(client *http.Client, log *logger.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		httpClient: client,
		log:        log,
		attempts:   defaultAttempts,
		backoff: func(n int) time.Duration {
			return time.Duration(n*n) * time.Second
		},
	}
}

// SendWebhook posts notification to url, retrying with quadratic backoff
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}

	log := n.log.With("webhook", url, "event", notification.Event.Type)
	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Bioref-Event", notification.Event.Type)
		req.Header.Set("X-Bioref-Subscription", notification.Subscription)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Warn("webhook delivery attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			log.Debug("webhook delivered")
			return nil
		}
		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		log.Warn("webhook delivery attempt rejected", "attempt", attempt+1, "status", resp.StatusCode)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.attempts, lastErr)
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
}
