package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const webhookAttempts = 2

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Session string     `json:"session"`
	TS      time.Time  `json:"ts"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint. A 5xx response
// or transport error is retried once; a 4xx is not.
type WebhookNotifier struct {
	url     string
	session string
	client  *http.Client
}

// NewWebhookNotifier creates a webhook notifier. session tags every payload
// so alerts from concurrent runs can be told apart.
func NewWebhookNotifier(url, session string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		session: session,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Send implements Notifier.
func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Session: w.session,
		TS:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		retry, err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		log.Printf("[webhook] attempt %d for %q failed: %v", attempt, alert.Title, err)
	}
	return lastErr
}

// post delivers one request and reports whether a failure is worth retrying.
func (w *WebhookNotifier) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return false, nil
}
