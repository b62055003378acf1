package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/transferdesk/transferdesk/pkg/contracts"
)

// WebhookSink POSTs each notification as JSON to a configured endpoint.
// Delivery is bounded by the client timeout so a slow channel can never
// stall the command that emitted the notification.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink for the given endpoint URL.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Send(ctx context.Context, n contracts.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
