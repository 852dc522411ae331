package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"deployguard/internal/model"
)

// WebhookSink posts events to a Slack-compatible webhook endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{}}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Text     string      `json:"text"`
	Username string      `json:"username"`
	Event    model.Event `json:"event"`
}

var severityEmoji = map[string]string{
	"INFO":     "ℹ️",
	"WARNING":  "⚠️",
	"ERROR":    "❌",
	"CRITICAL": "🚨",
}

func (s *WebhookSink) Send(ctx context.Context, ev model.Event) error {
	emoji, ok := severityEmoji[ev.Severity]
	if !ok {
		emoji = severityEmoji["INFO"]
	}
	payload := webhookPayload{
		Text:     fmt.Sprintf("%s *Deployment %s* [%s]\n%s", emoji, ev.Kind, ev.EpochID, ev.Message),
		Username: "deployguard",
		Event:    ev,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
