package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"vitalwatch/internal/models"
)

// Webhook types
const (
	WebhookSlack = "slack"
	WebhookHTTP  = "http"
)

// Webhook posts events to a URL, either as a Slack message or as the raw
// event JSON
type Webhook struct {
	kind   string
	url    string
	client *resty.Client
}

func NewWebhook(kind, url string) *Webhook {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")

	return &Webhook{kind: kind, url: url, client: client}
}

func (w *Webhook) Name() string { return "webhook_" + w.kind }

func (w *Webhook) Notify(ctx context.Context, event models.AlertEvent) error {
	var body any
	switch w.kind {
	case WebhookSlack:
		body = map[string]string{"text": slackText(event)}
	default:
		body = map[string]any{"alert": event}
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode())
	}
	return nil
}

func slackText(e models.AlertEvent) string {
	label := "[INFO]"
	switch {
	case e.Priority != models.PriorityNone:
		label = "[" + string(e.Priority) + "]"
	case e.IsTrigger(), e.Source == models.SourceManual:
		label = "[ALERT]"
	}
	return fmt.Sprintf("*%s* patient %s: %s", label, e.PatientID, e.Message)
}
