package mailer

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httpclient"
)

// WebhookMailer posts messages as JSON to a mail relay.
type WebhookMailer struct {
	client JSONPoster
	url    string
	from   string
}

// NewWebhookMailer creates a webhook mailer. Callers pass the circuit-breaker
// client so a failing relay stops being hammered.
func NewWebhookMailer(client JSONPoster, url, from string) *WebhookMailer {
	return &WebhookMailer{client: client, url: url, from: from}
}

// Send implements Mailer.
func (m *WebhookMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.from
	}
	resp, err := m.client.PostJSON(ctx, m.url, msg, nil)
	if err != nil {
		return fmt.Errorf("post mail to %s: %w", msg.To, err)
	}
	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "mail-webhook")
	}
	_ = resp.Body.Close()
	return nil
}
