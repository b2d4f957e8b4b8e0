// Package notify delivers notification directives to users. The concrete
// channel is a webhook owned by the chat-bot frontend; it resolves
// recipient and scope into a private message.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dramline/caskwatch/internal/model"
	"github.com/dramline/caskwatch/internal/resilience"
)

// Notifier delivers one directive. A failed delivery is a non-fatal
// outcome for the cycle.
type Notifier interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// WebhookNotifier POSTs directives as JSON to a configured endpoint.
// Transient failures get one retry; anything else is the caller's problem.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhookNotifier creates a WebhookNotifier. timeout <= 0 defaults to
// 10 seconds.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  resilience.DefaultRetryConfig(),
	}
}

type webhookPayload struct {
	RecipientID string       `json:"recipient_id"`
	ScopeID     string       `json:"scope_id"`
	AlertKind   string       `json:"alert_kind"`
	AlertValue  string       `json:"alert_value"`
	Record      model.Record `json:"record"`
}

// Deliver sends one directive. A non-2xx response is an error; 5xx and 429
// are reported as transient so the caller's logging can tell them apart.
func (w *WebhookNotifier) Deliver(ctx context.Context, n model.Notification) error {
	if w.url == "" {
		return eris.New("notify: webhook url not configured")
	}

	body, err := json.Marshal(webhookPayload{
		RecipientID: n.RecipientID,
		ScopeID:     n.ScopeID,
		AlertKind:   string(n.Alert.Kind),
		AlertValue:  n.Alert.Value,
		Record:      n.Record,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post webhook")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode >= 300 {
		err := eris.Errorf("notify: webhook status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
