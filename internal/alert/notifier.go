package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notifier delivers operational alerts to an external channel. Delivery is
// best-effort: a failing notifier must never block or fail the operation
// that raised the alert.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string, metadata map[string]string)
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, severity Severity, message string, metadata map[string]string) {
	evt := log.Warn()
	if severity == SeverityCritical {
		evt = log.Error()
	}
	evt.Str("severity", string(severity)).Fields(map[string]any{"alert": metadata}).Msg(message)
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, severity Severity, message string, metadata map[string]string) {
	payload, err := json.Marshal(map[string]any{
		"severity": severity,
		"message":  message,
		"metadata": metadata,
		"ts":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", n.url).Msg("alert webhook delivery failed")
		return
	}
	resp.Body.Close()
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, severity Severity, message string, metadata map[string]string) {
	for _, n := range m {
		n.Notify(ctx, severity, message, metadata)
	}
}
