package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// WebhookConfig configures the HTTP notifier.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookNotifier posts alerts as JSON to a remote endpoint.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

type webhookPayload struct {
	Rule      string              `json:"rule"`
	Recipient string              `json:"recipient,omitempty"`
	Incident  models.AlertSummary `json:"incident"`
	SentAt    time.Time           `json:"sent_at"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, recipient, ruleName string, summary models.AlertSummary) bool {
	if err := w.post(ctx, webhookPayload{Rule: ruleName, Recipient: recipient, Incident: summary, SentAt: time.Now().UTC()}); err != nil {
		w.logger.Warn("webhook alert failed", slog.String("rule", ruleName), slog.String("trace_id", summary.TraceID), slog.Any("error", err))
		return false
	}
	return true
}

func (w *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}
	return nil
}
