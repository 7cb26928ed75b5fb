package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

func TestEmailNotifierSkipsWithoutSender(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{}, nil)
	n.send = func(context.Context, string, string, []byte) error {
		t.Fatalf("send should not be called")
		return nil
	}
	assert.False(t, n.Notify(context.Background(), "oncall@example.com", "db", models.AlertSummary{}))
}

func TestEmailNotifierRendersMessage(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Username: "bot@example.com", Password: "secret", DashboardURL: "https://incidents.example.com"}, nil)

	var sentTo string
	var body string
	n.send = func(_ context.Context, from, to string, msg []byte) error {
		assert.Equal(t, "bot@example.com", from)
		sentTo = to
		body = string(msg)
		return nil
	}

	ok := n.Notify(context.Background(), "oncall@example.com", "db\r\nBcc: x", models.AlertSummary{
		TraceID:      "trace-9",
		Category:     "Database",
		Priority:     models.PriorityAutoEscalated,
		RedactedText: "<pool> exhausted",
	})
	require.True(t, ok)
	assert.Equal(t, "oncall@example.com", sentTo)
	assert.Contains(t, body, "Subject: CLOUD ALERT: db  Bcc: x\r\n")
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "- Trace ID: trace-9")
	assert.Contains(t, body, "&lt;pool&gt; exhausted")
	assert.True(t, strings.Contains(body, "https://incidents.example.com"))
}

func TestEmailNotifierSendFailure(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Username: "bot@example.com", Password: "secret"}, nil)
	n.send = func(context.Context, string, string, []byte) error { return errors.New("connection refused") }
	assert.False(t, n.Notify(context.Background(), "oncall@example.com", "db", models.AlertSummary{}))
}
