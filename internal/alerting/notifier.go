// Package alerting matches new incidents against alert rules and dispatches
// notifications.
package alerting

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Notifier delivers one alert. It reports whether delivery succeeded and
// logs its own failures.
type Notifier interface {
	Notify(ctx context.Context, recipient, ruleName string, summary models.AlertSummary) bool
}

// LogNotifier writes alerts to the log. It is the fallback when no
// transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, recipient, ruleName string, summary models.AlertSummary) bool {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("alert triggered",
		slog.String("rule", ruleName),
		slog.String("recipient", recipient),
		slog.String("trace_id", summary.TraceID),
		slog.String("category", summary.Category),
		slog.String("priority", string(summary.Priority)),
	)
	return true
}

// MultiNotifier fans an alert out to every child. Delivery counts as
// successful when at least one child succeeds.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, recipient, ruleName string, summary models.AlertSummary) bool {
	delivered := false
	for _, n := range m {
		if n == nil {
			continue
		}
		if n.Notify(ctx, recipient, ruleName, summary) {
			delivered = true
		}
	}
	return delivered
}
