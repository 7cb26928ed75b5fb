// Package engine turns trace batches into persisted, prioritised incidents.
package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const (
	// DefaultEscalationThreshold is the batch size above which an incident is
	// forced to P0.
	DefaultEscalationThreshold = 5
	// DefaultContextLogs bounds the log entries stored with an incident.
	DefaultContextLogs = 20
)

// Enricher produces the structured analysis of one trace. A nil result with
// a nil error means the enrichment had nothing to say.
type Enricher interface {
	Enrich(ctx context.Context, traceID string, batch models.TraceBatch) (*models.AnalysisResult, error)
}

// IncidentWriter persists incidents.
type IncidentWriter interface {
	Append(ctx context.Context, incident models.Incident) (models.Incident, error)
}

// AnalyzerConfig tunes escalation and stored context.
type AnalyzerConfig struct {
	EscalationThreshold int
	ContextLogs         int
}

// Analyzer enriches, escalates, normalises and persists one trace at a time.
type Analyzer struct {
	enricher  Enricher
	incidents IncidentWriter
	cfg       AnalyzerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzer wires an analyzer. Zero config values take the defaults.
func NewAnalyzer(enricher Enricher, incidents IncidentWriter, cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = DefaultEscalationThreshold
	}
	if cfg.ContextLogs <= 0 {
		cfg.ContextLogs = DefaultContextLogs
	}
	return &Analyzer{
		enricher:  enricher,
		incidents: incidents,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze returns the stored incident for the trace, or nil when enrichment
// produced nothing. Failures are logged and counted here and also returned so
// the caller can tally them; they never carry a partial incident.
func (a *Analyzer) Analyze(ctx context.Context, traceID string, batch models.TraceBatch) (*models.Incident, error) {
	result, err := a.enricher.Enrich(ctx, traceID, batch)
	if err != nil {
		a.logger.Warn("enrichment failed; skipping trace", slog.String("trace_id", traceID), slog.Any("error", err))
		metrics.ObserveTrace(metrics.TraceSkipped)
		return nil, err
	}
	if result == nil {
		a.logger.Warn("enrichment returned no analysis; skipping trace", slog.String("trace_id", traceID))
		metrics.ObserveTrace(metrics.TraceSkipped)
		return nil, nil
	}

	analysis := *result
	if analysis.Priority == "" {
		analysis.Priority = models.PriorityP2
	}
	if escalated := Escalate(analysis.Priority, len(batch), a.cfg.EscalationThreshold); escalated != analysis.Priority {
		analysis.Priority = escalated
		metrics.ObserveEscalation()
	}
	analysis.Confidence = NormalizeConfidence(analysis.Confidence)

	incident := models.Incident{
		TraceID:         traceID,
		ServiceName:     batch.Service(),
		Timestamp:       a.now().UTC(),
		OccurrenceCount: len(batch),
		Analysis:        analysis,
		Logs:            batch.Head(a.cfg.ContextLogs),
		Status:          models.StatusOpen,
	}

	stored, err := a.incidents.Append(ctx, incident)
	if err != nil {
		a.logger.Error("failed to persist incident", slog.String("trace_id", traceID), slog.Any("error", err))
		metrics.ObserveTrace(metrics.TracePersistFailed)
		return nil, utils.E(utils.KindStoreUnavailable, "engine.Analyze", "persist incident", err)
	}
	metrics.ObserveTrace(metrics.TraceIncident)
	return &stored, nil
}

// Escalate forces P0 (Auto-Escalated) when a batch has more than threshold
// entries.
func Escalate(priority models.Priority, logCount, threshold int) models.Priority {
	if logCount > threshold {
		return models.PriorityAutoEscalated
	}
	return priority
}

// NormalizeConfidence maps a [0,1] score onto [0,100]; values above 1 are
// taken as already normalised. The result is clamped to [0,100]. Analyze is
// the only caller, once per incident.
func NormalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c <= 1.0 {
		return math.Round(c * 100)
	}
	if c > 100 {
		return 100
	}
	return c
}
