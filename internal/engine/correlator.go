package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// DefaultUserID is used when a run does not name a user.
const DefaultUserID = "default_user"

// CredentialSource resolves a user's credential.
type CredentialSource interface {
	Get(ctx context.Context, userID string) (models.Credential, error)
}

// LogSource returns trace-grouped log batches for a window.
type LogSource interface {
	FetchTraces(ctx context.Context, cred models.Credential, windowMinutes int) (*models.TraceSet, error)
}

// TraceAnalyzer analyses one trace.
type TraceAnalyzer interface {
	Analyze(ctx context.Context, traceID string, batch models.TraceBatch) (*models.Incident, error)
}

// CorrelatorConfig holds run defaults.
type CorrelatorConfig struct {
	DefaultWindowMinutes int
	MaxTraces            int
	// Concurrency caps simultaneous analyses; 0 runs every trace at once.
	Concurrency int
}

// Correlator fans a window's traces out to the analyzer.
type Correlator struct {
	credentials CredentialSource
	logs        LogSource
	analyzer    TraceAnalyzer
	cfg         CorrelatorConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewCorrelator wires a correlator.
func NewCorrelator(credentials CredentialSource, logs LogSource, analyzer TraceAnalyzer, cfg CorrelatorConfig, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultWindowMinutes <= 0 {
		cfg.DefaultWindowMinutes = 60
	}
	if cfg.MaxTraces <= 0 {
		cfg.MaxTraces = 10
	}
	return &Correlator{
		credentials: credentials,
		logs:        logs,
		analyzer:    analyzer,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Run resolves the user's credential, fetches the window's traces, analyses
// the first MaxTraces of them concurrently and returns the incidents in
// completion order. Per-trace failures are counted, never returned.
func (c *Correlator) Run(ctx context.Context, req models.AnalysisRequest) (models.AnalysisReport, error) {
	started := c.now()
	report := models.AnalysisReport{
		RunID:     uuid.NewString(),
		UserID:    req.UserID,
		Started:   started.UTC(),
		Incidents: []models.Incident{},
	}
	if report.UserID == "" {
		report.UserID = DefaultUserID
	}
	window := req.WindowMinutes
	if window <= 0 {
		window = c.cfg.DefaultWindowMinutes
	}
	maxTraces := req.MaxTraces
	if maxTraces <= 0 {
		maxTraces = c.cfg.MaxTraces
	}

	finish := func(err error) (models.AnalysisReport, error) {
		elapsed := c.now().Sub(started)
		report.Duration = elapsed.Seconds()
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.ObserveAnalysisRun(elapsed, outcome)
		return report, err
	}

	cred, err := c.credentials.Get(ctx, report.UserID)
	if err != nil {
		c.logger.Warn("credential resolution failed", slog.String("user_id", report.UserID), slog.Any("error", err))
		return finish(err)
	}
	report.ProjectID = cred.ProjectID

	traces, err := c.logs.FetchTraces(ctx, cred, window)
	if err != nil {
		return finish(utils.E(utils.KindUnknown, "engine.Run", "fetch traces", err))
	}
	if traces.Len() == 0 {
		c.logger.Info("no traces in window", slog.String("user_id", report.UserID), slog.Int("window_minutes", window))
		return finish(nil)
	}

	selected := traces.Order
	if len(selected) > maxTraces {
		selected = selected[:maxTraces]
	}
	report.Traces = len(selected)

	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	if c.cfg.Concurrency > 0 {
		g.SetLimit(c.cfg.Concurrency)
	}
	for _, traceID := range selected {
		traceID := traceID
		batch := traces.Batches[traceID]
		g.Go(func() error {
			incident, err := c.analyze(ctx, traceID, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return nil
			}
			if incident != nil {
				report.Incidents = append(report.Incidents, *incident)
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Failed = failed

	c.logger.Info("analysis run complete",
		slog.String("run_id", report.RunID),
		slog.String("user_id", report.UserID),
		slog.Int("traces", report.Traces),
		slog.Int("incidents", len(report.Incidents)),
		slog.Int("failed", failed),
	)
	return finish(nil)
}

func (c *Correlator) analyze(ctx context.Context, traceID string, batch models.TraceBatch) (incident *models.Incident, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("trace analysis panicked", slog.String("trace_id", traceID), slog.Any("panic", r))
			incident, err = nil, utils.E(utils.KindUnknown, "engine.analyze", "trace analysis panicked", nil)
		}
	}()
	return c.analyzer.Analyze(ctx, traceID, batch)
}
