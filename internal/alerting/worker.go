package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/metrics"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// State is the worker lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

const (
	// DefaultInterval is the polling period.
	DefaultInterval = 10 * time.Second
	// DefaultRecentWindow is how many of the newest incidents each tick inspects.
	DefaultRecentWindow = 20
)

// RuleSource lists enabled alert rules.
type RuleSource interface {
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)
}

// IncidentSource lists the most recent incidents.
type IncidentSource interface {
	Recent(ctx context.Context, limit int) ([]models.Incident, error)
}

// Config tunes the worker.
type Config struct {
	Interval     time.Duration
	RecentWindow int
	Recipient    string
}

// Worker polls for new incidents and alerts once per incident and rule. The
// set of processed incident ids lives only in this process.
type Worker struct {
	rules     RuleSource
	incidents IncidentSource
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	tickMu sync.Mutex
	seen   map[string]struct{}
}

// NewWorker constructs a stopped worker.
func NewWorker(rules RuleSource, incidents IncidentSource, notifier Notifier, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	return &Worker{
		rules:     rules,
		incidents: incidents,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		state:     StateStopped,
		seen:      make(map[string]struct{}),
	}
}

// Start launches the polling loop. Calling it while running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateRunning
	go w.loop(loopCtx, w.done)
	w.logger.Info("alert worker started", slog.Duration("interval", w.cfg.Interval))
}

// Stop marks the worker stopped and waits for the loop to exit. An in-flight
// tick is allowed to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("alert worker stopped")
}

// State reports whether the loop is running.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) running() bool {
	return w.State() == StateRunning
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// ctx only interrupts the wait between ticks; a tick in flight runs to
	// completion so an incident is never marked seen with its alert undelivered.
	tickCtx := context.WithoutCancel(ctx)
	for w.running() {
		w.safeTick(tickCtx)
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.state = StateStopped
			w.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveWorkerTick(metrics.OutcomeError)
			w.logger.Error("alert worker tick panicked", slog.Any("panic", r))
		}
	}()
	if _, err := w.Tick(ctx); err != nil {
		metrics.ObserveWorkerTick(metrics.OutcomeError)
		w.logger.Error("alert worker tick failed", slog.Any("error", err))
		return
	}
	metrics.ObserveWorkerTick(metrics.OutcomeSuccess)
}

// Tick runs one evaluation pass and returns the number of notifications
// dispatched. Every inspected incident is marked processed whether or not a
// rule matched. With no enabled rules nothing is marked.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	rules, err := w.rules.ListEnabledRules(ctx)
	if err != nil {
		return 0, utils.E(utils.KindStoreUnavailable, "alerting.Tick", "load alert rules", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	incidents, err := w.incidents.Recent(ctx, w.cfg.RecentWindow)
	if err != nil {
		return 0, utils.E(utils.KindStoreUnavailable, "alerting.Tick", "load recent incidents", err)
	}

	sent := 0
	for _, incident := range incidents {
		if _, ok := w.seen[incident.ID]; ok {
			continue
		}
		sent += w.evaluate(ctx, incident, rules)
		w.seen[incident.ID] = struct{}{}
	}
	return sent, nil
}

func (w *Worker) evaluate(ctx context.Context, incident models.Incident, rules []models.AlertRule) (sent int) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("rule evaluation failed",
				slog.String("incident_id", incident.ID),
				slog.Any("error", utils.E(utils.KindRuleMatchError, "alerting.evaluate", fmt.Sprint(r), nil)),
			)
		}
	}()

	category := incident.Analysis.Category
	if category == "" {
		category = "unknown"
	}
	for _, rule := range rules {
		if !strings.EqualFold(rule.Category, category) {
			continue
		}
		w.logger.Info("alert rule matched",
			slog.String("incident_id", incident.ID),
			slog.String("rule", rule.Name),
			slog.String("category", category),
		)
		if w.cfg.Recipient == "" {
			w.logger.Warn("no alert recipient configured; skipping notification", slog.String("rule", rule.Name))
			continue
		}
		ok := w.notifier.Notify(ctx, w.cfg.Recipient, rule.Name, incident.Summary())
		metrics.ObserveAlert(ok)
		if ok {
			sent++
		}
	}
	return sent
}
