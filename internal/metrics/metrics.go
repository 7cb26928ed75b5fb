package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (pipeline or dependency issues).
	OutcomeError = "error"

	// TraceIncident labels traces that produced an incident.
	TraceIncident = "incident"
	// TraceSkipped labels traces whose enrichment returned nothing.
	TraceSkipped = "skipped"
	// TracePersistFailed labels traces whose incident could not be stored.
	TracePersistFailed = "persist_failed"
)

var (
	analysisRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "analysis_runs_total",
			Help:      "Total number of correlation runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_incidents",
			Name:      "analysis_run_seconds",
			Help:      "Correlation run latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
		},
	)

	tracesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "traces_analyzed_total",
			Help:      "Traces handled by the analyzer, partitioned by result.",
		},
		[]string{"result"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "auto_escalations_total",
			Help:      "Incidents whose priority was forced to P0 by log volume.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "alerts_dispatched_total",
			Help:      "Alert notifications attempted, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	workerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "alert_worker_ticks_total",
			Help:      "Alert worker polling ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	credentialRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_incidents",
			Name:      "credential_refreshes_total",
			Help:      "OAuth token refresh attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysisRunsTotal,
		analysisDurationSeconds,
		tracesTotal,
		escalationsTotal,
		alertsTotal,
		workerTicksTotal,
		credentialRefreshesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysisRun records a correlation run duration and outcome label.
func ObserveAnalysisRun(duration time.Duration, outcome string) {
	observeOutcome(analysisRunsTotal, outcome)
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveTrace counts one analyzed trace.
func ObserveTrace(result string) {
	tracesTotal.WithLabelValues(result).Inc()
}

// ObserveEscalation counts one auto-escalated incident.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveAlert counts one notification attempt.
func ObserveAlert(ok bool) {
	if ok {
		alertsTotal.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	alertsTotal.WithLabelValues(OutcomeError).Inc()
}

// ObserveWorkerTick counts one alert worker tick.
func ObserveWorkerTick(outcome string) {
	observeOutcome(workerTicksTotal, outcome)
}

// ObserveCredentialRefresh counts one token refresh attempt.
func ObserveCredentialRefresh(outcome string) {
	observeOutcome(credentialRefreshesTotal, outcome)
}

func observeOutcome(vec *prometheus.CounterVec, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	vec.WithLabelValues(label).Inc()
}
