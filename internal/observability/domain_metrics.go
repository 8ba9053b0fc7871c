package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdb_questions_total",
			Help: "Total number of submitted questions by outcome.",
		},
		[]string{"status", "error_kind"},
	)
	generationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatdb_generation_latency_seconds",
			Help:    "Latency of the model call that turns a prompt into SQL.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)
	executionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatdb_execution_latency_seconds",
			Help:    "Latency of executing generated SQL against the session database.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdb_sessions_active",
			Help: "Current number of live sessions.",
		},
	)
	sessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdb_sessions_evicted_total",
			Help: "Total number of sessions torn down after idling.",
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdb_exports_total",
			Help: "Total number of object store exports by kind and status.",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		generationLatencySeconds,
		executionLatencySeconds,
		sessionsActive,
		sessionsEvictedTotal,
		exportsTotal,
	)
}

// ObserveQuestion records the outcome of one pipeline turn. errorKind is
// empty for successful turns.
func ObserveQuestion(status, errorKind string) {
	questionsTotal.WithLabelValues(status, errorKind).Inc()
}

func ObserveGeneration(elapsed time.Duration) {
	generationLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveExecution(elapsed time.Duration) {
	executionLatencySeconds.Observe(elapsed.Seconds())
}

func SetActiveSessions(n int) {
	if n < 0 {
		n = 0
	}
	sessionsActive.Set(float64(n))
}

func AddEvictedSessions(n int) {
	if n > 0 {
		sessionsEvictedTotal.Add(float64(n))
	}
}

func ObserveExport(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	exportsTotal.WithLabelValues(kind, status).Inc()
}
