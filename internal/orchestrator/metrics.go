package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cognitive-trace/orchestrator")

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_submissions_total",
		Help: "Processed submissions by intervention type",
	}, []string{"intervention"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_rejected_total",
		Help: "Submissions rejected before tracing, by reason",
	}, []string{"reason"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_persist_failures_total",
		Help: "Exchanges whose first write failed and were handed to the spool",
	})

	spoolRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_spool_rejected_total",
		Help: "Exchanges the spool refused; their trace is lost",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_sessions",
		Help: "Session actors currently running",
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_process_seconds",
		Help:    "Submission processing latency including generation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
