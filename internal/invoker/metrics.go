package invoker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cognitive-trace/invoker")

var (
	// invokeTotal counts invocations by provider, role and outcome
	// (ok | fallback).
	invokeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoker_calls_total",
		Help: "Model invocations by provider, role and outcome",
	}, []string{"provider", "role", "outcome"})

	// attemptTotal counts individual attempts by provider and error kind.
	attemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoker_attempts_total",
		Help: "Provider attempts by error kind (empty kind is success)",
	}, []string{"provider", "kind"})

	// retryTotal counts retries after a transient failure.
	retryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoker_retries_total",
		Help: "Retries after transient provider failures",
	}, []string{"provider"})

	// breakerTransitions counts circuit breaker state changes.
	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoker_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"provider", "from", "to"})

	// invokeDuration tracks wall-clock latency of a whole invocation.
	invokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoker_duration_seconds",
		Help:    "Invocation latency including retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"provider"})
)
