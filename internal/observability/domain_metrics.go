package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	AskOutcomeAnswered  = "answered"
	AskOutcomeExhausted = "exhausted"
	AskOutcomeFailed    = "failed"

	StageCodeSynthesis   = "code"
	StageAnswerSynthesis = "answer"
)

var (
	askTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_ask_total",
			Help: "Total number of ask calls by outcome.",
		},
		[]string{"outcome"},
	)
	askAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_ask_attempts",
			Help:    "Number of generate/execute attempts used per ask call.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)
	executionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_execution_failures_total",
			Help: "Total number of generated scripts that failed during execution.",
		},
	)
	executionDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_execution_duration_ms",
			Help:    "Sandboxed execution latency in milliseconds, including dataset copy.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	completionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablechat_completion_latency_ms",
			Help:    "Completion service round-trip latency in milliseconds by stage.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 60000},
		},
		[]string{"stage"},
	)
	completionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_completion_errors_total",
			Help: "Total number of failed completion service calls by stage.",
		},
		[]string{"stage"},
	)
	cachedPipelines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_cached_pipelines",
			Help: "Current number of cached pipeline instances.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		askTotal,
		askAttempts,
		executionFailuresTotal,
		executionDurationMs,
		completionLatencyMs,
		completionErrorsTotal,
		cachedPipelines,
	)
}

func ObserveAsk(outcome string, attempts int) {
	askTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		askAttempts.Observe(float64(attempts))
	}
}

func ObserveExecution(elapsed time.Duration, failed bool) {
	executionDurationMs.Observe(float64(elapsed.Milliseconds()))
	if failed {
		executionFailuresTotal.Inc()
	}
}

func ObserveCompletion(stage string, elapsed time.Duration, err error) {
	completionLatencyMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
	if err != nil {
		completionErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func SetCachedPipelines(count int) {
	if count < 0 {
		count = 0
	}
	cachedPipelines.Set(float64(count))
}
