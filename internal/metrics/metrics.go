package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_fetch_attempts_total",
			Help: "HTTP fetch attempts by host and outcome",
		},
		[]string{"host", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidintel_fetch_duration_seconds",
			Help:    "Duration of a logical fetch including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	KeyPoolEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_keypool_events_total",
			Help: "Credential pool events (acquire, success, disabled, exhausted, quota)",
		},
		[]string{"event"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_ai_requests_total",
			Help: "AI provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidintel_ai_request_duration_seconds",
			Help:    "AI provider call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	AITokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_ai_tokens_total",
			Help: "Tokens reported by AI providers",
		},
		[]string{"provider"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_decisions_total",
			Help: "Decisions produced by recommendation and rationale source",
		},
		[]string{"recommendation", "rationale_source"},
	)

	DecisionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bidintel_decision_score",
			Help:    "Distribution of overall decision scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	PipelineNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidintel_pipeline_notices_total",
			Help: "Notices processed by the pipeline by outcome",
		},
		[]string{"outcome"},
	)

	PipelineActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidintel_pipeline_active_workers",
			Help: "Notices currently being processed",
		},
	)
)
