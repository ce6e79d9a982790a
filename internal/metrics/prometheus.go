package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vt_analysis_duration_seconds",
			Help:    "Classifier round trip duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	RouteDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_route_decisions_total",
			Help: "Routed results by confidence band and final source",
		},
		[]string{"band", "source"},
	)

	TopConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vt_top_confidence_score",
			Help:    "Confidence of the classifier's top pattern",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.65, 0.75, 0.85, 0.9, 1.0},
		},
	)

	GenerativeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_generative_calls_total",
			Help: "Generative fallback calls by outcome",
		},
		[]string{"outcome"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	HistoryEntriesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vt_history_entries_recorded_total",
			Help: "Per-patient analyses persisted",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vt_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(AnalysisDuration)
		prometheus.MustRegister(RouteDecisions)
		prometheus.MustRegister(TopConfidence)
		prometheus.MustRegister(GenerativeCalls)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(HistoryEntriesRecorded)
		prometheus.MustRegister(RateLimited)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
