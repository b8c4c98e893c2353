package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/city-search-client/internal/traffic"
)

var (
	registry *prometheus.Registry

	// Accepted query changes (after normalization and dedup) per search kind. Watch for: typing volume.
	SearchQueriesTotal *prometheus.CounterVec

	// State machine transitions by phase entered. delay >> fetching means debounce is doing its job.
	SearchTransitionsTotal *prometheus.CounterVec

	// Events dropped because their query is no longer live. Watch for: high fetch_succeeded = slow backend.
	SearchStaleEventsTotal *prometheus.CounterVec

	// Outbound calls to the search service by command and outcome.
	SearchAPICallsTotal *prometheus.CounterVec

	// Search service latency per call. Watch for: p99 approaching the dispatch timeout.
	SearchAPIDuration *prometheus.HistogramVec

	// Failed dispatches by category (timeout, network, upstream_5xx, ...).
	SearchAPIErrorsTotal *prometheus.CounterVec

	// Dispatches still outstanding, including superseded ones.
	SearchRequestsInFlight prometheus.Gauge

	// Circuit breaker state per component: 0=closed, 1=open, 2=half_open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping between open and half_open.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Requests served by the stub backend.
	HTTPRequestsTotal *prometheus.CounterVec

	// Stub backend latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Stub requests rejected with 429 by the token bucket.
	RateLimitDeniedTotal prometheus.Counter

	// Stub response cache hits and misses by command.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache get/set failures by operation and category (timeout, connection, unknown).
	CacheErrorsTotal *prometheus.CounterVec

	// Cache get/set latency. Watch for: memcached p99 close to its client timeout.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Misses that found another miss for the same key in progress.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Requests that shared an in-flight computation instead of running their own.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Cache warming runs, failed runs and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	outcomeGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	SearchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchQueriesTotal",
			Help: "Total number of accepted query changes",
		},
		[]string{"kind"},
	)
	SearchTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchTransitionsTotal",
			Help: "Search state machine transitions by phase entered",
		},
		[]string{"kind", "phase"},
	)
	SearchStaleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchStaleEventsTotal",
			Help: "Events ignored because their query no longer matches the live query",
		},
		[]string{"kind", "event"},
	)
	SearchAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchApiCallsTotal",
			Help: "Total number of search service calls",
		},
		[]string{"command", "status"},
	)
	SearchAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searchApiDurationSeconds",
			Help:    "Search service latency in seconds (per call)",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"command", "status"},
	)
	SearchAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchApiErrorsTotal",
			Help: "Failed dispatches by error category",
		},
		[]string{"category"},
	)
	SearchRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "searchRequestsInFlight",
			Help: "Number of dispatched search requests not yet settled",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests rejected by the rate limiter",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Stub response cache hits",
		},
		[]string{"command"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Stub response cache misses",
		},
		[]string{"command"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation failures",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"operation", "status"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another miss for the same key",
		},
		[]string{"command"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by a shared in-flight computation",
		},
		[]string{"command"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed command",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		SearchQueriesTotal, SearchTransitionsTotal, SearchStaleEventsTotal,
		SearchAPICallsTotal, SearchAPIDuration, SearchAPIErrorsTotal,
		SearchRequestsInFlight,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		HTTPRequestsTotal, HTTPRequestDuration, RateLimitDeniedTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RegisterOutcomeGauges registers sliding-window gauges over dispatch outcomes.
// Call once from main after config load.
func RegisterOutcomeGauges(window time.Duration) {
	outcomeGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "searchOutcomesInWindow",
					Help: "Settled dispatches (success + failure) in the sliding window",
				},
				func() float64 {
					_, total := traffic.FailureRate(window)
					return float64(total)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "searchFailuresInWindow",
					Help: "Failed or timed out dispatches in the sliding window",
				},
				func() float64 {
					failures, _ := traffic.FailureRate(window)
					return float64(failures)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "searchStaleInWindow",
					Help: "Dispatch outcomes discarded as stale in the sliding window",
				},
				func() float64 { return float64(traffic.StaleCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
