package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/city-search-client/internal/traffic"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, search and http packages.
func TestMetrics_Usable(t *testing.T) {
	SearchQueriesTotal.WithLabelValues("city").Inc()
	SearchTransitionsTotal.WithLabelValues("city", "delay").Inc()
	SearchStaleEventsTotal.WithLabelValues("city", "fetch_succeeded").Inc()
	SearchAPICallsTotal.WithLabelValues("searchCity", "success").Inc()
	SearchAPIDuration.WithLabelValues("searchCity", "success").Observe(0.05)
	SearchAPIErrorsTotal.WithLabelValues("timeout").Inc()
	SearchRequestsInFlight.Inc()
	SearchRequestsInFlight.Dec()
	HTTPRequestsTotal.WithLabelValues("POST", "/", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("POST", "/").Observe(0.01)
	RateLimitDeniedTotal.Inc()
	CacheHitsTotal.WithLabelValues("searchCity").Inc()
	CacheMissesTotal.WithLabelValues("searchClimate").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(0.001)
	CacheStampedeDetectedTotal.WithLabelValues("searchCity").Inc()
	RequestCoalescingHitsTotal.WithLabelValues("searchCity").Inc()
	CacheWarmingTotal.Inc()
	CacheWarmingErrorsTotal.Inc()
	CacheWarmingDurationSeconds.Observe(0.2)
	RecordCircuitBreakerTransition("search_api", "closed", "open", 1)
}

// TestRegisterOutcomeGauges_Idempotent verifies that registering the window
// gauges twice does not panic on duplicate registration.
func TestRegisterOutcomeGauges_Idempotent(t *testing.T) {
	traffic.Reset()
	RegisterOutcomeGauges(time.Minute)
	RegisterOutcomeGauges(time.Minute)
	traffic.RecordFailure()
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	SearchQueriesTotal.WithLabelValues("city").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "searchQueriesTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
