package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func benchmarkSearch(b *testing.B, cfg RouterConfig, body string) {
	_, router := newTestRouter(b, cfg)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

func BenchmarkSearch_City(b *testing.B) {
	benchmarkSearch(b, RouterConfig{}, `{"command":"searchCity","query":"san","maxItems":10}`)
}

func BenchmarkSearch_Climate(b *testing.B) {
	benchmarkSearch(b, RouterConfig{}, `{"command":"searchClimate","cityId":16709}`)
}

// BenchmarkSearch_WithMiddleware runs the full chain with a limiter that never denies.
func BenchmarkSearch_WithMiddleware(b *testing.B) {
	benchmarkSearch(b, RouterConfig{Limiter: rate.NewLimiter(rate.Inf, 1), RequestTimeout: 5 * time.Second},
		`{"command":"searchCity","query":"tok"}`)
}
