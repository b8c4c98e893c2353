package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-search-client/internal/cache"
	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/lifecycle"
	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/overload"
	"github.com/kjstillabower/city-search-client/internal/service"
)

func newTestHandler(t testing.TB) *Handler {
	t.Helper()
	c, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	return NewHandler(c, nil, zap.NewNop(), HealthConfig{})
}

func newTestRouter(t testing.TB, cfg RouterConfig) (*Handler, http.Handler) {
	t.Helper()
	h := newTestHandler(t)
	return h, NewRouter(h, zap.NewNop(), cfg)
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSearch_City(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	w := post(router, "/", `{"command":"searchCity","query":"Tokyo","maxItems":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp models.CitySearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Command != models.CommandSearchCity {
		t.Errorf("Command = %q", resp.Command)
	}
	if len(resp.Items) == 0 || resp.Items[0].Name != "Tokyo" {
		t.Errorf("Items = %+v, want Tokyo first", resp.Items)
	}
}

func TestSearch_CityNullAdminUnit(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	w := post(router, "/", `{"command":"searchCity","query":"Tokyo","maxItems":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var raw struct {
		Items []map[string]json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw.Items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(raw.Items))
	}
	if got, ok := raw.Items[0]["adminUnit"]; !ok {
		t.Error("adminUnit missing, want the key present")
	} else if string(got) != "null" && !strings.HasPrefix(string(got), `"`) {
		t.Errorf("adminUnit = %s, want null or a string", got)
	}
}

func TestSearch_Climate(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	w := post(router, "/", `{"command":"searchClimate","cityId":14823,"maxItems":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp models.ClimateSearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Command != models.CommandSearchClimate || len(resp.Items) == 0 || resp.Items[0].ID != 14823 {
		t.Errorf("resp = %+v, want Munich first", resp)
	}
}

func TestSearch_BadRequests(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	tests := []struct {
		name     string
		body     string
		wantBody string
	}{
		{"not json", `Tokyo`, "malformed request"},
		{"missing query", `{"command":"searchCity"}`, "query"},
		{"unknown command", `{"command":"searchWeather","query":"x"}`, "unknown command"},
		{"negative start", `{"command":"searchCity","query":"a","startIndex":-1}`, "invalid page"},
		{"max over limit", `{"command":"searchClimate","cityId":1,"maxItems":5000}`, "invalid page"},
		{"query too long", `{"command":"searchCity","query":"` + strings.Repeat("a", catalog.MaxQueryLength+1) + `"}`, "too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, "/", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to mention %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSearch_MethodNotAllowed(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestSearch_LogsRejectedRequestWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	c, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	router := NewRouter(NewHandler(c, nil, logger, HealthConfig{}), logger, RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(CorrelationIDHeader, "corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	entries := logs.FilterMessage("rejected request").All()
	if len(entries) != 1 {
		t.Fatalf("got %d rejected-request logs, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "corr-123" {
		t.Errorf("correlation_id = %v, want corr-123", got)
	}
}

func TestGetHealth(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	h, router := newTestRouter(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		Cities int    `json:"cities"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" || body.Cities != h.catalog.Len() {
		t.Errorf("health = %+v, want healthy with %d cities", body, h.catalog.Len())
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	_, router := newTestRouter(t, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "shutting-down") {
		t.Errorf("body = %s, want shutting-down", w.Body.String())
	}
}

func TestGetHealth_Overloaded(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	overload.Reset()
	defer overload.Reset()

	c, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	h := NewHandler(c, nil, zap.NewNop(), HealthConfig{RateLimitRPS: 1, OverloadWindow: 10 * time.Second, OverloadThresholdPct: 10})
	router := NewRouter(h, zap.NewNop(), RouterConfig{Limiter: rate.NewLimiter(1, 1)})

	// Threshold is one request in the window; the second (denied) one crosses it.
	post(router, "/", `{"command":"searchCity","query":"Oslo"}`)
	if w := post(router, "/", `{"command":"searchCity","query":"Oslo"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second search status = %d, want 429", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		Denied int    `json:"denied_in_window"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "overloaded" || body.Denied != 1 {
		t.Errorf("health = %+v, want overloaded with 1 denial", body)
	}
}

func TestSearch_CachedResponseMatches(t *testing.T) {
	c, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	mem := cache.NewInMemoryCache()
	svc := service.NewSearchService(c, service.Options{Cache: mem, TTL: time.Minute}, zap.NewNop())
	router := NewRouter(NewHandler(c, svc, zap.NewNop(), HealthConfig{}), zap.NewNop(), RouterConfig{})

	first := post(router, "/", `{"command":"searchCity","query":"Paris"}`)
	second := post(router, "/", `{"command":"searchCity","query":"Paris","startIndex":0,"maxItems":10}`)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d, %d, want 200", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("cached body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if mem.Len() != 1 {
		t.Errorf("cache entries = %d, want 1 (default page shares a key)", mem.Len())
	}

	if w := post(router, "/", `{"command":"searchCity","query":"Paris","maxItems":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid page status = %d, want 400", w.Code)
	}
	if mem.Len() != 1 {
		t.Errorf("cache entries = %d after rejected request, want 1", mem.Len())
	}
}

func TestGetHealth_CachePing(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	c, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}

	for _, tt := range []struct {
		name string
		ping func() error
		want string
	}{
		{"reachable", func() error { return nil }, "healthy"},
		{"unreachable", func() error { return errors.New("dial tcp: connection refused") }, "unhealthy"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(c, nil, zap.NewNop(), HealthConfig{CachePing: tt.ping})
			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var body struct {
				Status string `json:"status"`
				Cache  string `json:"cache"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if w.Code != http.StatusOK || body.Status != "healthy" {
				t.Errorf("health = %d %q, want 200 healthy (cache does not gate status)", w.Code, body.Status)
			}
			if body.Cache != tt.want {
				t.Errorf("cache = %q, want %q", body.Cache, tt.want)
			}
		})
	}
}

func TestTestEndpoints_DisabledByDefault(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{})

	if w := post(router, "/test/reset", ""); w.Code != http.StatusNotFound {
		t.Errorf("POST /test/reset status = %d, want 404 outside testing mode", w.Code)
	}
}

func TestPostTestAction_Fail(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{TestingMode: true})

	if w := post(router, "/test/fail?count=2", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /test/fail status = %d", w.Code)
	}
	body := `{"command":"searchCity","query":"Oslo"}`
	for i := 0; i < 2; i++ {
		if w := post(router, "/", body); w.Code != http.StatusServiceUnavailable {
			t.Errorf("request %d: status = %d, want 503", i, w.Code)
		}
	}
	if w := post(router, "/", body); w.Code != http.StatusOK {
		t.Errorf("request after faults: status = %d, want 200", w.Code)
	}
}

func TestPostTestAction_StatusAndReset(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{TestingMode: true})

	post(router, "/test/status?code=500", "")
	post(router, "/test/fail_all", "")
	body := `{"command":"searchCity","query":"Oslo"}`
	if w := post(router, "/", body); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want injected 500", w.Code)
	}

	post(router, "/test/reset", "")
	if w := post(router, "/", body); w.Code != http.StatusOK {
		t.Errorf("status after reset = %d, want 200", w.Code)
	}
}

func TestPostTestAction_Latency(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{TestingMode: true, RequestTimeout: 30 * time.Millisecond})

	post(router, "/test/latency?ms=1000", "")
	start := time.Now()
	w := post(router, "/", `{"command":"searchCity","query":"Oslo"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when latency exceeds the request timeout", w.Code)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("request took %v, want it bounded by the request timeout", elapsed)
	}
}

func TestPostTestAction_Invalid(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{TestingMode: true})

	tests := []struct {
		path string
		want int
	}{
		{"/test/latency?ms=-5", http.StatusBadRequest},
		{"/test/latency", http.StatusBadRequest},
		{"/test/status?code=200", http.StatusBadRequest},
		{"/test/explode", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := post(router, tt.path, ""); w.Code != tt.want {
			t.Errorf("POST %s status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestGetTestStatus(t *testing.T) {
	_, router := newTestRouter(t, RouterConfig{TestingMode: true})
	post(router, "/test/fail?count=4", "")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body struct {
		FailNext int `json:"fail_next"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FailNext != 4 {
		t.Errorf("fail_next = %d, want 4", body.FailNext)
	}
}
