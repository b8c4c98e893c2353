package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/lifecycle"
	"github.com/kjstillabower/city-search-client/internal/overload"
	"github.com/kjstillabower/city-search-client/internal/service"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

// maxBodyBytes bounds request bodies; a search request is a few hundred bytes.
const maxBodyBytes = 64 << 10

// HealthConfig controls the overloaded health status. RateLimitRPS 0 disables it.
type HealthConfig struct {
	RateLimitRPS         int
	OverloadWindow       time.Duration
	OverloadThresholdPct int

	// CachePing, when set, reports cache reachability. Used when the backend is memcached.
	CachePing func() error
}

// Handler serves the search wire contract from an in-memory catalogue.
type Handler struct {
	catalog   *catalog.Catalog
	search    *service.SearchService
	logger    *zap.Logger
	health    HealthConfig
	startTime time.Time

	// Fault injection, set through /test/{action}.
	faultMu   sync.Mutex
	latency   time.Duration
	failNext  int
	failAll   bool
	badStatus int
}

// NewHandler returns a new Handler. A nil svc serves every request straight from c.
func NewHandler(c *catalog.Catalog, svc *service.SearchService, logger *zap.Logger, health HealthConfig) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		svc = service.NewSearchService(c, service.Options{}, logger)
	}
	return &Handler{
		catalog:   c,
		search:    svc,
		logger:    logger,
		health:    health,
		startTime: time.Now(),
		badStatus: http.StatusServiceUnavailable,
	}
}

// RouterConfig controls the optional parts of the stub router.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables 429s
	Metrics        http.Handler  // nil disables /metrics
	TestingMode    bool          // exposes /test fault injection
}

// NewRouter wires the handler and middleware.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	searchRouter := router.Path("/").Methods(http.MethodPost).Subrouter()
	searchRouter.Use(RateLimitMiddleware(cfg.Limiter))
	searchRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	searchRouter.NewRoute().HandlerFunc(h.Search)

	if cfg.TestingMode {
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods(http.MethodPost)
	}
	return router
}

// Search handles POST / with a searchCity or searchClimate body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	req, err := catalog.ParseRequest(body)
	if err != nil {
		loggerFrom(r, h.logger).Debug("rejected request", zap.Error(err))
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	if status, fail := h.injectFault(r.Context()); fail {
		writeText(w, status, http.StatusText(status))
		return
	}

	data, err := h.search.Search(r.Context(), req)
	switch {
	case r.Context().Err() != nil:
		writeText(w, http.StatusServiceUnavailable, "request timed out")
		return
	case errors.Is(err, validation.ErrQueryTooLong), errors.Is(err, validation.ErrInvalidPage):
		writeText(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		loggerFrom(r, h.logger).Error("search failed", zap.String("command", req.Command()), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// injectFault applies configured latency and failures. It reports the status
// to answer with when the request should fail.
func (h *Handler) injectFault(ctx context.Context) (int, bool) {
	h.faultMu.Lock()
	latency := h.latency
	fail := h.failAll || h.failNext > 0
	if h.failNext > 0 {
		h.failNext--
	}
	status := h.badStatus
	h.faultMu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return http.StatusServiceUnavailable, true
		}
	}
	return status, fail
}

// GetHealth handles GET /health. Decision order: shutting-down > overloaded > healthy.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"service":   "searchstub",
		"cities":    h.catalog.Len(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	hc := h.health
	if hc.RateLimitRPS > 0 {
		body["requests_in_window"] = overload.RequestCount(hc.OverloadWindow)
		body["denied_in_window"] = overload.DenialCount(hc.OverloadWindow)
		body["overload_threshold"] = overload.Threshold(hc.RateLimitRPS, hc.OverloadWindow, hc.OverloadThresholdPct)
	}

	if hc.CachePing != nil {
		if hc.CachePing() == nil {
			body["cache"] = "healthy"
		} else {
			body["cache"] = "unhealthy"
		}
	}

	switch {
	case lifecycle.IsShuttingDown():
		body["status"] = "shutting-down"
		body["draining_for"] = lifecycle.DrainingFor().Round(time.Millisecond).String()
		code = http.StatusServiceUnavailable
	case overload.Overloaded(hc.RateLimitRPS, hc.OverloadWindow, hc.OverloadThresholdPct):
		body["status"] = "overloaded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

// GetTestStatus handles GET /test and reports the active faults.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latency":    h.latency.String(),
		"fail_next":  h.failNext,
		"fail_all":   h.failAll,
		"err_status": h.badStatus,
	})
}

// PostTestAction handles POST /test/{action}.
//
//	latency?ms=6000   delay every search (exercises client timeouts)
//	fail?count=3      fail the next count searches
//	fail_all          fail every search until reset
//	status?code=429   status used for injected failures
//	reset             clear all faults and the overload window
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	q := r.URL.Query()

	h.faultMu.Lock()
	defer h.faultMu.Unlock()

	switch action {
	case "latency":
		ms, err := strconv.Atoi(q.Get("ms"))
		if err != nil || ms < 0 {
			writeText(w, http.StatusBadRequest, "ms must be a non-negative integer")
			return
		}
		h.latency = time.Duration(ms) * time.Millisecond
	case "fail":
		n, err := strconv.Atoi(q.Get("count"))
		if err != nil || n <= 0 {
			n = 1
		}
		h.failNext += n
	case "fail_all":
		h.failAll = true
	case "status":
		code, err := strconv.Atoi(q.Get("code"))
		if err != nil || code < 400 || code > 599 {
			writeText(w, http.StatusBadRequest, "code must be a 4xx or 5xx status")
			return
		}
		h.badStatus = code
	case "reset":
		h.latency, h.failNext, h.failAll = 0, 0, false
		h.badStatus = http.StatusServiceUnavailable
		overload.Reset()
	default:
		writeText(w, http.StatusNotFound, "unknown test action: "+action)
		return
	}
	loggerFrom(r, h.logger).Info("fault injection changed", zap.String("action", action))
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "action": action})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeText writes a plain-text error body, which is what search clients expect on 4xx/5xx.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}
