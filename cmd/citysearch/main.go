package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/circuitbreaker"
	"github.com/kjstillabower/city-search-client/internal/client"
	"github.com/kjstillabower/city-search-client/internal/config"
	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/observability"
	"github.com/kjstillabower/city-search-client/internal/search"
	"github.com/kjstillabower/city-search-client/internal/tui"
)

// outcomeWindow is the sliding window behind the search outcome gauges.
const outcomeWindow = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewFileLogger(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	searchClient, err := newSearchClient(cfg, logger)
	if err != nil {
		logger.Error("search client", zap.Error(err))
		fmt.Fprintf(os.Stderr, "search client: %v\n", err)
		os.Exit(1)
	}

	// citysearch <command> runs one request and prints the JSON response.
	if len(os.Args) > 1 {
		err = runOnce(searchClient, strings.Join(os.Args[1:], " "), cfg.SearchAPITimeout)
	} else {
		err = runInteractive(cfg, searchClient, logger)
	}
	if flushErr := observability.FlushTelemetry(context.Background(), logger); flushErr != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", flushErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSearchClient(cfg *config.Config, logger *zap.Logger) (*client.HTTPClient, error) {
	c, err := client.NewHTTPClient(cfg.SearchAPIURL, cfg.SearchAPITimeout)
	if err != nil {
		return nil, err
	}

	if cfg.CircuitBreakerEnabled {
		const component = "search_api"
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        component,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		c.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues(component).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	if cfg.RateLimitRPS > 0 {
		c.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))
		logger.Info("outbound rate limit enabled", zap.Int("rps", cfg.RateLimitRPS), zap.Int("burst", cfg.RateLimitBurst))
	}
	return c, nil
}

func runOnce(c client.SearchClient, line string, timeout time.Duration) error {
	req, err := catalog.ParseCommand(line)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var resp any
	switch {
	case req.Climate != nil:
		resp, err = c.SearchClimate(ctx, *req.Climate)
	default:
		resp, err = c.SearchCity(ctx, *req.City)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", req.Command(), err)
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runInteractive(cfg *config.Config, c client.SearchClient, logger *zap.Logger) error {
	cities := search.NewController[models.CityItem](
		client.CityFetcher{Client: c, MaxItems: models.IntPtr(cfg.MaxItems)},
		search.Config{Kind: "city", Delay: cfg.DebounceDelay, Timeout: cfg.SearchAPITimeout, Logger: logger},
	)
	climate := search.NewController[models.ClimateItem](
		client.ClimateFetcher{Client: c, MaxItems: models.IntPtr(cfg.ClimateMaxItems)},
		search.Config{Kind: "climate", Delay: cfg.DebounceDelay, Timeout: cfg.SearchAPITimeout, Logger: logger},
	)

	observability.RegisterOutcomeGauges(outcomeWindow)
	metricsSrv := startMetrics(cfg.MetricsAddr, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); cities.Run(runCtx) }()
	go func() { defer wg.Done(); climate.Run(runCtx) }()

	p := tea.NewProgram(tui.New(cities, climate), tea.WithAltScreen())

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		p.Quit()
	}()

	logger.Info("citysearch started", zap.String("search_api", cfg.SearchAPIURL))
	_, runErr := p.Run()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	for name, ctrl := range map[string]interface {
		Shutdown(context.Context) error
		InFlight() int64
	}{"city": cities, "climate": climate} {
		if err := ctrl.Shutdown(drainCtx); err != nil {
			logger.Warn("in-flight searches not settled", zap.String("kind", name), zap.Int64("remaining", ctrl.InFlight()), zap.Error(err))
		}
	}
	cancelRun()
	wg.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}
	}
	logger.Info("citysearch stopped")
	return runErr
}

// startMetrics serves /metrics on addr. An empty addr disables it.
func startMetrics(addr string, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	router := mux.NewRouter()
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listener starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()
	return srv
}
