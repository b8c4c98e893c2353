package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-search-client/internal/cache"
	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/config"
	httphandler "github.com/kjstillabower/city-search-client/internal/http"
	"github.com/kjstillabower/city-search-client/internal/lifecycle"
	"github.com/kjstillabower/city-search-client/internal/observability"
	"github.com/kjstillabower/city-search-client/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	cat, err := catalog.Load()
	if err != nil {
		logger.Fatal("catalog", zap.Error(err))
	}
	logger.Info("catalog loaded", zap.Int("cities", cat.Len()))

	var limiter *rate.Limiter
	if cfg.StubRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.StubRateLimitRPS), cfg.StubRateLimitBurst)
	}

	healthConfig := httphandler.HealthConfig{
		RateLimitRPS:         cfg.StubRateLimitRPS,
		OverloadWindow:       cfg.StubOverloadWindow,
		OverloadThresholdPct: cfg.StubOverloadThresholdPct,
	}

	opts := service.Options{TTL: cfg.StubCacheTTL, CoalesceTimeout: cfg.StubCoalesceTimeout}
	var memcacheCloser *cache.MemcachedCache
	switch cfg.StubCacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.StubMemcachedAddrs, cfg.StubMemcachedTimeout, cfg.StubMemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		opts.Cache = mc
		healthConfig.CachePing = mc.Ping
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.StubMemcachedAddrs))
	case "memory":
		opts.Cache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	default:
		logger.Info("response cache disabled")
	}
	searchService := service.NewSearchService(cat, opts, logger)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()
	if opts.Cache != nil && len(cfg.StubWarmCommands) > 0 {
		warmer := cache.NewCacheWarmer(searchService, logger)
		if cfg.StubWarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(appCtx, cfg.StubWarmCommands, cfg.StubWarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			warmCtx, warmCancel := context.WithTimeout(appCtx, 30*time.Second)
			if err := warmer.Warm(warmCtx, cfg.StubWarmCommands); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}

	handler := httphandler.NewHandler(cat, searchService, logger, healthConfig)
	if cfg.StubTestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.StubRequestTimeout,
		Limiter:        limiter,
		Metrics:        observability.MetricsHandler(),
		TestingMode:    cfg.StubTestingMode,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.StubPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.StubRequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.StubPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	appCancel()
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Warn("memcached close", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
