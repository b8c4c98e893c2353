package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-search-client/internal/observability"
)

// Warmer is implemented by the service layer. Warm runs one simple command
// (a city name, or a city id for climate) through the cache-aside path.
type Warmer interface {
	Warm(ctx context.Context, command string) error
}

// CacheWarmer prefetches responses for a fixed list of commands.
type CacheWarmer struct {
	warmer Warmer
	logger *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given warmer and logger.
func NewCacheWarmer(warmer Warmer, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{warmer: warmer, logger: logger}
}

// Warm runs every command concurrently. Returns the joined per-command errors.
func (w *CacheWarmer) Warm(ctx context.Context, commands []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("commands", len(commands)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, cmd := range commands {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.warmer.Warm(ctx, cmd); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %q: %w", cmd, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("commands", len(commands)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, commands []string, interval time.Duration) error {
	if err := w.Warm(ctx, commands); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, commands); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
