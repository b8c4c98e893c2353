package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-search-client/internal/cache"
	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/observability"
)

// Backend answers a parsed search request. *catalog.Catalog implements it.
type Backend interface {
	Handle(req catalog.Request) (any, error)
}

// SearchService serves encoded search responses using cache-aside over a
// Backend. With a nil cache every request reaches the backend.
type SearchService struct {
	backend   Backend
	cache     cache.Cache
	ttl       time.Duration
	misses    *missTracker
	coalescer *requestCoalescer // nil if disabled
	logger    *zap.Logger
}

// Options configures caching. The zero value disables both caching and coalescing.
type Options struct {
	Cache           cache.Cache
	TTL             time.Duration
	CoalesceTimeout time.Duration // 0 disables request coalescing
}

// NewSearchService creates a SearchService over backend.
func NewSearchService(backend Backend, opts Options, logger *zap.Logger) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SearchService{
		backend: backend,
		cache:   opts.Cache,
		ttl:     opts.TTL,
		misses:  newMissTracker(),
		logger:  logger,
	}
	if opts.CoalesceTimeout > 0 {
		s.coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return s
}

// Search returns the JSON-encoded response for req. Backend errors are
// returned unchanged and never cached.
func (s *SearchService) Search(ctx context.Context, req catalog.Request) ([]byte, error) {
	key := req.CacheKey()
	command := req.Command()
	start := time.Now()

	if s.cache != nil {
		if data, ok := s.get(ctx, command, key); ok {
			s.logger.Debug("search served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			return data, nil
		}
		observability.CacheMissesTotal.WithLabelValues(command).Inc()
	}

	if n := s.misses.Begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(command).Inc()
	}
	defer s.misses.End(key)

	compute := func() ([]byte, error) {
		resp, err := s.backend.Handle(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}

	var (
		data []byte
		err  error
	)
	if s.coalescer != nil {
		var shared bool
		data, shared, err = s.coalescer.Do(ctx, key, compute)
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(command).Inc()
		}
	} else {
		data, err = compute()
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.set(ctx, command, key, data)
	}
	s.logger.Debug("search served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return data, nil
}

// Warm runs one simple command (a city name, or a city id for climate)
// through Search so its default page is cached.
func (s *SearchService) Warm(ctx context.Context, command string) error {
	req, err := catalog.ParseCommand(command)
	if err != nil {
		return err
	}
	_, err = s.Search(ctx, req)
	return err
}

// get reads key from the cache. Cache errors count as misses.
func (s *SearchService) get(ctx context.Context, command, key string) ([]byte, bool) {
	getStart := time.Now()
	data, ok, err := s.cache.Get(ctx, key)
	duration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
		observability.CacheHitsTotal.WithLabelValues(command).Inc()
		return data, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
		return nil, false
	}
}

func (s *SearchService) set(ctx context.Context, command, key string, data []byte) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		s.logger.Warn("cache set failed", zap.String("command", command), zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "unknown"
}
