package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/city-search-client/internal/cache"
	"github.com/kjstillabower/city-search-client/internal/catalog"
	"github.com/kjstillabower/city-search-client/internal/models"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

type mockBackend struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (m *mockBackend) Handle(req catalog.Request) (any, error) {
	m.mu.Lock()
	m.calls++
	err, delay := m.err, m.delay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return models.CitySearchResponse{
		Command: models.CommandSearchCity,
		Items:   []models.CityItem{{ID: 1, Name: req.City.Query, Country: "Testland"}},
	}, nil
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, context.DeadlineExceeded
}

func (failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("set failed")
}

func cityRequest(q string) catalog.Request {
	return catalog.Request{City: &models.CitySearchRequest{Command: models.CommandSearchCity, Query: q}}
}

func decodeCity(t *testing.T, data []byte) models.CitySearchResponse {
	t.Helper()
	var resp models.CitySearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// TestSearch_CacheMissThenHit verifies that the first request reaches the
// backend and populates the cache, and the second is served from it.
func TestSearch_CacheMissThenHit(t *testing.T) {
	backend := &mockBackend{}
	c := cache.NewInMemoryCache()
	svc := NewSearchService(backend, Options{Cache: c, TTL: time.Minute}, nil)
	ctx := context.Background()

	first, err := svc.Search(ctx, cityRequest("Paris"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	second, err := svc.Search(ctx, cityRequest("Paris"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if backend.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.callCount())
	}
	if string(first) != string(second) {
		t.Errorf("cached response differs: %s vs %s", first, second)
	}
	if got := decodeCity(t, second); len(got.Items) != 1 || got.Items[0].Name != "Paris" {
		t.Errorf("response = %+v, want one Paris item", got)
	}
	if c.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", c.Len())
	}
}

// TestSearch_NoCache verifies that without a cache every request reaches the backend.
func TestSearch_NoCache(t *testing.T) {
	backend := &mockBackend{}
	svc := NewSearchService(backend, Options{}, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Search(context.Background(), cityRequest("Paris")); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}
	if backend.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3", backend.callCount())
	}
}

// TestSearch_ErrorsNotCached verifies that backend errors pass through unchanged
// and a later request retries the backend.
func TestSearch_ErrorsNotCached(t *testing.T) {
	backend := &mockBackend{err: validation.ErrQueryTooLong}
	c := cache.NewInMemoryCache()
	svc := NewSearchService(backend, Options{Cache: c, TTL: time.Minute}, nil)

	_, err := svc.Search(context.Background(), cityRequest("Paris"))
	if !errors.Is(err, validation.ErrQueryTooLong) {
		t.Fatalf("Search() error = %v, want ErrQueryTooLong", err)
	}
	_, _ = svc.Search(context.Background(), cityRequest("Paris"))

	if backend.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2", backend.callCount())
	}
	if c.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", c.Len())
	}
}

// TestSearch_CacheFailureFallsThrough verifies that cache get/set errors do not fail the request.
func TestSearch_CacheFailureFallsThrough(t *testing.T) {
	backend := &mockBackend{}
	svc := NewSearchService(backend, Options{Cache: failingCache{}, TTL: time.Minute}, nil)

	data, err := svc.Search(context.Background(), cityRequest("Oslo"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := decodeCity(t, data); got.Items[0].Name != "Oslo" {
		t.Errorf("response = %+v, want Oslo", got)
	}
}

// TestSearch_Coalescing verifies that concurrent misses for one key share a single backend call.
func TestSearch_Coalescing(t *testing.T) {
	backend := &mockBackend{delay: 50 * time.Millisecond}
	svc := NewSearchService(backend, Options{CoalesceTimeout: 5 * time.Second}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Search(context.Background(), cityRequest("Paris"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d error = %v", i, err)
		}
	}
	if backend.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1 (coalescing failed)", backend.callCount())
	}
	if n := svc.misses.inProgress(cityRequest("Paris").CacheKey()); n != 0 {
		t.Errorf("misses in progress = %d, want 0", n)
	}
}

// TestSearch_CoalesceTimeout verifies that a waiter gives up after the coalesce timeout.
func TestSearch_CoalesceTimeout(t *testing.T) {
	backend := &mockBackend{delay: 200 * time.Millisecond}
	svc := NewSearchService(backend, Options{CoalesceTimeout: 10 * time.Millisecond}, nil)

	_, err := svc.Search(context.Background(), cityRequest("Paris"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Search() error = %v, want context.DeadlineExceeded", err)
	}
}

// TestWarm verifies that Warm caches the default page of a simple command.
func TestWarm(t *testing.T) {
	backend := &mockBackend{}
	c := cache.NewInMemoryCache()
	svc := NewSearchService(backend, Options{Cache: c, TTL: time.Minute}, nil)

	if err := svc.Warm(context.Background(), "Paris"); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	zero, ten := 0, 10
	explicit := catalog.Request{City: &models.CitySearchRequest{Query: "Paris", StartIndex: &zero, MaxItems: &ten}}
	if _, err := svc.Search(context.Background(), explicit); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if backend.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1 (warm should populate the default page)", backend.callCount())
	}
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "timeout"},
		{&timeoutErr{timeout: true}, "timeout"},
		{&timeoutErr{timeout: false}, "connection"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeCacheError(tt.err); got != tt.want {
			t.Errorf("categorizeCacheError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type timeoutErr struct{ timeout bool }

func (e *timeoutErr) Error() string   { return "net error" }
func (e *timeoutErr) Timeout() bool   { return e.timeout }
func (e *timeoutErr) Temporary() bool { return false }
