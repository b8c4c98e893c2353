package search

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-search-client/internal/client"
	"github.com/kjstillabower/city-search-client/internal/observability"
)

// Fetcher performs one outbound search for a settled query.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, query string) ([]T, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, query string) ([]T, error)

func (f FetcherFunc[T]) Fetch(ctx context.Context, query string) ([]T, error) {
	return f(ctx, query)
}

// Dispatcher turns one Fetch into exactly one FetchSucceeded or FetchFailed,
// racing it against a fixed timeout.
type Dispatcher[T any] struct {
	fetcher Fetcher[T]
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher returns a Dispatcher. A nil logger is replaced by a no-op logger.
func NewDispatcher[T any](fetcher Fetcher[T], timeout time.Duration, logger *zap.Logger) *Dispatcher[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{fetcher: fetcher, timeout: timeout, logger: logger}
}

type fetchOutcome[T any] struct {
	items []T
	err   error
}

// Dispatch blocks until the fetch settles or the timeout elapses, whichever
// comes first. On timeout it returns FetchFailed without waiting for the
// fetch; the fetch's context is cancelled and its result, if any, is dropped.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, query string) Event {
	corrID := uuid.New().String()
	ctx = client.WithCorrelationID(ctx, corrID)
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan fetchOutcome[T], 1)
	go func() {
		items, err := d.fetcher.Fetch(ctx, query)
		done <- fetchOutcome[T]{items: items, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return d.failed(query, corrID, out.err)
		}
		return FetchSucceeded[T]{Query: query, Results: out.items}
	case <-ctx.Done():
		return d.failed(query, corrID, ctx.Err())
	}
}

func (d *Dispatcher[T]) failed(query, corrID string, err error) Event {
	category := client.CategorizeError(err)
	observability.SearchAPIErrorsTotal.WithLabelValues(string(category)).Inc()
	log := d.logger.Warn
	if category == client.ErrorCategoryCanceled {
		log = d.logger.Debug
	}
	log("search request failed",
		zap.String("query", query),
		zap.String("correlation_id", corrID),
		zap.String("category", string(category)),
		zap.Error(err))
	return FetchFailed{Query: query, Err: err}
}
