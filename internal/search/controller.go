package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-search-client/internal/observability"
	"github.com/kjstillabower/city-search-client/internal/traffic"
	"github.com/kjstillabower/city-search-client/internal/validation"
)

const (
	DefaultDelay   = 300 * time.Millisecond
	DefaultTimeout = 5000 * time.Millisecond

	eventBuffer = 64
)

// Config configures a Controller. Zero durations fall back to the defaults.
type Config struct {
	Kind    string // metrics and log label, e.g. "city"
	Delay   time.Duration
	Timeout time.Duration
	Logger  *zap.Logger
}

// Controller runs the search state machine. Run owns the state and the display
// buffer; everything else talks to it by posting events.
type Controller[T any] struct {
	kind       string
	delay      time.Duration
	dispatcher *Dispatcher[T]
	logger     *zap.Logger
	observer   func(prev, next State[T], ev Event)

	events  chan Event
	updates chan Snapshot[T]
	done    chan struct{}

	inflight InFlight
	closing  atomic.Bool

	mu      sync.RWMutex
	current Snapshot[T]

	// Owned by Run.
	state   State[T]
	display Display[T]
	timer   *time.Timer
}

// Option customizes a Controller.
type Option[T any] func(*Controller[T])

// WithObserver registers fn to be called from the event loop after every
// accepted transition. fn must not block or call back into the Controller.
func WithObserver[T any](fn func(prev, next State[T], ev Event)) Option[T] {
	return func(c *Controller[T]) { c.observer = fn }
}

// NewController returns a Controller in Done{"", []}. Call Run to start it.
func NewController[T any](fetcher Fetcher[T], cfg Config, opts ...Option[T]) *Controller[T] {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Kind == "" {
		cfg.Kind = "search"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("kind", cfg.Kind))

	c := &Controller[T]{
		kind:       cfg.Kind,
		delay:      cfg.Delay,
		dispatcher: NewDispatcher(fetcher, cfg.Timeout, logger),
		logger:     logger,
		events:     make(chan Event, eventBuffer),
		updates:    make(chan Snapshot[T], 1),
		done:       make(chan struct{}),
		state:      Initial[T](),
	}
	c.display.Observe(c.state)
	c.current = c.display.snapshot(c.state)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetQuery normalizes raw and feeds it to the state machine.
func (c *Controller[T]) SetQuery(raw string) {
	c.post(QueryChanged{Query: validation.NormalizeQuery(raw)})
}

// Updates delivers the latest snapshot after each transition. Intermediate
// snapshots are dropped if the reader falls behind.
func (c *Controller[T]) Updates() <-chan Snapshot[T] {
	return c.updates
}

// Current returns the most recently published snapshot.
func (c *Controller[T]) Current() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// InFlight returns the number of dispatches that have not settled.
func (c *Controller[T]) InFlight() int64 {
	return c.inflight.Count()
}

// Drain waits for outstanding dispatches to settle or ctx to expire.
func (c *Controller[T]) Drain(ctx context.Context) error {
	return c.inflight.WaitForZero(ctx, 10*time.Millisecond)
}

// Shutdown stops the controller from starting new fetches, then drains.
// Query changes and pending debounce timers are ignored from here on; results
// of fetches already dispatched still settle.
func (c *Controller[T]) Shutdown(ctx context.Context) error {
	c.closing.Store(true)
	return c.Drain(ctx)
}

// Run applies events until ctx is done. Dispatches started by Run inherit ctx,
// so cancelling it also cancels outstanding requests.
func (c *Controller[T]) Run(ctx context.Context) {
	defer close(c.done)
	defer c.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ctx, ev)
		}
	}
}

func (c *Controller[T]) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller[T]) apply(ctx context.Context, ev Event) {
	if c.closing.Load() {
		switch ev.(type) {
		case QueryChanged, DelayElapsed:
			c.stopTimer()
			c.logger.Debug("search event ignored during shutdown",
				zap.String("event", ev.eventName()),
				zap.String("event_query", ev.EventQuery()))
			return
		}
	}

	prev := c.state
	next := Transition(prev, ev)

	if next.sameStep(prev) {
		if _, ok := ev.(QueryChanged); ok {
			return
		}
		c.stale(ev)
		return
	}

	c.state = next
	if _, ok := ev.(QueryChanged); ok {
		observability.SearchQueriesTotal.WithLabelValues(c.kind).Inc()
	}
	switch ev.(type) {
	case FetchSucceeded[T]:
		traffic.RecordSuccess()
	case FetchFailed:
		traffic.RecordFailure()
	}
	observability.SearchTransitionsTotal.WithLabelValues(c.kind, next.Phase.String()).Inc()
	c.logger.Debug("search transition",
		zap.String("event", ev.eventName()),
		zap.String("from", prev.Phase.String()),
		zap.String("to", next.Phase.String()),
		zap.String("query", next.Query))

	c.enter(ctx, next)
	c.display.Observe(next)
	if c.observer != nil {
		c.observer(prev, next, ev)
	}
	c.publish(c.display.snapshot(next))
}

func (c *Controller[T]) stale(ev Event) {
	observability.SearchStaleEventsTotal.WithLabelValues(c.kind, ev.eventName()).Inc()
	switch ev.(type) {
	case FetchSucceeded[T], FetchFailed:
		traffic.RecordStale()
	}
	c.logger.Debug("stale search event ignored",
		zap.String("event", ev.eventName()),
		zap.String("event_query", ev.EventQuery()),
		zap.String("live_query", c.state.Query))
}

// enter performs the side effects of entering s.
func (c *Controller[T]) enter(ctx context.Context, s State[T]) {
	c.stopTimer()

	switch s.Phase {
	case PhaseDelay:
		q := s.Query
		c.timer = time.AfterFunc(c.delay, func() {
			c.post(DelayElapsed{Query: q})
		})
	case PhaseFetching:
		c.inflight.Increment()
		observability.SearchRequestsInFlight.Inc()
		go func(q string) {
			defer func() {
				c.inflight.Decrement()
				observability.SearchRequestsInFlight.Dec()
			}()
			c.post(c.dispatcher.Dispatch(ctx, q))
		}(s.Query)
	}
}

func (c *Controller[T]) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// publish replaces any unread snapshot with snap, then updates Current.
func (c *Controller[T]) publish(snap Snapshot[T]) {
	for sent := false; !sent; {
		select {
		case c.updates <- snap:
			sent = true
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}

	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
}
