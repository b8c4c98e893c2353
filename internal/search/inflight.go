package search

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlight counts dispatches that have not settled yet, superseded ones
// included. Shutdown uses it to let outstanding requests finish.
type InFlight struct {
	n atomic.Int64
}

func (f *InFlight) Increment() { f.n.Add(1) }

func (f *InFlight) Decrement() { f.n.Add(-1) }

func (f *InFlight) Count() int64 { return f.n.Load() }

// WaitForZero polls until the count is zero or ctx is done.
func (f *InFlight) WaitForZero(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if f.Count() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
