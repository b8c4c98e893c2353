package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// requestCoalescer collapses concurrent computations of the same key into one.
// Waiters give up after timeout or when their own ctx ends; the shared
// computation keeps running for the others.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn for key unless a call for key is already in flight, in which case
// it waits for that call's result. shared reports whether the result was
// delivered to more than one caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func() ([]byte, error)) (data []byte, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		return fn()
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-waitCtx.Done():
		return nil, false, waitCtx.Err()
	}
}

// missTracker counts cache misses in progress per key. More than one at a
// time for a key is a stampede.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// Begin records a miss for key and returns the number now in progress.
func (t *missTracker) Begin(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[key]++
	return t.active[key]
}

// End records that a miss for key was resolved.
func (t *missTracker) End(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[key] <= 1 {
		delete(t.active, key)
		return
	}
	t.active[key]--
}

func (t *missTracker) inProgress(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[key]
}
