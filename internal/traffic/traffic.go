package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept regardless of the queried window.
const retention = 5 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a dispatch that produced results.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordFailure records a dispatch that failed or timed out.
func RecordFailure() {
	defaultTracker.RecordFailure()
}

// RecordStale records a dispatch outcome that arrived after its query was superseded.
func RecordStale() {
	defaultTracker.RecordStale()
}

// FailureRate returns (failures, total) within the window. total = successes + failures (stale excluded).
func FailureRate(window time.Duration) (failures, total int) {
	return defaultTracker.FailureRate(window)
}

// StaleCount returns the number of stale outcomes within the window.
func StaleCount(window time.Duration) int {
	return defaultTracker.StaleCount(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of dispatch outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	now          func() time.Time
	successTimes []time.Time
	failureTimes []time.Time
	staleTimes   []time.Time
}

// RecordSuccess records a successful dispatch in the tracker.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordFailure records a failed dispatch in the tracker.
func (t *Tracker) RecordFailure() {
	t.recordOutcome(&t.failureTimes)
}

// RecordStale records a discarded dispatch outcome in the tracker.
func (t *Tracker) RecordStale() {
	t.recordOutcome(&t.staleTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// FailureRate returns (failures, total) within the window.
// Stale outcomes are excluded: they say nothing about backend health.
func (t *Tracker) FailureRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	failCount := countInWindow(t.failureTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return failCount, failCount + successCount
}

// StaleCount returns the number of stale outcomes within the window.
func (t *Tracker) StaleCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.staleTimes, t.clock().Add(-window))
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.failureTimes = nil
	t.staleTimes = nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.failureTimes)
	prune(&t.staleTimes)
}
