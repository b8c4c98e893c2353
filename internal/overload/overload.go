package overload

import (
	"sync"
	"time"
)

// retention bounds how long samples are kept regardless of the queried window.
const retention = 30 * time.Minute

var defaultTracker Tracker

// RecordRequest records a search request admitted by the rate limiter.
func RecordRequest() {
	defaultTracker.RecordRequest()
}

// RecordDenial records a rate-limit denial (429). Denials also count as requests.
func RecordDenial() {
	defaultTracker.RecordDenial()
}

// RequestCount returns admitted plus denied requests within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// Overloaded reports whether requests in the window exceed thresholdPct of
// what the rate limit admits over that window. Always false when rps is 0.
func Overloaded(rps int, window time.Duration, thresholdPct int) bool {
	if rps <= 0 || window <= 0 {
		return false
	}
	return RequestCount(window) > Threshold(rps, window, thresholdPct)
}

// Threshold is the request count above which the stub reports overloaded.
func Threshold(rps int, window time.Duration, thresholdPct int) int {
	return int(float64(rps) * window.Seconds() * float64(thresholdPct) / 100)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of request and denial timestamps.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	requests []time.Time
	denials  []time.Time
}

func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.requests = append(t.requests, now)
	t.pruneLocked(now)
}

func (t *Tracker) RecordDenial() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.requests = append(t.requests, now)
	t.denials = append(t.denials, now)
	t.pruneLocked(now)
}

func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.requests, t.clock().Add(-window))
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denials, t.clock().Add(-window))
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = nil
	t.denials = nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	t.requests = dropBefore(t.requests, cutoff)
	t.denials = dropBefore(t.denials, cutoff)
}

func dropBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(times) && times[i].Before(cutoff); i++ {
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}
