package lifecycle

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	since time.Time // zero while serving
)

// SetShuttingDown marks the process as draining (true) or serving (false).
// The stub health endpoint answers 503 shutting-down while draining.
func SetShuttingDown(v bool) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case !v:
		since = time.Time{}
	case since.IsZero():
		since = time.Now()
	}
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	mu.RLock()
	defer mu.RUnlock()
	return !since.IsZero()
}

// DrainingFor returns how long the process has been draining, or 0 while serving.
func DrainingFor() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if since.IsZero() {
		return 0
	}
	return time.Since(since)
}
