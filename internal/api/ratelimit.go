package api

import (
	"sync"
	"time"
)

// DefaultEvidenceLimit is how many evidence posts one session may make per window
const DefaultEvidenceLimit = 100

// rateLimiter counts requests per key in fixed windows
// ARCHITECTURAL DISCOVERY: Per-session state with periodic cleanup keeps a
// chatty evidence producer from flooding one session's buffer
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*keyWindow
}

type keyWindow struct {
	count int
	start time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*keyWindow),
	}
}

// Allow records one request for key and reports whether it fits the window
func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.windows[key] = &keyWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup forgets keys idle for five windows and returns how many it dropped
func (rl *rateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.windows {
		if now.Sub(w.start) > 5*rl.window {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}
