package completion

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of replies a thread may request per
	// window when no limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// RateLimiter is a per-key sliding-window limiter. Keys are thread ids, so a
// busy group cannot exhaust the completion quota of every other thread.
//
// Memory stays bounded to O(limit) timestamps per active key.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time
}

// NewRateLimiter allows at most limit calls per key within window. Non-positive
// values fall back to DefaultRateLimit per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow records a call for key and reports whether it is within the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.live(key, now)
	if len(valid) >= r.limit {
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns how many calls key may still make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem := r.limit - len(r.live(key, r.now()))
	if rem < 0 {
		return 0
	}
	return rem
}

// live drops key's timestamps outside the window, in place, and returns the
// survivors.
func (r *RateLimiter) live(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.counters, key)
	} else {
		r.counters[key] = valid
	}
	return valid
}
