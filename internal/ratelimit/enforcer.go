package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Category string
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the rate limit.
func Check(count int, limit Limit) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

// Limiter applies a Config to callers identified by key.
type Limiter struct {
	mu      sync.RWMutex
	config  Config
	tracker *Tracker
	clock   func() time.Time
}

// NewLimiter creates a Limiter. A nil clock uses time.Now.
func NewLimiter(cfg Config, clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{config: cfg, tracker: NewTracker(), clock: clock}
}

// Update swaps the limits. Counts in progress are kept.
func (l *Limiter) Update(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = cfg
}

// Allow counts one request of category from key. When the limit is
// reached the request is not counted and the result is Exceeded.
func (l *Limiter) Allow(category, key string) CheckResult {
	l.mu.RLock()
	limit := l.config[category]
	l.mu.RUnlock()
	if !limit.Enabled() {
		return CheckResult{}
	}

	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()
	w := l.tracker.snapshot(category+"/"+key, limit.Window, l.clock())
	result := Check(w.count, limit)
	if result.Exceeded {
		result.Category = category
		return result
	}
	w.count++
	return CheckResult{}
}
