package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Tracker counts requests per key in fixed windows.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{windows: make(map[string]*window)}
}

// snapshot returns the window of key containing now. An expired window
// restarts at now with a zero count. Callers hold t.mu.
func (t *Tracker) snapshot(key string, length time.Duration, now time.Time) *window {
	w := t.windows[key]
	if w == nil || now.Sub(w.start) >= length {
		w = &window{start: now}
		t.windows[key] = w
	}
	return w
}

// Prune drops windows that ended before now - maxWindow.
func (t *Tracker) Prune(now time.Time, maxWindow time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, w := range t.windows {
		if now.Sub(w.start) >= maxWindow {
			delete(t.windows, key)
		}
	}
}

// Len returns the number of tracked windows.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
