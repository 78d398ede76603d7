// Package ratelimit caps how many RPCs one caller may make per window.
package ratelimit

import (
	"fmt"
	"time"
)

// Request categories the server limits separately.
const (
	// CategoryQuery covers previews and read-only lookups.
	CategoryQuery = "query"
	// CategoryConfig covers signed configuration requests.
	CategoryConfig = "config"
)

// Limit defines the rate limit for a single request category.
// Zero values mean no limit for that category.
type Limit struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

// Enabled reports whether l limits anything.
func (l Limit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// Config maps request categories to their limits.
type Config map[string]Limit

// HasLimits returns true if any category has a configured limit.
func (c Config) HasLimits() bool {
	for _, l := range c {
		if l.Enabled() {
			return true
		}
	}
	return false
}

// Validate rejects unknown categories and negative values.
func (c Config) Validate() error {
	for category, l := range c {
		if category != CategoryQuery && category != CategoryConfig {
			return fmt.Errorf("rate_limits: unknown category %q (want %s or %s)", category, CategoryQuery, CategoryConfig)
		}
		if l.MaxRequests < 0 || l.Window < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", category)
		}
	}
	return nil
}
