// Package activation computes when a new allowlist entry becomes usable.
package activation

import "time"

// ActiveFrom returns the activation timestamp for a new entry.
//
//   - reset clears the entry (0).
//   - a fully installed engine delays every grant by delay.
//   - before installation, grants apply immediately so an operator can
//     stage a policy before turning enforcement on.
func ActiveFrom(fullyInstalled, reset bool, now uint64, delay time.Duration) uint64 {
	if reset {
		return 0
	}
	if fullyInstalled {
		return now + Seconds(delay)
	}
	return now
}

// Seconds converts a delay to whole seconds, rounding negative values to 0.
func Seconds(delay time.Duration) uint64 {
	if delay <= 0 {
		return 0
	}
	return uint64(delay / time.Second)
}

// Unix converts t to the engine's timestamp unit.
func Unix(t time.Time) uint64 {
	if t.Unix() <= 0 {
		return 0
	}
	return uint64(t.Unix())
}
