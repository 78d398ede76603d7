package activation

import (
	"testing"
	"time"
)

func TestActiveFrom(t *testing.T) {
	const now = 1_700_000_000
	tests := []struct {
		name      string
		installed bool
		reset     bool
		want      uint64
	}{
		{"not installed applies now", false, false, now},
		{"installed waits the delay", true, false, now + 3600},
		{"reset when installed", true, true, 0},
		{"reset when not installed", false, true, 0},
	}
	for _, tt := range tests {
		got := ActiveFrom(tt.installed, tt.reset, now, time.Hour)
		if got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}
}

func TestSecondsTruncates(t *testing.T) {
	if got := Seconds(1500 * time.Millisecond); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := Seconds(-time.Minute); got != 0 {
		t.Errorf("expected 0 for negative delay, got %d", got)
	}
}

func TestUnix(t *testing.T) {
	if got := Unix(time.Unix(42, 999)); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := Unix(time.Time{}); got != 0 {
		t.Errorf("expected 0 for zero time, got %d", got)
	}
}
