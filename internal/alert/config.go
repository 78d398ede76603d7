package alert

import (
	"time"

	"github.com/ppiankov/delayguard/internal/model"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // event kinds, "*" for all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Kind       string `json:"kind"`
	Account    string `json:"account"`
	Source     string `json:"source,omitempty"`
	Summary    string `json:"summary"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	ActiveFrom uint64 `json:"active_from,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
}

// FromEvent builds the alert payload for an engine event.
func FromEvent(e model.Event, configHash string) AlertEvent {
	return AlertEvent{
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Kind:       string(e.Kind),
		Account:    e.Account.Hex(),
		Source:     e.Source,
		Summary:    summarize(e),
		Reason:     e.Reason,
		Detail:     e.Detail,
		ActiveFrom: e.ActiveFrom,
		ConfigHash: configHash,
	}
}
