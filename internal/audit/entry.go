package audit

import (
	"github.com/ppiankov/delayguard/internal/model"
)

// Decisions recorded per entry.
const (
	DecisionAllow  = "allow"
	DecisionDeny   = "deny"
	DecisionConfig = "config"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to keep json.Marshal field
// order deterministic for reproducible hashing.
type AuditEntry struct {
	Timestamp  string      `json:"ts"`
	TraceID    string      `json:"trace_id"`
	Decision   string      `json:"decision"`
	Event      model.Event `json:"event"`
	ConfigHash string      `json:"config_hash"`
	PrevHash   string      `json:"prev_hash"`
}

// DecisionFor classifies an engine event.
func DecisionFor(e model.Event) string {
	switch {
	case e.Kind == model.EventDenied:
		return DecisionDeny
	case e.Source == model.SourceConfig:
		return DecisionConfig
	default:
		return DecisionAllow
	}
}
