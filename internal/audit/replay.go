package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

// ReplayFilter selects entries from a log. Zero fields match everything.
type ReplayFilter struct {
	Account *common.Address
	Kind    model.EventKind
	TraceID string
	From    time.Time
	To      time.Time
}

func (f ReplayFilter) match(entry AuditEntry) bool {
	if f.Account != nil && entry.Event.Account != *f.Account {
		return false
	}
	if f.Kind != "" && entry.Event.Kind != f.Kind {
		return false
	}
	if f.TraceID != "" && entry.TraceID != f.TraceID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, entry.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// ReplaySummary counts replayed entries by event kind.
type ReplaySummary struct {
	Total            int    `json:"total"`
	TxAllowed        int    `json:"tx_allowed"`
	CosignerSet      int    `json:"cosigner_set"`
	TokenTransfers   int    `json:"token_transfer_allowed"`
	RemovalScheduled int    `json:"guard_removal_scheduled"`
	Removed          int    `json:"guard_removed"`
	Denied           int    `json:"denied"`
	CosignerUpgrades int    `json:"cosigner_upgrades"`
	FirstTimestamp   string `json:"first_timestamp"`
	LastTimestamp    string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Events returns the engine events of result in log order.
func (r *ReplayResult) Events() []model.Event {
	out := make([]model.Event, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Event
	}
	return out
}

// Replay reads the log at path and returns entries matching filter.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++
	switch entry.Event.Kind {
	case model.EventTxAllowed:
		s.TxAllowed++
	case model.EventCosignerSet:
		s.CosignerSet++
	case model.EventTokenTransferAllowed:
		s.TokenTransfers++
	case model.EventGuardRemovalScheduled:
		s.RemovalScheduled++
	case model.EventGuardRemoved:
		s.Removed++
	case model.EventDenied:
		s.Denied++
	}
	if entry.Event.Source == model.SourceCosigner {
		s.CosignerUpgrades++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
