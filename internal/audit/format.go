package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/delayguard/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit: %s – %s UTC\n",
		formatDate(result.Summary.FirstTimestamp),
		formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		fmt.Fprintf(&b, "%-10s %-7s %-24s %-13s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Decision),
			e.Event.Kind,
			shortAddress(e.Event.Account.Hex()),
			describe(e.Event))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func describe(e model.Event) string {
	var s string
	switch e.Kind {
	case model.EventTxAllowed:
		s = fmt.Sprintf("%s %s %s active_from=%d", shortAddress(e.Target.Hex()), e.Selector, e.Operation, e.ActiveFrom)
	case model.EventTokenTransferAllowed:
		s = fmt.Sprintf("token=%s to=%s max=%s active_from=%d",
			shortAddress(e.Token.Hex()), shortAddress(e.Recipient.Hex()), model.BigOrZero(e.Amount), e.ActiveFrom)
	case model.EventCosignerSet:
		s = fmt.Sprintf("cosigner=%s active_from=%d", shortAddress(e.Cosigner.Hex()), e.ActiveFrom)
	case model.EventGuardRemovalScheduled:
		s = fmt.Sprintf("at=%d", e.ActiveFrom)
	case model.EventDenied:
		s = fmt.Sprintf("%s %s %s", e.Reason, shortAddress(e.Target.Hex()), e.Selector)
	}
	if e.Source == model.SourceCosigner {
		s += "  [cosigner]"
	}
	return s
}

func formatSummary(s ReplaySummary) string {
	counts := []struct {
		n     int
		label string
	}{
		{s.TxAllowed, "tx allowed"},
		{s.TokenTransfers, "token allowance"},
		{s.CosignerSet, "cosigner"},
		{s.RemovalScheduled, "removal scheduled"},
		{s.Removed, "removed"},
		{s.Denied, "denied"},
	}
	var parts []string
	for _, c := range counts {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %d entries (%s) | %d cosigner upgrades\n",
		s.Total, strings.Join(parts, ", "), s.CosignerUpgrades)
}

func formatDate(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func shortAddress(hex string) string {
	if len(hex) <= 12 {
		return hex
	}
	return hex[:6] + "…" + hex[len(hex)-4:]
}
