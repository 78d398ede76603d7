package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/delayguard/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Account:* %s", event.Account)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Event:* %s", event.Summary)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", orDash(event.Source))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", orDash(event.Reason))},
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("delayguard: %s", event.Kind),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("delayguard %s: %s", event.Kind, event.Account),
			"severity": severityFor(event.Kind),
			"source":   "delayguard",
			"custom_details": map[string]any{
				"account":     event.Account,
				"summary":     event.Summary,
				"reason":      event.Reason,
				"detail":      event.Detail,
				"active_from": event.ActiveFrom,
				"config_hash": event.ConfigHash,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(kind string) string {
	switch model.EventKind(kind) {
	case model.EventGuardRemoved:
		return "critical"
	case model.EventDenied:
		return "error"
	case model.EventGuardRemovalScheduled, model.EventCosignerSet:
		return "warning"
	default:
		return "info"
	}
}

func summarize(e model.Event) string {
	switch e.Kind {
	case model.EventTxAllowed:
		return fmt.Sprintf("%s %s on %s from %d", e.Operation, e.Selector, e.Target.Hex(), e.ActiveFrom)
	case model.EventTokenTransferAllowed:
		return fmt.Sprintf("transfer of %s up to %s to %s from %d",
			e.Token.Hex(), model.BigOrZero(e.Amount), e.Recipient.Hex(), e.ActiveFrom)
	case model.EventCosignerSet:
		return fmt.Sprintf("cosigner %s from %d", e.Cosigner.Hex(), e.ActiveFrom)
	case model.EventGuardRemovalScheduled:
		return fmt.Sprintf("guard removal allowed from %d", e.ActiveFrom)
	case model.EventGuardRemoved:
		return "guard removed"
	case model.EventDenied:
		return fmt.Sprintf("%s on %s %s", e.Reason, e.Target.Hex(), e.Selector)
	default:
		return string(e.Kind)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
