package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", event.AgentID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:* %s", event.Subject)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tier:* %s", event.Tier)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if event.Route != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Route:* %s", event.Route)})
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("trustgate: %s", event.Event),
				},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("trustgate %s: %s", event.Event, event.Subject),
			"severity": severityFor(event.Event),
			"source":   "trustgate",
			"custom_details": map[string]any{
				"agent_id":  event.AgentID,
				"subject":   event.Subject,
				"tier":      event.Tier,
				"route":     event.Route,
				"reason":    event.Reason,
				"record_id": event.RecordID,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(event string) string {
	switch event {
	case EventPackageBanned:
		return "critical"
	case EventSandboxError:
		return "error"
	case EventTierDemoted, EventBlockedTrigger:
		return "warning"
	default:
		return "info"
	}
}
