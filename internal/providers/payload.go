package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"callwatch/internal/engine"
	"callwatch/internal/models"
)

// decodeConfig maps an action's opaque configuration onto a typed shape.
// A malformed configuration is a permanent error, never retried.
func decodeConfig(action models.Action, dst interface{}) error {
	raw, err := json.Marshal(action.Config)
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to marshal configuration for action %s: %w", action.ID, err))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return engine.Permanent(fmt.Errorf("invalid configuration for action %s: %w", action.ID, err))
	}
	return nil
}

// alertSubject builds the default notification subject line.
func alertSubject(match models.MatchEvent) string {
	return fmt.Sprintf("[callwatch] Rule %q matched %s event %s",
		match.RuleName, match.Event.Category, match.Event.SID)
}

// alertBody builds the default plain-text notification body.
func alertBody(match models.MatchEvent) string {
	ev := match.Event
	var b strings.Builder

	fmt.Fprintf(&b, "Monitoring rule %q matched.\n\n", match.RuleName)
	fmt.Fprintf(&b, "Event: %s\n", ev.SID)
	fmt.Fprintf(&b, "Category: %s\n", ev.Category)
	fmt.Fprintf(&b, "Timestamp: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if ev.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", ev.Status)
	}
	if ev.ErrorCode != "" {
		fmt.Fprintf(&b, "Error code: %s\n", ev.ErrorCode)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", ev.Message)
	}
	if ev.FromNumber != "" {
		fmt.Fprintf(&b, "From: %s\n", ev.FromNumber)
	}
	if ev.ToNumber != "" {
		fmt.Fprintf(&b, "To: %s\n", ev.ToNumber)
	}
	if match.WindowCount > 0 {
		fmt.Fprintf(&b, "Window count: %d\n", match.WindowCount)
	}
	b.WriteString("\nThis is an automated alert from callwatch.")

	return b.String()
}

// alertPayload is the JSON body posted by the webhook transport.
func alertPayload(match models.MatchEvent) map[string]interface{} {
	ev := match.Event
	return map[string]interface{}{
		"rule_id":      match.RuleID.String(),
		"rule_name":    match.RuleName,
		"event_sid":    ev.SID,
		"category":     ev.Category,
		"timestamp":    ev.Timestamp,
		"status":       ev.Status,
		"error_code":   ev.ErrorCode,
		"message":      ev.Message,
		"from_number":  ev.FromNumber,
		"to_number":    ev.ToNumber,
		"window_count": match.WindowCount,
		"matched_at":   match.MatchedAt,
	}
}
