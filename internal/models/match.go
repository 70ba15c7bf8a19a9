package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchEvent is produced when a rule's predicate is satisfied for an event.
// For threshold rules Event is the window-closing event and WindowCount the
// number of window members at the time of the match.
type MatchEvent struct {
	RuleID      uuid.UUID `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Event       Event     `json:"event"`
	WindowCount int       `json:"window_count,omitempty"`
	MatchedAt   time.Time `json:"matched_at"`
}
