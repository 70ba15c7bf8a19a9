package engine

import (
	"strings"

	"callwatch/internal/models"
)

// appliesTo reports whether the rule's category filter admits the event.
// An empty category means the rule watches every category.
func (cr *CompiledRule) appliesTo(ev models.Event) bool {
	return cr.Rule.Category == "" || cr.Rule.Category == ev.Category
}

// matchErrorCode is true iff the event carries an error code that is a member
// of the rule's code set.
func (cr *CompiledRule) matchErrorCode(ev models.Event) bool {
	code := strings.TrimSpace(ev.ErrorCode)
	if code == "" {
		return false
	}
	_, ok := cr.codes[code]
	return ok
}

// matchRegex is true iff the compiled pattern finds a match in the event's
// message. An event without a message never matches.
func (cr *CompiledRule) matchRegex(ev models.Event) bool {
	if ev.Message == "" {
		return false
	}
	return cr.regex.MatchString(ev.Message)
}

// matchStatus is true iff the event status equals, case-insensitively, one of
// the rule's configured status values.
func (cr *CompiledRule) matchStatus(ev models.Event) bool {
	if ev.Status == "" {
		return false
	}
	_, ok := cr.statuses[strings.ToLower(ev.Status)]
	return ok
}
