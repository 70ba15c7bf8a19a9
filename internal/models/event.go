package models

import "time"

// Category classifies an event pulled from the upstream log source.
type Category string

const (
	CategoryCall       Category = "call"
	CategoryMessage    Category = "message"
	CategoryDiagnostic Category = "diagnostic"
)

// ValidCategory reports whether c is one of the known event categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCall, CategoryMessage, CategoryDiagnostic:
		return true
	}
	return false
}

// Event is one immutable log record from the upstream source. SID is the
// provider's stable identifier; the engine never evaluates the same SID twice.
type Event struct {
	SID        string                 `json:"sid"`
	Category   Category               `json:"category"`
	Timestamp  time.Time              `json:"timestamp"`
	Status     string                 `json:"status,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`
	Message    string                 `json:"message,omitempty"`
	FromNumber string                 `json:"from_number,omitempty"`
	ToNumber   string                 `json:"to_number,omitempty"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}
