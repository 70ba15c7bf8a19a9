package models

import (
	"time"

	"github.com/google/uuid"
)

// DispatchStatus is the lifecycle state of one delivery attempt chain.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchSuccess DispatchStatus = "success"
	DispatchFailed  DispatchStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchSuccess || s == DispatchFailed
}

// DispatchKey is the idempotency key for one logical notification: at most
// one terminal DispatchRecord may ever exist per key.
type DispatchKey struct {
	RuleID   uuid.UUID
	EventSID string
	ActionID uuid.UUID
}

// DispatchRecord is the durable, append-only outcome of executing one action
// for one match.
type DispatchRecord struct {
	ID             uuid.UUID      `json:"id"`
	RuleID         uuid.UUID      `json:"rule_id"`
	EventSID       string         `json:"event_sid"`
	ActionID       uuid.UUID      `json:"action_id"`
	Status         DispatchStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	FirstAttemptAt time.Time      `json:"first_attempt_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Key returns the record's idempotency key.
func (r DispatchRecord) Key() DispatchKey {
	return DispatchKey{RuleID: r.RuleID, EventSID: r.EventSID, ActionID: r.ActionID}
}
