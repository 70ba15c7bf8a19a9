package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind selects the transport used to deliver a notification.
type ActionKind string

const (
	ActionEmail      ActionKind = "email"
	ActionWebhook    ActionKind = "webhook"
	ActionGoogleChat ActionKind = "google_chat"
	ActionTelegram   ActionKind = "telegram"
	ActionLog        ActionKind = "log"
)

// Action binds a notification directive to one rule. Config is opaque to the
// engine and validated by the transport that executes it.
type Action struct {
	ID        uuid.UUID              `json:"id"`
	RuleID    uuid.UUID              `json:"rule_id"`
	Kind      ActionKind             `json:"kind"`
	Config    map[string]interface{} `json:"config"`
	Enabled   bool                   `json:"enabled"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}

// ActionCreate is the management API input for binding an action to a rule.
type ActionCreate struct {
	Kind    ActionKind             `json:"kind" binding:"required"`
	Config  map[string]interface{} `json:"config" binding:"required"`
	Enabled *bool                  `json:"enabled"`
}
