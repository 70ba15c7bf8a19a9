package models

import (
	"time"

	"github.com/google/uuid"
)

// PatternKind selects which matcher a rule uses.
type PatternKind string

const (
	PatternErrorCode PatternKind = "error_code"
	PatternRegex     PatternKind = "regex"
	PatternStatus    PatternKind = "status"
	PatternThreshold PatternKind = "threshold"
)

// Rule is one monitoring rule. Category narrows the rule to a single event
// category; empty means the rule applies to every category.
//
// PatternValue is kind-specific: a comma-separated code set for error_code,
// a regular expression for regex, a comma-separated status set for status.
// Threshold rules use ThresholdCount and ThresholdWindow instead.
type Rule struct {
	ID              uuid.UUID     `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Category        Category      `json:"category,omitempty"`
	PatternKind     PatternKind   `json:"pattern_kind"`
	PatternValue    string        `json:"pattern_value"`
	ThresholdCount  int           `json:"threshold_count,omitempty"`
	ThresholdWindow time.Duration `json:"threshold_window,omitempty"`
	ClearOnMatch    bool          `json:"clear_on_match,omitempty"`
	Enabled         bool          `json:"enabled"`
	CreatedAt       time.Time     `json:"created_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at,omitempty"`
}

// RuleCreate is the management API input for creating a rule.
type RuleCreate struct {
	Name            string      `json:"name" binding:"required"`
	Description     string      `json:"description"`
	Category        Category    `json:"category"`
	PatternKind     PatternKind `json:"pattern_kind" binding:"required"`
	PatternValue    string      `json:"pattern_value"`
	ThresholdCount  int         `json:"threshold_count"`
	ThresholdWindow int         `json:"threshold_window_seconds"`
	ClearOnMatch    bool        `json:"clear_on_match"`
	Enabled         *bool       `json:"enabled"`
}
