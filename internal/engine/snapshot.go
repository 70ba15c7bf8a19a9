package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"callwatch/internal/models"
)

// CompiledRule is a rule whose pattern payload has been parsed and validated
// once for the lifetime of a snapshot.
type CompiledRule struct {
	Rule     models.Rule
	codes    map[string]struct{}
	statuses map[string]struct{}
	regex    *regexp.Regexp
}

// RuleError reports a rule rejected at compile time.
type RuleError struct {
	RuleID uuid.UUID
	Name   string
	Err    error
}

// RuleSet is a read-consistent, compiled snapshot of enabled rules and their
// bound actions, taken once per evaluation pass.
type RuleSet struct {
	Rules   []*CompiledRule
	Invalid []RuleError
	actions map[uuid.UUID][]models.Action
}

// ActionsFor returns the enabled actions bound to a rule.
func (rs *RuleSet) ActionsFor(ruleID uuid.UUID) []models.Action {
	return rs.actions[ruleID]
}

// Compile validates rules and indexes enabled actions by rule. Disabled rules
// are dropped silently; malformed rules land in Invalid and are excluded from
// evaluation. A malformed rule is a configuration error, never a per-event
// failure.
func Compile(rules []models.Rule, actions []models.Action) *RuleSet {
	rs := &RuleSet{actions: make(map[uuid.UUID][]models.Action)}

	for _, a := range actions {
		if !a.Enabled {
			continue
		}
		rs.actions[a.RuleID] = append(rs.actions[a.RuleID], a)
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr, err := compileRule(r)
		if err != nil {
			rs.Invalid = append(rs.Invalid, RuleError{RuleID: r.ID, Name: r.Name, Err: err})
			continue
		}
		rs.Rules = append(rs.Rules, cr)
	}

	return rs
}

// ValidateRule checks that a rule's pattern payload compiles. The management
// API rejects rules at creation time with the same checks the snapshot
// compiler applies each cycle.
func ValidateRule(r models.Rule) error {
	_, err := compileRule(r)
	return err
}

func compileRule(r models.Rule) (*CompiledRule, error) {
	cr := &CompiledRule{Rule: r}

	switch r.PatternKind {
	case models.PatternErrorCode:
		cr.codes = parseTokenSet(r.PatternValue)
		if len(cr.codes) == 0 {
			return nil, fmt.Errorf("error_code rule has no codes")
		}
	case models.PatternRegex:
		re, err := regexp.Compile("(?i)" + r.PatternValue)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", r.PatternValue, err)
		}
		cr.regex = re
	case models.PatternStatus:
		cr.statuses = parseTokenSet(strings.ToLower(r.PatternValue))
		if len(cr.statuses) == 0 {
			return nil, fmt.Errorf("status rule has no status values")
		}
	case models.PatternThreshold:
		if r.ThresholdCount < 1 {
			return nil, fmt.Errorf("threshold count must be >= 1, got %d", r.ThresholdCount)
		}
		if r.ThresholdWindow <= 0 {
			return nil, fmt.Errorf("threshold window must be > 0, got %s", r.ThresholdWindow)
		}
	default:
		return nil, fmt.Errorf("unknown pattern kind %q", r.PatternKind)
	}

	return cr, nil
}

// parseTokenSet splits a comma-separated payload into a trimmed set.
// Duplicate tokens in configuration are idempotent.
func parseTokenSet(value string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
