package engine

import (
	"time"

	"callwatch/internal/models"
)

// Pipeline evaluates admitted events against a compiled rule snapshot. It is
// stateless apart from the window aggregator consulted by threshold rules.
type Pipeline struct {
	windows *Aggregator
}

// NewPipeline returns a Pipeline backed by the given window aggregator.
func NewPipeline(windows *Aggregator) *Pipeline {
	return &Pipeline{windows: windows}
}

// Evaluate runs every rule in the snapshot whose category filter admits the
// event and collects a MatchEvent per satisfied rule. An event may satisfy
// several rules; all are reported independently. Threshold rules mutate their
// own window exactly once per admitted event.
func (p *Pipeline) Evaluate(ev models.Event, rs *RuleSet) []models.MatchEvent {
	var matches []models.MatchEvent

	for _, cr := range rs.Rules {
		if !cr.appliesTo(ev) {
			continue
		}

		var (
			matched     bool
			windowCount int
		)

		switch cr.Rule.PatternKind {
		case models.PatternErrorCode:
			matched = cr.matchErrorCode(ev)
		case models.PatternRegex:
			matched = cr.matchRegex(ev)
		case models.PatternStatus:
			matched = cr.matchStatus(ev)
		case models.PatternThreshold:
			windowCount, matched = p.windows.RecordAndCount(
				cr.Rule.ID, ev.SID, ev.Timestamp,
				cr.Rule.ThresholdCount, cr.Rule.ThresholdWindow, cr.Rule.ClearOnMatch,
			)
		}

		if !matched {
			continue
		}

		matches = append(matches, models.MatchEvent{
			RuleID:      cr.Rule.ID,
			RuleName:    cr.Rule.Name,
			Event:       ev,
			WindowCount: windowCount,
			MatchedAt:   time.Now().UTC(),
		})
	}

	return matches
}
