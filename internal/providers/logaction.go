package providers

import (
	"context"

	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// Log is the generic-log action kind: it records the alert in the service log
// and always succeeds. Useful for dry-running new rules.
type Log struct {
	logger *logging.Logger
}

// NewLog returns the log transport.
func NewLog(logger *logging.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	l.logger.WithComponent("alert").
		WithField("rule", match.RuleName).
		WithField("event_sid", match.Event.SID).
		WithField("category", match.Event.Category).
		Warnf("%s", alertSubject(match))
	return nil
}
