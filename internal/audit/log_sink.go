package audit

import (
	"context"

	"github.com/alexisbeaulieu97/stagehand/internal/logger"
)

// LogSink writes every event as a structured log entry.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, event Event) error {
	if s == nil || s.log == nil {
		return nil
	}
	fields := map[string]any{
		"audit_action": event.Action,
		"actor":        event.Actor,
	}
	for key, value := range event.Details {
		fields["detail_"+key] = value
	}
	s.log.WithFields(fields).Info("audit event")
	return nil
}
