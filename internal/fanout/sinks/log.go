package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
)

// LogSink emits structured logs for every tracking call. It is useful during
// development or audits where a durable sink is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name implements fanout.Named.
func (s *LogSink) Name() string { return "log" }

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []fanout.Event) error {
	for _, evt := range batch {
		s.logger.Info("tracking event",
			zap.String("id", evt.ID),
			zap.Time("ts", evt.TS),
			zap.String("command", evt.Command),
			zap.String("name", evt.Name),
			zap.Any("params", evt.Params),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
