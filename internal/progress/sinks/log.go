package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where metrics alone are too coarse.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source), zap.Int("page", evt.Page))
		}
		if evt.ThreadID != "" {
			fields = append(fields,
				zap.String("thread_id", evt.ThreadID),
				zap.Bool("inserted", evt.Inserted),
				zap.Bool("changed", evt.Changed))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", evt.ErrorKind))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Terminal() {
			fields = append(fields,
				zap.Int("inserted_total", evt.Counters.Inserted),
				zap.Int("updated_total", evt.Counters.Updated),
				zap.Int("skipped_total", evt.Counters.Skipped),
				zap.Int("failed_total", evt.Counters.PagesFailed))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
