package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/kb-crawler/internal/progress"
)

// LogSink writes one structured log line per event. Failures and skips log
// at warn level, page pipeline stages at debug, and job milestones at info.
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
			zap.String("event", string(evt.Type)),
			zap.String("job_id", evt.JobID),
			zap.String("kb_id", evt.KBID),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.StatusCode != 0 {
			fields = append(fields, zap.Int("status_code", evt.StatusCode))
		}
		if evt.Chunks != 0 {
			fields = append(fields, zap.Int("chunks", evt.Chunks))
		}
		if evt.DurationMs != 0 {
			fields = append(fields, zap.Int64("duration_ms", evt.DurationMs))
		}
		if evt.Progress != nil {
			fields = append(fields,
				zap.Int("processed", evt.Progress.ProcessedURLs),
				zap.Int("discovered", evt.Progress.DiscoveredURLs),
				zap.Int("failed", evt.Progress.FailedURLs))
		}
		if evt.Error != "" {
			fields = append(fields, zap.String("error", evt.Error))
		}
		s.logger.Log(levelFor(evt.Type), "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(t progress.Type) zapcore.Level {
	switch t {
	case progress.PageError, progress.JobFailed, progress.URLSkipped:
		return zapcore.WarnLevel
	case progress.JobStarted, progress.JobCheckpoint, progress.JobCompleted:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
