package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/progress"
)

// LogSink emits one debug log line per event. It is useful when auditing a
// scan of a small range.
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
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("chunk_begin", evt.ChunkBegin),
			zap.Int64("chunk_end", evt.ChunkEnd),
		}
		switch evt.Stage {
		case progress.StageItemDone:
			fields = append(fields, zap.Int64("id", evt.ID), zap.String("outcome", string(evt.Outcome)))
		case progress.StageRunStart:
			fields = append(fields, zap.Int64("total", evt.Total))
		default:
			fields = append(fields, zap.Int64("records", evt.Records), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
