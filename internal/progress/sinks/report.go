package sinks

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/progress"
)

const defaultReportInterval = 10 * time.Second

// ReportSink periodically logs how far a scan has progressed: processed and
// total identifiers, percentage, throughput, elapsed time and ETA.
type ReportSink struct {
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	total     int64
	processed int64
	found     int64
	started   time.Time
	lastLog   time.Time
}

// NewReportSink logs a progress line at most once per interval.
func NewReportSink(logger *zap.Logger, interval time.Duration) *ReportSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &ReportSink{logger: logger, interval: interval, now: time.Now}
}

// Consume folds the batch into the running totals and logs when due.
func (s *ReportSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.total = evt.Total
			s.processed, s.found = 0, 0
			s.started = evt.TS
			s.lastLog = evt.TS
		case progress.StageItemDone:
			s.processed++
			if evt.Outcome == progress.OutcomeFound {
				s.found++
			}
		case progress.StageRunDone, progress.StageRunError:
			s.report("scan finished")
		}
	}
	if now := s.now(); now.Sub(s.lastLog) >= s.interval {
		s.report("scan progress")
	}
	return nil
}

// Snapshot returns processed, found and total identifier counts.
func (s *ReportSink) Snapshot() (processed, found, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.found, s.total
}

// report must be called with s.mu held.
func (s *ReportSink) report(msg string) {
	now := s.now()
	s.lastLog = now
	elapsed := now.Sub(s.started)
	fields := []zap.Field{
		zap.Int64("processed", s.processed),
		zap.Int64("total", s.total),
		zap.Int64("found", s.found),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
	}
	if s.total > 0 {
		fields = append(fields, zap.String("percent", formatPercent(s.processed, s.total)))
	}
	if secs := elapsed.Seconds(); secs > 0 && s.processed > 0 {
		rate := float64(s.processed) / secs
		fields = append(fields, zap.Float64("per_second", math.Round(rate*100)/100))
		if remaining := s.total - s.processed; remaining > 0 {
			eta := time.Duration(float64(remaining) / rate * float64(time.Second))
			fields = append(fields, zap.Duration("eta", eta.Round(time.Second)))
		}
	}
	s.logger.Info(msg, fields...)
}

// Close implements the Sink interface; it performs no action.
func (s *ReportSink) Close(context.Context) error {
	return nil
}

func formatPercent(done, total int64) string {
	pct := float64(done) * 100 / float64(total)
	return strconv.FormatFloat(pct, 'f', 1, 64) + "%"
}
