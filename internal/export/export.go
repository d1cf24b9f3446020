// Package export publishes the results of a completed scan to optional
// external destinations.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Summary describes a completed run.
type Summary struct {
	RunID      uuid.UUID
	RangeBegin int64
	RangeEnd   int64
	Records    int
	Output     string
	// SHA256 is the hex digest of the output file.
	SHA256     string
	FinishedAt time.Time
}

// Exporter publishes a completed run.
type Exporter interface {
	Name() string
	Export(ctx context.Context, summary Summary, records []scan.Record) error
}

// RunAll runs exporters in order and stops at the first failure, so later
// exporters only see runs the earlier ones accepted.
func RunAll(ctx context.Context, exporters []Exporter, summary Summary, records []scan.Record, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, exp := range exporters {
		start := time.Now()
		if err := exp.Export(ctx, summary, records); err != nil {
			return fmt.Errorf("export %s: %w", exp.Name(), err)
		}
		logger.Info("export finished",
			zap.String("exporter", exp.Name()),
			zap.Stringer("run_id", summary.RunID),
			zap.Duration("dur", time.Since(start)),
		)
	}
	return nil
}
