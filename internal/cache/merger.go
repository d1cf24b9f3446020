package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Merger concatenates chunk artifacts into the final output file.
type Merger struct {
	store     *Store
	output    string
	delimiter string
	logger    *zap.Logger

	mu   sync.Mutex
	last []scan.Record
}

// NewMerger builds a Merger writing to output with delimiter.
func NewMerger(store *Store, output, delimiter string, logger *zap.Logger) (*Merger, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if delimiter == "" {
		return nil, fmt.Errorf("delimiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, output: output, delimiter: delimiter, logger: logger}, nil
}

// Output returns the final artifact path.
func (m *Merger) Output() string {
	return m.output
}

// Merge reads the artifact of every chunk in the given order and writes the
// concatenation to the output path. Artifacts are left in place, so merging
// the same chunks again produces an identical file.
func (m *Merger) Merge(ctx context.Context, chunks []scan.Chunk) (int, error) {
	records, err := m.Load(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if err := WriteOutput(ctx, m.output, records, m.delimiter); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.last = records
	m.mu.Unlock()
	m.logger.Info("final artifact written",
		zap.String("path", m.output),
		zap.Int("records", len(records)),
		zap.Int("chunks", len(chunks)),
	)
	return len(records), nil
}

// Records returns the records written by the last successful Merge.
func (m *Merger) Records() []scan.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scan.Record(nil), m.last...)
}

// Load reads and concatenates the records of chunks in order.
func (m *Merger) Load(ctx context.Context, chunks []scan.Chunk) ([]scan.Record, error) {
	var records []scan.Record
	for _, chunk := range chunks {
		recs, err := m.store.Read(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("load chunk %s: %w", chunk, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

// Cleanup removes the artifacts of chunks. Every removal is attempted; the
// failures are returned joined.
func (m *Merger) Cleanup(chunks []scan.Chunk) error {
	var errs []error
	for _, chunk := range chunks {
		if err := m.store.Remove(chunk); err != nil {
			m.logger.Warn("remove chunk artifact failed", zap.Stringer("chunk", chunk), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		m.logger.Debug("chunk artifacts removed", zap.Int("chunks", len(chunks)))
	}
	return errors.Join(errs...)
}
