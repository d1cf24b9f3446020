package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bangumi-scanner/internal/clock/system"
	"github.com/JakeFAU/bangumi-scanner/internal/progress"
)

// ErrNotWired is returned when a coordinator lacks its scanner or merger.
var ErrNotWired = errors.New("scan: coordinator requires a chunk scanner and a merger")

// Config holds the range and scheduling knobs of one run.
type Config struct {
	RangeBegin     int64
	RangeEnd       int64
	ChunkSize      int64
	MaxConcurrency int
	ThrottleStep   int64
	// CleanupOnFailure removes already written chunk artifacts when the run
	// aborts. When false they are left on disk.
	CleanupOnFailure bool
}

// Validate checks the run configuration.
func (c Config) Validate() error {
	if c.RangeEnd < c.RangeBegin {
		return fmt.Errorf("range end %d is before begin %d", c.RangeEnd, c.RangeBegin)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be >= 1")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1")
	}
	if c.ThrottleStep < 1 {
		return fmt.Errorf("throttle step must be >= 1")
	}
	return nil
}

// Result describes a completed run.
type Result struct {
	Chunks    []Chunk
	Artifacts []string
	Processed int64
	Found     int64
	Merged    int
	Duration  time.Duration
}

// ChunkScanner scans one chunk; Worker satisfies it.
type ChunkScanner interface {
	Scan(ctx context.Context, chunk Chunk) (ChunkResult, error)
}

// Coordinator partitions the range, runs chunk workers in waves of at most
// MaxConcurrency and merges the chunk artifacts in ascending range order.
type Coordinator struct {
	cfg     Config
	scanner ChunkScanner
	merger  Merger
	emitter progress.Emitter
	clock   Clock
	runID   [16]byte
	logger  *zap.Logger
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock replaces the wall clock used for event timestamps and
// run durations.
func WithCoordinatorClock(c Clock) CoordinatorOption {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// NewCoordinator wires a Coordinator. emitter may be nil.
func NewCoordinator(
	cfg Config,
	scanner ChunkScanner,
	merger Merger,
	emitter progress.Emitter,
	runID [16]byte,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:     cfg,
		scanner: scanner,
		merger:  merger,
		emitter: emitter,
		clock:   system.New(),
		runID:   runID,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the whole scan. A failing chunk aborts the run after its wave
// finishes; no later wave starts and no final artifact is written.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	if c.scanner == nil || c.merger == nil {
		return Result{}, ErrNotWired
	}
	if err := c.cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid scan config: %w", err)
	}
	chunks, err := Partition(c.cfg.RangeBegin, c.cfg.RangeEnd, c.cfg.ChunkSize)
	if err != nil {
		return Result{}, err
	}
	start := c.clock.Now()
	c.emit(progress.Event{Stage: progress.StageRunStart, Total: c.cfg.RangeEnd - c.cfg.RangeBegin})
	c.logger.Info("scan started",
		zap.Int64("begin", c.cfg.RangeBegin),
		zap.Int64("end", c.cfg.RangeEnd),
		zap.Int("chunks", len(chunks)),
		zap.Int("max_concurrency", c.cfg.MaxConcurrency),
	)

	completed := &completionList{}
	for lo := 0; lo < len(chunks); lo += c.cfg.MaxConcurrency {
		hi := min(lo+c.cfg.MaxConcurrency, len(chunks))
		if err := c.runWave(ctx, chunks[lo:hi], completed); err != nil {
			return Result{}, c.fail(start, completed, err)
		}
	}

	merged, err := c.merger.Merge(ctx, chunks)
	if err != nil {
		return Result{}, c.fail(start, completed, fmt.Errorf("merge: %w", err))
	}
	if err := c.merger.Cleanup(chunks); err != nil {
		c.logger.Warn("chunk artifact cleanup incomplete", zap.Error(err))
	}

	results := completed.Snapshot()
	res := Result{Chunks: chunks, Merged: merged, Duration: c.clock.Now().Sub(start)}
	for _, r := range results {
		res.Artifacts = append(res.Artifacts, r.Artifact)
		res.Processed += r.Processed
		res.Found += r.Found
	}
	c.emit(progress.Event{Stage: progress.StageRunDone, Records: int64(merged), Dur: res.Duration})
	c.logger.Info("scan completed",
		zap.Int64("processed", res.Processed),
		zap.Int("records", merged),
		zap.Duration("dur", res.Duration),
	)
	return res, nil
}

// runWave launches every chunk of wave concurrently and waits for all of
// them, even when one fails.
func (c *Coordinator) runWave(ctx context.Context, wave []Chunk, completed *completionList) error {
	c.logger.Debug("wave started",
		zap.Stringer("first", wave[0]),
		zap.Stringer("last", wave[len(wave)-1]),
	)
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for _, chunk := range wave {
		g.Go(func() error {
			res, err := c.scanner.Scan(ctx, chunk)
			if err != nil {
				return err
			}
			completed.Append(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("wave %s..%s: %w", wave[0], wave[len(wave)-1], err)
	}
	return nil
}

func (c *Coordinator) fail(start time.Time, completed *completionList, err error) error {
	c.emit(progress.Event{Stage: progress.StageRunError, Dur: c.clock.Now().Sub(start), Note: err.Error()})
	c.logger.Error("scan aborted", zap.Error(err))
	if !c.cfg.CleanupOnFailure {
		return err
	}
	written := completed.Chunks()
	if cleanupErr := c.merger.Cleanup(written); cleanupErr != nil {
		c.logger.Warn("chunk artifact cleanup after abort incomplete", zap.Error(cleanupErr))
	} else {
		c.logger.Info("chunk artifacts removed after abort", zap.Int("artifacts", len(written)))
	}
	return err
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	evt.RunID = c.runID
	evt.TS = c.clock.Now()
	c.emitter.Emit(evt)
}

// completionList records finished chunks. Workers append concurrently, each
// exactly once per chunk.
type completionList struct {
	mu      sync.Mutex
	results []ChunkResult
}

func (l *completionList) Append(res ChunkResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
}

// Snapshot returns the results ordered by chunk start.
func (l *completionList) Snapshot() []ChunkResult {
	l.mu.Lock()
	out := append([]ChunkResult(nil), l.results...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk.Begin < out[j].Chunk.Begin })
	return out
}

// Chunks returns the chunks whose artifacts were written.
func (l *completionList) Chunks() []Chunk {
	results := l.Snapshot()
	out := make([]Chunk, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk)
	}
	return out
}
