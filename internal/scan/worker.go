package scan

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/clock/system"
	"github.com/JakeFAU/bangumi-scanner/internal/progress"
)

// ChunkResult summarizes one finished chunk.
type ChunkResult struct {
	Chunk     Chunk
	Artifact  string
	Processed int64
	Found     int64
	Duration  time.Duration
}

// Worker scans one chunk at a time, sequentially and in ascending order.
type Worker struct {
	resolver     Resolver
	store        CacheStore
	emitter      progress.Emitter
	pauser       Pauser
	clock        Clock
	runID        [16]byte
	throttleStep int64
	logger       *zap.Logger
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithEmitter attaches a passive progress observer.
func WithEmitter(e progress.Emitter) WorkerOption {
	return func(w *Worker) { w.emitter = e }
}

// WithPauser replaces the timer-based throttle sleep.
func WithPauser(p Pauser) WorkerOption {
	return func(w *Worker) { w.pauser = p }
}

// WithClock replaces the wall clock used for event timestamps.
func WithClock(c Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

// WithRunID tags emitted events with the run identifier.
func WithRunID(id [16]byte) WorkerOption {
	return func(w *Worker) { w.runID = id }
}

// NewWorker constructs a Worker pausing after every throttleStep identifiers.
func NewWorker(resolver Resolver, store CacheStore, throttleStep int64, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		resolver:     resolver,
		store:        store,
		pauser:       TimerPauser{},
		clock:        system.New(),
		throttleStep: throttleStep,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Scan resolves every identifier of chunk and writes the resolved records
// to the chunk's cache artifact. Any resolver or persistence error aborts the
// chunk without writing an artifact.
func (w *Worker) Scan(ctx context.Context, chunk Chunk) (ChunkResult, error) {
	if chunk.End <= chunk.Begin {
		return ChunkResult{}, fmt.Errorf("scan chunk %s: empty range", chunk)
	}
	start := w.clock.Now()
	logger := w.logger.With(zap.Stringer("chunk", chunk))
	logger.Debug("chunk scan started")

	records := make([]Record, 0)
	var processed int64
	for id := chunk.Begin; id < chunk.End; id++ {
		if err := ctx.Err(); err != nil {
			return ChunkResult{}, fmt.Errorf("scan chunk %s at id %d: %w", chunk, id, err)
		}
		rec, found, err := w.resolver.Resolve(ctx, id)
		if err != nil {
			logger.Error("resolve failed", zap.Int64("id", id), zap.Error(err))
			return ChunkResult{}, fmt.Errorf("scan chunk %s at id %d: %w", chunk, id, err)
		}
		outcome := progress.OutcomeNotFound
		if found {
			records = append(records, rec)
			outcome = progress.OutcomeFound
		}
		processed++
		if delay := ThrottleDelay(processed, w.throttleStep); delay > 0 {
			logger.Debug("throttling", zap.Int64("processed", processed), zap.Duration("delay", delay))
			w.pauser.Pause(ctx, delay)
		}
		w.emit(progress.Event{
			Stage:      progress.StageItemDone,
			ID:         id,
			Outcome:    outcome,
			ChunkBegin: chunk.Begin,
			ChunkEnd:   chunk.End,
		})
	}

	artifact, err := w.store.Write(ctx, chunk, records)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("persist chunk %s: %w", chunk, err)
	}
	res := ChunkResult{
		Chunk:     chunk,
		Artifact:  artifact,
		Processed: processed,
		Found:     int64(len(records)),
		Duration:  w.clock.Now().Sub(start),
	}
	w.emit(progress.Event{
		Stage:      progress.StageChunkDone,
		ChunkBegin: chunk.Begin,
		ChunkEnd:   chunk.End,
		Records:    res.Found,
		Dur:        res.Duration,
	})
	logger.Info("chunk scan finished",
		zap.Int64("found", res.Found),
		zap.String("artifact", artifact),
		zap.Duration("dur", res.Duration),
	)
	return res, nil
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.RunID = w.runID
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}
