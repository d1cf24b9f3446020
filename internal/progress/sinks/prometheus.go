package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bangumi-scanner/internal/progress"
)

// PrometheusSink exports scan progress via Prometheus. It owns the
// collectors for runs, chunks and processed identifiers.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	rangeSize     prometheus.Gauge

	itemsProcessed *prometheus.CounterVec
	chunksDone     prometheus.Counter
	chunkRecords   prometheus.Counter
	chunkDuration  prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bangumi_scan_runs_started_total",
			Help: "Total scan runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bangumi_scan_runs_completed_total",
			Help: "Total scan runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bangumi_scan_runs_running",
			Help: "Current number of running scans.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bangumi_scan_run_duration_seconds",
			Help:    "Wall time per completed scan run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		rangeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bangumi_scan_range_size",
			Help: "Number of identifiers in the most recently started range.",
		}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bangumi_scan_items_processed_total",
			Help: "Identifiers processed partitioned by outcome.",
		}, []string{"outcome"}),
		chunksDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bangumi_scan_chunks_completed_total",
			Help: "Chunks whose cache artifact was written.",
		}),
		chunkRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bangumi_scan_chunk_records_total",
			Help: "Records persisted into chunk cache artifacts.",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bangumi_scan_chunk_duration_seconds",
			Help:    "Wall time per scanned chunk.",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.rangeSize,
		s.itemsProcessed,
		s.chunksDone,
		s.chunkRecords,
		s.chunkDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageItemDone:
		s.itemsProcessed.WithLabelValues(string(evt.Outcome)).Inc()
	case progress.StageChunkDone:
		s.chunksDone.Inc()
		if evt.Records > 0 {
			s.chunkRecords.Add(float64(evt.Records))
		}
		if evt.Dur > 0 {
			s.chunkDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.rangeSize.Set(float64(evt.Total))
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
