// Package progress provides the event primitives, non-blocking hub and
// emitter interface that scan workers use to report per-identifier progress.
// The hub batches events on a background goroutine and fans them out to
// passive sinks such as the periodic reporter or Prometheus collectors.
package progress
