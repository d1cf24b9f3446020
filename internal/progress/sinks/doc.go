// Package sinks implements concrete progress consumers: structured logging,
// a periodic console report and Prometheus collectors. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
