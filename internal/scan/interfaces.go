package scan

import (
	"context"
	"time"
)

// Resolver looks up one identifier. It reports found=false for identifiers
// without a catalog entry; errors are reserved for faults.
type Resolver interface {
	Resolve(ctx context.Context, id int64) (rec Record, found bool, err error)
}

// CacheStore persists one artifact per chunk.
type CacheStore interface {
	Write(ctx context.Context, chunk Chunk, records []Record) (string, error)
	Read(ctx context.Context, chunk Chunk) ([]Record, error)
	Remove(chunk Chunk) error
}

// Merger consolidates chunk artifacts into the final output and removes them.
type Merger interface {
	Merge(ctx context.Context, chunks []Chunk) (int, error)
	Cleanup(chunks []Chunk) error
}

// Pauser blocks for the throttle delay.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
