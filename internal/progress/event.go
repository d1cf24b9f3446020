// Package progress defines the event structures emitted by the scan engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageItemDone  Stage = "ITEM_DONE"
	StageChunkDone Stage = "CHUNK_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Outcome classifies a processed identifier.
type Outcome string

// Identifier outcomes carried by ITEM_DONE events.
const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
)

// Event captures a single step of scan progress.
type Event struct {
	// RunID identifies the scan run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// ID is the processed identifier for ITEM_DONE events.
	ID      int64
	Outcome Outcome
	// ChunkBegin and ChunkEnd scope item and chunk events to [begin, end).
	ChunkBegin int64
	ChunkEnd   int64
	// Total is the size of the identifier range on RUN_START.
	Total int64
	// Records counts resolved records on CHUNK_DONE and RUN_DONE.
	Records int64
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageItemDone:
		if e.Outcome != OutcomeFound && e.Outcome != OutcomeNotFound {
			return fmt.Errorf("item done requires outcome, got %q", e.Outcome)
		}
	case StageChunkDone:
		if e.ChunkEnd <= e.ChunkBegin {
			return errors.New("chunk done requires a non-empty chunk")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
