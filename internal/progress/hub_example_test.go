package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit counts resolved identifiers through a custom sink.
func ExampleHub_Emit() {
	var found int
	counter := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemDone && evt.Outcome == OutcomeFound {
				found++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, counter)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for id, outcome := range []Outcome{OutcomeFound, OutcomeNotFound, OutcomeFound} {
		hub.Emit(Event{
			RunID:      runID,
			TS:         time.Unix(0, 0),
			Stage:      StageItemDone,
			ID:         int64(id),
			Outcome:    outcome,
			ChunkBegin: 0,
			ChunkEnd:   3,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("identifiers found: %d\n", found)
	// Output:
	// identifiers found: 2
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
