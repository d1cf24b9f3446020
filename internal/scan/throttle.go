package scan

import (
	"context"
	"time"
)

const (
	throttleUnit     = 250 * time.Millisecond
	throttleMaxSteps = 8
)

// ThrottleDelay returns the pause owed after processed identifiers of one
// chunk. A pause is due only on multiples of step and grows by 250ms per
// step, capped at 2s. The counter is per chunk; there is no cross-chunk
// coordination.
func ThrottleDelay(processed, step int64) time.Duration {
	if step <= 0 || processed <= 0 || processed%step != 0 {
		return 0
	}
	n := processed / step
	if n > throttleMaxSteps {
		n = throttleMaxSteps
	}
	return time.Duration(n) * throttleUnit
}

// TimerPauser sleeps on a timer and returns early when ctx finishes.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
