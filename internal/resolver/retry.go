package resolver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// DefaultCooldown is the pause before the single retry of a transient failure.
const DefaultCooldown = 10 * time.Second

// Retrying wraps a resolver and retries a transient failure exactly once.
type Retrying struct {
	next     scan.Resolver
	cooldown time.Duration
	pauser   scan.Pauser
	logger   *zap.Logger
}

// RetryOption customizes Retrying.
type RetryOption func(*Retrying)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithPauser replaces the timer-based pause, mainly for tests.
func WithPauser(p scan.Pauser) RetryOption {
	return func(r *Retrying) {
		if p != nil {
			r.pauser = p
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) RetryOption {
	return func(r *Retrying) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetrying wraps next.
func NewRetrying(next scan.Resolver, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		cooldown: DefaultCooldown,
		pauser:   scan.TimerPauser{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve delegates to the wrapped resolver. A transient failure is retried
// once after the cooldown; a second failure is returned as is.
func (r *Retrying) Resolve(ctx context.Context, id int64) (scan.Record, bool, error) {
	rec, ok, err := r.next.Resolve(ctx, id)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return rec, ok, err
	}
	r.logger.Warn("transient resolve failure, retrying once",
		zap.Int64("id", id),
		zap.Duration("cooldown", r.cooldown),
		zap.Error(err),
	)
	r.pauser.Pause(ctx, r.cooldown)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return scan.Record{}, false, fmt.Errorf("retry of id %d canceled: %w", id, ctxErr)
	}
	rec, ok, err = r.next.Resolve(ctx, id)
	if err != nil {
		return scan.Record{}, false, fmt.Errorf("retry of id %d failed: %w", id, err)
	}
	return rec, ok, nil
}
