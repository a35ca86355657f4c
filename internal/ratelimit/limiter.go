// Package ratelimit paces calls to external marketplace endpoints.
//
// Each account owns its own Pacer so one account's quota usage can never
// starve another's. Waits are driven by the caller's context, so a shutdown
// signal interrupts any pacing sleep immediately.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between successive calls.
type Pacer struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a Pacer with the given minimum inter-call interval.
// A non-positive interval disables pacing.
func New(minInterval time.Duration) *Pacer {
	if minInterval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		interval: minInterval,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// ForHourlyCap derives a Pacer from an hourly call budget, spreading the
// budget evenly across the hour.
func ForHourlyCap(hourlyCap int) *Pacer {
	if hourlyCap <= 0 {
		return New(0)
	}
	return New(time.Hour / time.Duration(hourlyCap))
}

// Acquire blocks until the minimum interval since the previous call has
// elapsed, or until ctx is cancelled. On cancellation the pacing slot is not
// consumed and ctx.Err() is returned.
func (p *Pacer) Acquire(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Interval returns the configured minimum inter-call interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}
