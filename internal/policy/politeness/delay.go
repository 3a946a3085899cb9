// Package politeness spaces out requests with a bounded random delay.
package politeness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Delayer sleeps for a uniformly random duration in [Min, Max] before each request.
type Delayer struct {
	min   time.Duration
	max   time.Duration
	randN func(n int64) int64
}

// New returns a Delayer. Bounds are normalized so that 0 <= min <= max.
func New(minDelay, maxDelay time.Duration) *Delayer {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Delayer{min: minDelay, max: maxDelay, randN: rand.Int64N}
}

// Next draws the next delay.
func (d *Delayer) Next() time.Duration {
	span := int64(d.max - d.min)
	if span <= 0 {
		return d.min
	}
	return d.min + time.Duration(d.randN(span+1))
}

// Wait sleeps for Next(), returning early with an error if ctx ends.
func (d *Delayer) Wait(ctx context.Context) error {
	return Sleep(ctx, d.Next())
}

// Sleep pauses for delay or until ctx is done.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("politeness wait: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
