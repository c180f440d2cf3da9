// Package utils holds small helpers shared by the batch jobs.
package utils

import (
	"context"
	"fmt"
	"time"
)

// newTimer returns the channel that fires after d and a func that stops the timer.
var newTimer = func(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// WaitFor blocks for d or until ctx is done. The timer is stopped on cancellation.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	fired, stop := newTimer(d)
	select {
	case <-ctx.Done():
		stop()
		return ctx.Err()
	case <-fired:
		return nil
	}
}

// Retrier runs a call up to MaxAttempts times. The wait before attempt n+1 is BaseDelay*n.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	// Wait defaults to WaitFor.
	Wait func(ctx context.Context, d time.Duration) error
}

// Delay is the pause following the given failed attempt.
func (r Retrier) Delay(attempt int) time.Duration {
	return r.BaseDelay * time.Duration(attempt)
}

// Do returns nil on the first successful call. A cancelled context while
// waiting is returned as is; running out of attempts wraps the last error.
func (r Retrier) Do(ctx context.Context, call func(ctx context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)
	wait := r.Wait
	if wait == nil {
		wait = WaitFor
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = call(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}
		if err := wait(ctx, r.Delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
