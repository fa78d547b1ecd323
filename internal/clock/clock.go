// Package clock provides the time sources used by the sync engine.
//
// Two kinds of time exist:
//   - Wall time (Clock) for TTLs, verdict windows and backoff sleeps.
//     Injected everywhere so tests can control it.
//   - Logical time (Sequence) for ordering queued actions. Never derived from
//     wall time, so clock skew cannot reorder the offline queue.
package clock

import (
	"context"
	"time"
)

// Clock is the wall-time source.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// Returns ctx.Err() if the context ended the sleep.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the system clock.
type Real struct{}

// Now implements Clock.
func (Real) Now() time.Time { return time.Now() }

// Sleep implements Clock.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
