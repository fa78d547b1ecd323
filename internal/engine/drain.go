package engine

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Drain label values.
const (
	drainOK      = "ok"
	drainFailed  = "failed"
	drainSkipped = "skipped"
)

// Drain replays the offline queue now and returns the number of actions
// replayed. Returns ErrDrainInFlight without waiting if a drain is
// already running.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.metrics.Drains.WithLabelValues(drainSkipped).Inc()
		return 0, ErrDrainInFlight
	}
	defer e.draining.Store(false)
	return e.drain(ctx)
}

// Draining reports whether a drain is running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// onOnline is the tracker's online listener. It claims the in-flight flag
// synchronously and hands the drain to a goroutine so the tracker is not
// held up.
func (e *Engine) onOnline(tr connectivity.Transition) error {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed {
		return nil
	}

	if !e.draining.CompareAndSwap(false, true) {
		e.metrics.Drains.WithLabelValues(drainSkipped).Inc()
		e.log.Debug().Msg("drain already in flight, reconnect ignored")
		return nil
	}

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		defer e.draining.Store(false)
		if _, err := e.drain(e.bgCtx); err != nil {
			e.log.Warn().Err(err).Msg("background drain stopped")
		}
	}()
	return nil
}

// drain runs with the in-flight flag held by the caller.
func (e *Engine) drain(ctx context.Context) (int, error) {
	n, err := e.queue.Drain(ctx, e.replay)
	if err != nil {
		e.metrics.Drains.WithLabelValues(drainFailed).Inc()
		return n, err
	}
	e.metrics.Drains.WithLabelValues(drainOK).Inc()

	if n > 0 {
		if err := e.stampSync(ctx); err != nil {
			return n, err
		}
		e.log.Info().Int("replayed", n).Msg("offline queue drained")
	}
	return n, nil
}

func (e *Engine) replay(ctx context.Context, a queue.Action) error {
	op := "replay " + a.Type
	perform, ok := e.performer(a.Type)
	if !ok {
		return syncerr.Permanent(op, fmt.Errorf("no performer registered for %q", a.Type))
	}

	resp, err := e.retry.Execute(ctx, retry.Request{Op: op, Key: a.ID}, func(actx context.Context) (*retry.Response, error) {
		return perform(actx, a.Payload)
	}, retry.WithRetryableStatus(e.retryable))
	if err != nil {
		return err
	}
	return checkStatus(op, resp)
}
