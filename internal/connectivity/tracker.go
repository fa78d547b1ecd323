// Package connectivity tracks whether the device currently has a network
// path and fans out transitions to registered listeners.
//
// The tracker is a two-state machine (Online, Offline). It starts by
// assuming Online. Observer push events update the verdict immediately;
// CheckNow re-queries the observer only when the cached verdict is older
// than the verdict window. A failed observer query counts as Offline.
//
// Listeners run synchronously, in registration order, on the goroutine
// that detected the transition. They must hand long work off (the sync
// engine dispatches its drain on a separate goroutine) and must not call
// Observe themselves.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/metrics"
)

// Config controls the tracker and the interface observer.
type Config struct {
	// VerdictWindow is how long a computed verdict is reused by CheckNow.
	VerdictWindow time.Duration `koanf:"verdict_window" validate:"gt=0"`

	// PollInterval is how often InterfaceObserver re-reads the interfaces.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
}

// DefaultConfig returns the default connectivity configuration.
func DefaultConfig() Config {
	return Config{
		VerdictWindow: 30 * time.Second,
		PollInterval:  5 * time.Second,
	}
}

// Tracker maintains the current connectivity verdict.
type Tracker struct {
	observer Observer
	window   time.Duration
	clock    clock.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics

	queries singleflight.Group

	// applyMu serializes verdict updates with their notifications so
	// listeners see transitions in the order they happened.
	applyMu sync.Mutex

	mu        sync.Mutex
	online    bool
	checked   bool
	checkedAt time.Time

	listeners registry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for the verdict window.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithMetrics sets the collectors transitions are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker over obs. The initial verdict is Online
// and is re-checked on first use.
func NewTracker(obs Observer, cfg Config, opts ...Option) *Tracker {
	if cfg.VerdictWindow <= 0 {
		cfg.VerdictWindow = DefaultConfig().VerdictWindow
	}
	t := &Tracker{
		observer: obs,
		window:   cfg.VerdictWindow,
		clock:    clock.Real{},
		log:      zerolog.Nop(),
		online:   true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = metrics.Nop()
	}
	t.metrics.Online.Set(1)
	return t
}

// State returns the last verdict without querying the observer.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return stateOf(t.online)
}

// CheckedAt returns when the verdict was last computed. Zero if never.
func (t *Tracker) CheckedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkedAt
}

// CheckNow returns the cached verdict if it is no older than the verdict
// window, otherwise queries the observer once and updates it. Concurrent
// callers share a single observer query.
func (t *Tracker) CheckNow(ctx context.Context) State {
	t.mu.Lock()
	if t.checked && t.clock.Now().Sub(t.checkedAt) <= t.window {
		s := stateOf(t.online)
		t.mu.Unlock()
		return s
	}
	t.mu.Unlock()

	v, _, _ := t.queries.Do("check", func() (any, error) {
		sig, err := t.observer.CurrentSignal(ctx)
		if err != nil {
			t.log.Warn().Err(err).Msg("connectivity query failed, assuming offline")
			sig = SignalNone
		}
		return t.apply(sig), nil
	})
	return v.(State)
}

// Online reports whether CheckNow says Online.
func (t *Tracker) Online(ctx context.Context) bool {
	return t.CheckNow(ctx) == Online
}

// Observe applies a pushed signal immediately and refreshes the verdict.
func (t *Tracker) Observe(sig Signal) State {
	return t.apply(sig)
}

// OnTransition registers fn for every transition in either direction.
func (t *Tracker) OnTransition(fn Listener) Handle {
	return t.listeners.add(kindAny, fn)
}

// OnOnline registers fn for Offline to Online transitions only. It fires
// once per transition, never on polls that confirm an unchanged verdict.
func (t *Tracker) OnOnline(fn Listener) Handle {
	return t.listeners.add(kindOnline, fn)
}

// Remove unregisters a listener. Returns false if h is unknown.
func (t *Tracker) Remove(h Handle) bool {
	return t.listeners.remove(h)
}

// Listeners returns the number of registered listeners.
func (t *Tracker) Listeners() int {
	return t.listeners.len()
}

// Run subscribes to the observer and applies its events in arrival order
// until ctx is done. Observer callbacks only enqueue, so a slow listener
// never blocks the observer.
func (t *Tracker) Run(ctx context.Context) error {
	q := newSignalQueue()
	unsubscribe := t.observer.Subscribe(func(s Signal) { q.Enqueue(s) })
	defer unsubscribe()
	defer q.Close()

	t.log.Debug().Msg("connectivity tracker started")
	for {
		select {
		case <-ctx.Done():
			t.log.Debug().Int("pending", q.Len()).Msg("connectivity tracker stopped")
			return ctx.Err()
		case <-q.Wait():
			for {
				s, ok := q.TryDequeue()
				if !ok {
					break
				}
				t.apply(s)
			}
		}
	}
}

func (t *Tracker) apply(sig Signal) State {
	t.applyMu.Lock()
	defer t.applyMu.Unlock()

	now := t.clock.Now()

	t.mu.Lock()
	prev := stateOf(t.online)
	t.online = sig.HasPath()
	t.checked = true
	t.checkedAt = now
	next := stateOf(t.online)
	t.mu.Unlock()

	if next == Online {
		t.metrics.Online.Set(1)
	} else {
		t.metrics.Online.Set(0)
	}

	if prev == next {
		return next
	}

	t.metrics.Transitions.WithLabelValues(next.String()).Inc()
	t.log.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Str("signal", sig.String()).
		Msg("connectivity changed")

	t.listeners.notify(&t.log, Transition{From: prev, To: next, Signal: sig, At: now})
	return next
}
