package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// LastSyncKey holds the last successful sync timestamp (RFC3339Nano).
const LastSyncKey = "meta/last_sync"

// Performer executes one write against the remote side.
type Performer func(ctx context.Context, payload json.RawMessage) (*retry.Response, error)

// ErrDrainInFlight is returned by Drain when another drain is running.
var ErrDrainInFlight = errors.New("drain already in flight")

// Deps are the components the engine composes.
type Deps struct {
	Store   store.Store
	Cache   *cache.Store
	Queue   *queue.Queue
	Tracker *connectivity.Tracker
	Retry   *retry.Client
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("engine: nil store")
	case d.Cache == nil:
		return errors.New("engine: nil cache")
	case d.Queue == nil:
		return errors.New("engine: nil queue")
	case d.Tracker == nil:
		return errors.New("engine: nil tracker")
	case d.Retry == nil:
		return errors.New("engine: nil retry client")
	}
	return nil
}

// Engine is the sync orchestrator.
//
// Thread-safety model:
//   - Fetch, Submit, Drain, Register: safe from any goroutine
//   - Background drains run on engine-owned goroutines tracked by Wait
type Engine struct {
	kv      store.Store
	cache   *cache.Store
	queue   *queue.Queue
	tracker *connectivity.Tracker
	retry   *retry.Client

	clock     clock.Clock
	log       zerolog.Logger
	metrics   *metrics.Metrics
	retryable func(status int) bool

	fetches singleflight.Group

	perfMu     sync.RWMutex
	performers map[string]Performer
	fallback   func(actionType string) Performer

	// draining is the single in-flight drain guard.
	draining atomic.Bool

	bgMu     sync.Mutex
	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
	closed   bool

	onlineHandle connectivity.Handle
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for last-sync stamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the collectors fetches and drains are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRetryableStatus sets which error statuses the retry client retries.
// Default: retry.ServerBusy (408, 429, 5xx).
func WithRetryableStatus(fn func(status int) bool) Option {
	return func(e *Engine) { e.retryable = fn }
}

// WithFallbackPerformer sets the performer factory used for action types
// with no registered performer.
func WithFallbackPerformer(fn func(actionType string) Performer) Option {
	return func(e *Engine) { e.fallback = fn }
}

// WithPerformers pre-populates the dispatch table.
func WithPerformers(p map[string]Performer) Option {
	return func(e *Engine) {
		for k, v := range p {
			e.performers[k] = v
		}
	}
}

// New creates an engine and registers it as the tracker's online listener.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		kv:         deps.Store,
		cache:      deps.Cache,
		queue:      deps.Queue,
		tracker:    deps.Tracker,
		retry:      deps.Retry,
		clock:      clock.Real{},
		log:        zerolog.Nop(),
		retryable:  retry.ServerBusy,
		performers: make(map[string]Performer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}

	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	e.onlineHandle = e.tracker.OnOnline(e.onOnline)
	return e, nil
}

// Register maps actionType to the performer used by Submit (when called
// without one) and by queue replay. A later call replaces the earlier one.
func (e *Engine) Register(actionType string, p Performer) {
	e.perfMu.Lock()
	defer e.perfMu.Unlock()
	e.performers[actionType] = p
}

// Cache returns the engine's cache.
func (e *Engine) Cache() *cache.Store { return e.cache }

// Queue returns the engine's offline queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Tracker returns the engine's connectivity tracker.
func (e *Engine) Tracker() *connectivity.Tracker { return e.tracker }

// Wait blocks until every background drain dispatched so far has finished.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// Close unregisters from the tracker, cancels running background drains
// between attempts and waits for them to return. An in-flight attempt
// still completes. Closing the store is left to its owner.
func (e *Engine) Close() error {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return nil
	}
	e.closed = true
	e.bgMu.Unlock()

	e.tracker.Remove(e.onlineHandle)
	e.bgCancel()
	e.bg.Wait()
	return nil
}

// LastSync returns the last successful sync time. ok is false if the
// engine never synced.
func (e *Engine) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	data, err := e.kv.Read(ctx, LastSyncKey)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, syncerr.Persistence("last sync", err)
	}
	t, err = time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false, syncerr.Persistence("last sync", fmt.Errorf("decode %q: %w", data, err))
	}
	return t, true, nil
}

func (e *Engine) stampSync(ctx context.Context) error {
	now := e.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := e.kv.Write(ctx, LastSyncKey, []byte(now)); err != nil {
		return syncerr.Persistence("last sync", err)
	}
	return nil
}

func (e *Engine) performer(actionType string) (Performer, bool) {
	e.perfMu.RLock()
	defer e.perfMu.RUnlock()
	if p, ok := e.performers[actionType]; ok {
		return p, true
	}
	if e.fallback != nil {
		return e.fallback(actionType), true
	}
	return nil, false
}

// checkStatus turns a non-success response into a Permanent error.
func checkStatus(op string, resp *retry.Response) error {
	if resp.OK() {
		return nil
	}
	return syncerr.Permanent(op, &retry.StatusError{Status: resp.Status, Body: resp.Body})
}

// Status is a point-in-time view of the engine.
type Status struct {
	State      connectivity.State `json:"state" yaml:"state"`
	CheckedAt  time.Time          `json:"checked_at" yaml:"checked_at"`
	QueueDepth int                `json:"queue_depth" yaml:"queue_depth"`
	LastSync   *time.Time         `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Draining   bool               `json:"draining" yaml:"draining"`
}

// Status reports connectivity, queue depth and last sync. It refreshes the
// connectivity verdict if it is out of date.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		State:    e.tracker.CheckNow(ctx),
		Draining: e.draining.Load(),
	}
	st.CheckedAt = e.tracker.CheckedAt()

	n, err := e.queue.Len(ctx)
	if err != nil {
		return st, err
	}
	st.QueueDepth = n

	last, ok, err := e.LastSync(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		st.LastSync = &last
	}
	return st, nil
}
