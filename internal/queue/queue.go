// Package queue is the durable FIFO of mutations recorded while offline.
//
// Each action is its own record under queue/<seq>, where seq is a
// zero-padded value from a monotonic sequence. The store lists keys in
// ascending byte order, so listing the prefix yields enqueue order. On
// open the sequence resumes after the highest persisted seq.
//
// An action is deleted only after its replay succeeded. A crash between
// replay and delete replays that action again on the next drain
// (at-least-once); it never skips or reorders one.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Prefix is the record key prefix for queued actions.
const Prefix = "queue/"

// Action is a queued mutation. Immutable once enqueued.
type Action struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ReplayFunc replays one action against the remote side.
type ReplayFunc func(ctx context.Context, a Action) error

// Queue is the offline action queue. Safe for concurrent use.
type Queue struct {
	kv      store.Store
	clock   clock.Clock
	ids     IDGenerator
	log     zerolog.Logger
	metrics *metrics.Metrics

	seq *clock.Sequence

	// mu serializes record mutations. drainMu serializes drains.
	mu      sync.Mutex
	drainMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source for EnqueuedAt.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDGenerator sets the action ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithMetrics sets the collectors queue activity is reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Open loads the queue state from kv.
func Open(ctx context.Context, kv store.Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		kv:    kv,
		clock: clock.Real{},
		ids:   UUIDv7Generator{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = metrics.Nop()
	}

	keys, err := kv.ListKeysWithPrefix(ctx, Prefix)
	if err != nil {
		return nil, syncerr.Persistence("queue open", err)
	}

	var last int64
	if n := len(keys); n > 0 {
		last, err = parseSeq(keys[n-1])
		if err != nil {
			return nil, syncerr.Persistence("queue open", err)
		}
	}
	q.seq = clock.NewSequenceAt(last)
	q.metrics.QueueDepth.Set(float64(len(keys)))

	q.log.Debug().Int("pending", len(keys)).Int64("seq", last).Msg("queue opened")
	return q, nil
}

// Enqueue appends an action. The action is durable when Enqueue returns
// nil; a persistence failure is always returned.
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (Action, error) {
	if actionType == "" {
		return Action{}, syncerr.Permanent("enqueue", errors.New("empty action type"))
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return Action{}, syncerr.Permanent("enqueue", fmt.Errorf("payload for %q is not valid JSON", actionType))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	a := Action{
		ID:         q.ids.Generate(),
		Seq:        q.seq.Next(),
		Type:       actionType,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: q.clock.Now(),
	}

	data, err := json.Marshal(a)
	if err != nil {
		return Action{}, syncerr.Persistence("enqueue", err)
	}
	if err := q.kv.Write(ctx, recordKey(a.Seq), data); err != nil {
		return Action{}, syncerr.Persistence("enqueue", fmt.Errorf("write %s: %w", recordKey(a.Seq), err))
	}

	q.metrics.ActionsEnqueued.WithLabelValues(actionType).Inc()
	q.metrics.QueueDepth.Inc()
	q.log.Info().Str("action_id", a.ID).Int64("seq", a.Seq).Str("action_type", actionType).Msg("action queued")
	return a, nil
}

// Drain replays actions in enqueue order, deleting each after it succeeds.
// The first failure stops the drain and is returned; that action and all
// later ones stay queued in order. Actions enqueued during the drain are
// replayed in the same pass. Returns the number of actions replayed.
//
// Concurrent Drain calls run one after the other.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	replayed := 0
	for {
		keys, err := q.kv.ListKeysWithPrefix(ctx, Prefix)
		if err != nil {
			return replayed, syncerr.Persistence("drain", err)
		}
		if len(keys) == 0 {
			return replayed, nil
		}

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return replayed, err
			}

			a, ok, err := q.load(ctx, key)
			if err != nil {
				return replayed, err
			}
			if !ok {
				// Cleared since listing.
				continue
			}

			if err := replay(ctx, a); err != nil {
				q.log.Warn().
					Err(err).
					Str("action_id", a.ID).
					Int64("seq", a.Seq).
					Str("action_type", a.Type).
					Msg("replay failed, drain stopped")
				return replayed, fmt.Errorf("replay %s #%d: %w", a.Type, a.Seq, err)
			}

			if err := q.remove(ctx, key); err != nil {
				return replayed, err
			}
			replayed++
			q.metrics.ActionsReplayed.WithLabelValues(a.Type).Inc()
			q.log.Info().Str("action_id", a.ID).Int64("seq", a.Seq).Str("action_type", a.Type).Msg("action replayed")
		}
	}
}

// PeekAll returns every queued action in enqueue order without removing any.
func (q *Queue) PeekAll(ctx context.Context) ([]Action, error) {
	keys, err := q.kv.ListKeysWithPrefix(ctx, Prefix)
	if err != nil {
		return nil, syncerr.Persistence("peek", err)
	}

	actions := make([]Action, 0, len(keys))
	for _, key := range keys {
		a, ok, err := q.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

// Len returns the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.kv.ListKeysWithPrefix(ctx, Prefix)
	if err != nil {
		return 0, syncerr.Persistence("queue len", err)
	}
	return len(keys), nil
}

// Clear discards every queued action without replaying it. Irreversible.
// Returns the number of actions discarded.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys, err := q.kv.ListKeysWithPrefix(ctx, Prefix)
	if err != nil {
		return 0, syncerr.Persistence("queue clear", err)
	}
	for i, key := range keys {
		if err := q.kv.Delete(ctx, key); err != nil {
			q.metrics.QueueDepth.Sub(float64(i))
			return i, syncerr.Persistence("queue clear", fmt.Errorf("delete %s: %w", key, err))
		}
	}
	q.metrics.QueueDepth.Sub(float64(len(keys)))
	q.log.Warn().Int("discarded", len(keys)).Msg("offline queue cleared")
	return len(keys), nil
}

func (q *Queue) load(ctx context.Context, key string) (Action, bool, error) {
	data, err := q.kv.Read(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return Action{}, false, nil
	}
	if err != nil {
		return Action{}, false, syncerr.Persistence("queue read", fmt.Errorf("read %s: %w", key, err))
	}

	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, false, syncerr.Persistence("queue read", fmt.Errorf("decode %s: %w", key, err))
	}
	return a, true, nil
}

func (q *Queue) remove(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Clear may have removed the record during replay.
	if _, err := q.kv.Read(ctx, key); errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return syncerr.Persistence("drain", fmt.Errorf("read %s: %w", key, err))
	}

	if err := q.kv.Delete(ctx, key); err != nil {
		return syncerr.Persistence("drain", fmt.Errorf("delete %s: %w", key, err))
	}
	q.metrics.QueueDepth.Dec()
	return nil
}

func recordKey(seq int64) string {
	return fmt.Sprintf("%s%020d", Prefix, seq)
}

func parseSeq(key string) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimPrefix(key, Prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed queue key %q: %w", key, err)
	}
	return seq, nil
}
