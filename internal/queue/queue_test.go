package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
	fakes "github.com/roach88/fieldsync/internal/testutil"
)

func openTestQueue(t *testing.T, kv store.Store, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithClock(fakes.NewFakeClock())}, opts...)
	q, err := Open(context.Background(), kv, opts...)
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *Queue, actionType string, payload string) Action {
	t.Helper()
	a, err := q.Enqueue(context.Background(), actionType, json.RawMessage(payload))
	require.NoError(t, err)
	return a
}

func types(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func TestDrain_FIFO(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	enqueue(t, q, "A", `{"n":1}`)
	enqueue(t, q, "B", `{"n":2}`)
	enqueue(t, q, "C", `{"n":3}`)

	var replayed []string
	n, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		replayed = append(replayed, a.Type)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"A", "B", "C"}, replayed)

	remaining, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestDrain_PartialFailureIsResumable(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	enqueue(t, q, "A", `{}`)
	enqueue(t, q, "B", `{}`)

	errReject := errors.New("provider down")
	var attempted []string
	n, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		attempted = append(attempted, a.Type)
		if a.Type == "B" {
			return errReject
		}
		return nil
	})

	require.ErrorIs(t, err, errReject)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"A", "B"}, attempted)

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, types(pending), "A removed, B retained")

	var second []string
	n, err = q.Drain(ctx, func(ctx context.Context, a Action) error {
		second = append(second, a.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"B"}, second, "only B replayed on resume")
}

func TestDrain_FailureKeepsOrderOfRemainder(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	for _, typ := range []string{"A", "B", "C", "D"} {
		enqueue(t, q, typ, `{}`)
	}

	_, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		if a.Type == "B" {
			return errors.New("rejected")
		}
		return nil
	})
	require.Error(t, err)

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "D"}, types(pending), "failed entry not skipped, remainder not reordered")
}

func TestDrain_ErrorKindPreserved(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())
	enqueue(t, q, "A", `{}`)

	_, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		return syncerr.Exhausted("replay", 3, errors.New("timeout"))
	})
	assert.True(t, syncerr.IsExhausted(err))
}

func TestDrain_EmptyQueue(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	called := false
	n, err := q.Drain(context.Background(), func(ctx context.Context, a Action) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestDrain_PicksUpActionsEnqueuedDuringDrain(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())
	enqueue(t, q, "A", `{}`)

	var replayed []string
	_, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		replayed = append(replayed, a.Type)
		if a.Type == "A" {
			_, err := q.Enqueue(ctx, "B", json.RawMessage(`{}`))
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, replayed)
}

func TestDrain_CanceledContextStops(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())
	enqueue(t, q, "A", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := q.Drain(ctx, func(ctx context.Context, a Action) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	remaining, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestDrain_DeleteFailureSurfaced(t *testing.T) {
	kv := fakes.NewFaultyStore(store.NewMemory())
	q := openTestQueue(t, kv)
	enqueue(t, q, "A", `{}`)

	kv.FailDeletes(errors.New("read-only filesystem"))
	_, err := q.Drain(context.Background(), func(ctx context.Context, a Action) error { return nil })
	assert.True(t, syncerr.IsPersistence(err))
}

func TestDrain_ClearDuringReplayKeepsDepthAccurate(t *testing.T) {
	ctx := context.Background()
	m := metrics.Nop()
	q := openTestQueue(t, store.NewMemory(), WithMetrics(m))
	enqueue(t, q, "A", `{}`)
	enqueue(t, q, "B", `{}`)

	n, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
		if a.Type == "A" {
			_, err := q.Clear(ctx)
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "B was cleared before its turn")
	assert.Zero(t, testutil.ToFloat64(m.QueueDepth))

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestEnqueue_PersistenceFailureSurfaced(t *testing.T) {
	kv := fakes.NewFaultyStore(store.NewMemory())
	q := openTestQueue(t, kv)

	kv.FailWrites(Prefix, errors.New("disk full"))
	_, err := q.Enqueue(context.Background(), "A", json.RawMessage(`{}`))

	require.Error(t, err)
	assert.True(t, syncerr.IsPersistence(err), "a lost mutation is never silent")
}

func TestEnqueue_Validation(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	_, err := q.Enqueue(context.Background(), "", json.RawMessage(`{}`))
	assert.True(t, syncerr.IsPermanent(err))

	_, err = q.Enqueue(context.Background(), "A", json.RawMessage(`{broken`))
	assert.True(t, syncerr.IsPermanent(err))

	a, err := q.Enqueue(context.Background(), "A", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), a.Payload)
}

func TestEnqueue_StampsAction(t *testing.T) {
	clk := fakes.NewFakeClock()
	q := openTestQueue(t, store.NewMemory(), WithClock(clk), WithIDGenerator(NewSequentialGenerator("obs")))

	a := enqueue(t, q, "observation", `{"field":"north"}`)
	assert.Equal(t, "obs-0001", a.ID)
	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, "observation", a.Type)
	assert.Equal(t, fakes.Epoch, a.EnqueuedAt)
	assert.JSONEq(t, `{"field":"north"}`, string(a.Payload))

	b := enqueue(t, q, "observation", `{}`)
	assert.Equal(t, "obs-0002", b.ID)
	assert.Equal(t, int64(2), b.Seq)
}

func TestEnqueue_DefaultIDIsUUIDv7(t *testing.T) {
	q, err := Open(context.Background(), store.NewMemory())
	require.NoError(t, err)

	a := enqueue(t, q, "A", `{}`)
	assert.Len(t, a.ID, 36)
	assert.Equal(t, byte('7'), a.ID[14], "version nibble")
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m := metrics.Nop()
	q := openTestQueue(t, store.NewMemory(), WithMetrics(m))

	enqueue(t, q, "A", `{}`)
	enqueue(t, q, "B", `{}`)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueDepth))

	n, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, testutil.ToFloat64(m.QueueDepth))

	n, err = q.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	replayed := 0
	_, err = q.Drain(ctx, func(context.Context, Action) error {
		replayed++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, replayed, "discard bypasses replay")
}

func TestOpen_ResumesSequence(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	q := openTestQueue(t, kv)
	enqueue(t, q, "A", `{}`)
	enqueue(t, q, "B", `{}`)

	reopened := openTestQueue(t, kv)
	c := enqueue(t, reopened, "C", `{}`)
	assert.Equal(t, int64(3), c.Seq)

	pending, err := reopened.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, types(pending))
}

func TestOrderSurvivesTenBoundary(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	var want []string
	for i := 1; i <= 12; i++ {
		typ := fmt.Sprintf("t%d", i)
		want = append(want, typ)
		enqueue(t, q, typ, `{}`)
	}

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, types(pending), "zero padding keeps 10 after 9")
}

func TestQueue_DurableBackends(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) store.Store{
		"sqlite": func(t *testing.T, dir string) store.Store {
			s, err := store.OpenSQLite(dir + "/q.db")
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T, dir string) store.Store {
			s, err := store.OpenBadger(dir + "/badger")
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			kv := open(t, dir)
			q := openTestQueue(t, kv)
			enqueue(t, q, "A", `{"n":1}`)
			enqueue(t, q, "B", `{"n":2}`)
			require.NoError(t, kv.Close())

			kv = open(t, dir)
			defer kv.Close()
			q = openTestQueue(t, kv)

			var replayed []string
			_, err := q.Drain(ctx, func(ctx context.Context, a Action) error {
				replayed = append(replayed, a.Type)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, replayed)
		})
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, store.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, "A", json.RawMessage(`{}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := q.PeekAll(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 20)
	for i := 1; i < len(pending); i++ {
		assert.Less(t, pending[i-1].Seq, pending[i].Seq)
	}
}

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator("")
	assert.Equal(t, "action-0001", g.Generate())
	assert.Equal(t, "action-0002", g.Generate())
}

func TestAction_JSONLayout(t *testing.T) {
	a := Action{
		ID:         "x",
		Seq:        1,
		Type:       "observation",
		Payload:    json.RawMessage(`{"a":1}`),
		EnqueuedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","seq":1,"action_type":"observation","payload":{"a":1},"enqueued_at":"2024-01-01T00:00:00Z"}`, string(data))
}
