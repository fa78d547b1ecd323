package connectivity

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/metrics"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubObserver struct {
	mu      sync.Mutex
	signal  Signal
	err     error
	queries int
	subs    []func(Signal)
}

func (o *stubObserver) CurrentSignal(ctx context.Context) (Signal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
	return o.signal, o.err
}

func (o *stubObserver) Subscribe(fn func(Signal)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
	return func() {}
}

func (o *stubObserver) set(s Signal, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signal, o.err = s, err
}

func (o *stubObserver) push(s Signal) {
	o.mu.Lock()
	subs := append(([]func(Signal))(nil), o.subs...)
	o.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (o *stubObserver) queryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queries
}

func newTestTracker(obs Observer, clk *manualClock, opts ...Option) *Tracker {
	opts = append([]Option{WithClock(clk)}, opts...)
	return NewTracker(obs, DefaultConfig(), opts...)
}

func TestTracker_AssumesOnlineInitially(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())
	assert.Equal(t, Online, tr.State())
	assert.True(t, tr.CheckedAt().IsZero())
}

func TestTracker_CheckNow_CachesVerdict(t *testing.T) {
	obs := &stubObserver{signal: SignalWiFi}
	clk := newManualClock()
	tr := newTestTracker(obs, clk)

	assert.Equal(t, Online, tr.CheckNow(context.Background()))
	assert.Equal(t, 1, obs.queryCount())

	clk.Advance(29 * time.Second)
	obs.set(SignalNone, nil)
	assert.Equal(t, Online, tr.CheckNow(context.Background()), "verdict reused within window")
	assert.Equal(t, 1, obs.queryCount())

	clk.Advance(time.Second)
	assert.Equal(t, Online, tr.CheckNow(context.Background()), "verdict reused at the window boundary")
	assert.Equal(t, 1, obs.queryCount())

	clk.Advance(time.Nanosecond)
	assert.Equal(t, Offline, tr.CheckNow(context.Background()), "window elapsed, observer queried")
	assert.Equal(t, 2, obs.queryCount())
}

func TestTracker_CheckNow_FailClosed(t *testing.T) {
	obs := &stubObserver{err: errors.New("netlink unavailable")}
	tr := newTestTracker(obs, newManualClock())

	assert.Equal(t, Offline, tr.CheckNow(context.Background()))
	assert.False(t, tr.Online(context.Background()))
}

func TestTracker_SignalCollapse(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())

	assert.Equal(t, Online, tr.Observe(SignalCellular))
	assert.Equal(t, Online, tr.Observe(SignalWiFi))
	assert.Equal(t, Offline, tr.Observe(SignalNone))
}

func TestTracker_ObserveRefreshesVerdict(t *testing.T) {
	obs := &stubObserver{signal: SignalNone}
	tr := newTestTracker(obs, newManualClock())

	tr.Observe(SignalWiFi)
	assert.Equal(t, Online, tr.CheckNow(context.Background()))
	assert.Zero(t, obs.queryCount(), "pushed event counts as a fresh verdict")
}

func TestTracker_OnOnline_OncePerTransition(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())

	var fired atomic.Int32
	tr.OnOnline(func(Transition) error {
		fired.Add(1)
		return nil
	})

	tr.Observe(SignalWiFi) // already online
	assert.Equal(t, int32(0), fired.Load())

	tr.Observe(SignalNone)
	tr.Observe(SignalWiFi)
	tr.Observe(SignalCellular)
	tr.Observe(SignalWiFi)
	assert.Equal(t, int32(1), fired.Load())

	tr.Observe(SignalNone)
	tr.Observe(SignalWiFi)
	assert.Equal(t, int32(2), fired.Load())
}

func TestTracker_ListenersInRegistrationOrder(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())

	var order []string
	tr.OnTransition(func(tr Transition) error {
		order = append(order, "a:"+tr.To.String())
		return nil
	})
	tr.OnOnline(func(Transition) error {
		order = append(order, "b")
		return nil
	})
	tr.OnTransition(func(tr Transition) error {
		order = append(order, "c:"+tr.To.String())
		return nil
	})

	tr.Observe(SignalNone)
	tr.Observe(SignalWiFi)

	assert.Equal(t, []string{"a:offline", "c:offline", "a:online", "b", "c:online"}, order)
}

func TestTracker_ListenerFailureDoesNotAbortNotification(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTracker(&stubObserver{}, newManualClock(), WithLogger(zerolog.New(&buf)))

	var reached []int
	tr.OnTransition(func(Transition) error {
		reached = append(reached, 1)
		return errors.New("boom")
	})
	tr.OnTransition(func(Transition) error {
		reached = append(reached, 2)
		panic("listener exploded")
	})
	tr.OnTransition(func(Transition) error {
		reached = append(reached, 3)
		return nil
	})

	tr.Observe(SignalNone)

	assert.Equal(t, []int{1, 2, 3}, reached)
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "listener exploded")
}

func TestTracker_RegisterBeforeFirstCheckAndRemove(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())

	var fired atomic.Int32
	h := tr.OnTransition(func(Transition) error {
		fired.Add(1)
		return nil
	})
	assert.Equal(t, 1, tr.Listeners())

	assert.True(t, tr.Remove(h))
	assert.False(t, tr.Remove(h), "second removal is a no-op")
	assert.Equal(t, 0, tr.Listeners())

	tr.Observe(SignalNone)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTracker_RemoveDuringNotification(t *testing.T) {
	tr := newTestTracker(&stubObserver{}, newManualClock())

	var second Handle
	var calls []string
	tr.OnTransition(func(Transition) error {
		calls = append(calls, "first")
		tr.Remove(second)
		return nil
	})
	second = tr.OnTransition(func(Transition) error {
		calls = append(calls, "second")
		return nil
	})

	tr.Observe(SignalNone) // snapshot taken before removal
	tr.Observe(SignalWiFi)

	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestTracker_Run_AppliesPushedEvents(t *testing.T) {
	obs := &stubObserver{}
	tr := newTestTracker(obs, newManualClock())

	online := make(chan struct{}, 1)
	tr.OnOnline(func(Transition) error {
		online <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.subs) == 1
	}, time.Second, time.Millisecond)

	obs.push(SignalNone)
	obs.push(SignalWiFi)

	select {
	case <-online:
	case <-time.After(time.Second):
		t.Fatal("online listener not called")
	}
	assert.Equal(t, Online, tr.State())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTracker_Metrics(t *testing.T) {
	m := metrics.Nop()
	tr := newTestTracker(&stubObserver{}, newManualClock(), WithMetrics(m))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Online))
	tr.Observe(SignalNone)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Online))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("offline")))
}

func TestParseSignal(t *testing.T) {
	for in, want := range map[string]Signal{
		"none":          SignalNone,
		"wifi-like":     SignalWiFi,
		"WIFI":          SignalWiFi,
		"cellular-like": SignalCellular,
		"cellular":      SignalCellular,
	} {
		got, err := ParseSignal(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSignal("satellite")
	assert.Error(t, err)
}

func TestSignalQueue_FIFO(t *testing.T) {
	q := newSignalQueue()
	q.Enqueue(SignalWiFi)
	q.Enqueue(SignalNone)
	q.Enqueue(SignalCellular)
	assert.Equal(t, 3, q.Len())

	for _, want := range []Signal{SignalWiFi, SignalNone, SignalCellular} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	q.Close()
	assert.False(t, q.Enqueue(SignalWiFi), "closed queue rejects events")
	q.Close() // idempotent
}
