package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
	"github.com/roach88/fieldsync/internal/testutil"
)

// Harness runs one scenario against an engine built from a memory store
// and deterministic fakes.
type Harness struct {
	store    store.Store
	clock    *testutil.FakeClock
	observer *testutil.FakeObserver
	provider *testutil.ScriptedProvider
	engine   *engine.Engine
	seq      *clock.Sequence
	log      zerolog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes engine logs to l. Default: discarded.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh memory store, a fake clock starting at
// testutil.Epoch and queue IDs action-0001, action-0002, ... so traces are
// identical across runs.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i := range scenario.Steps {
		step := &scenario.Steps[i]
		ev, err := h.execute(ctx, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
		ev.Seq = h.seq.Next()
		result.AddEvent(ev)
	}

	state, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, opts ...Option) (*Harness, error) {
	sig := connectivity.SignalWiFi
	if scenario.Signal != "" {
		s, err := connectivity.ParseSignal(scenario.Signal)
		if err != nil {
			return nil, err
		}
		sig = s
	}

	h := &Harness{
		store:    store.NewMemory(),
		clock:    testutil.NewFakeClock(),
		observer: testutil.NewFakeObserver(sig),
		provider: testutil.NewScriptedProvider(),
		seq:      clock.NewSequence(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	tracker := connectivity.NewTracker(h.observer, connectivity.DefaultConfig(),
		connectivity.WithClock(h.clock),
		connectivity.WithLogger(h.log),
	)
	q, err := queue.Open(ctx, h.store,
		queue.WithClock(h.clock),
		queue.WithIDGenerator(queue.NewSequentialGenerator("action")),
		queue.WithLogger(h.log),
	)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Deps{
		Store:   h.store,
		Cache:   cache.New(h.store, cache.DefaultPolicy(), cache.WithClock(h.clock), cache.WithLogger(h.log)),
		Queue:   q,
		Tracker: tracker,
		Retry:   retry.New(retry.DefaultConfig(), retry.WithClock(h.clock), retry.WithLogger(h.log)),
	}, engine.WithClock(h.clock), engine.WithLogger(h.log))
	if err != nil {
		return nil, err
	}
	h.engine = eng

	// Settle the initial verdict so an offline start does not look like a
	// transition later.
	tracker.CheckNow(ctx)
	return h, nil
}

func (h *Harness) close() {
	_ = h.engine.Close()
	_ = h.store.Close()
}

func (h *Harness) execute(ctx context.Context, step *Step, result *Result) (TraceEvent, error) {
	switch step.Kind() {
	case StepSignal:
		return h.signal(ctx, step.Signal)
	case StepAdvance:
		h.clock.Advance(step.Advance)
		return TraceEvent{
			Step:    StepAdvance,
			Args:    map[string]any{"by": step.Advance.String()},
			Outcome: "ok",
			Result:  map[string]any{"now": formatTime(h.clock.Now())},
		}, nil
	case StepProvider:
		return h.script(step.Provider)
	case StepFetch:
		return h.fetch(ctx, step.Fetch)
	case StepSubmit:
		return h.submit(ctx, step.Submit)
	case StepDrain:
		return h.drain(ctx)
	case StepClear:
		return h.clear(ctx, step.Clear)
	case StepExpectQueue:
		return h.expectQueue(ctx, *step.ExpectQueue, result)
	default:
		return TraceEvent{}, fmt.Errorf("invalid step")
	}
}

// signal applies a connectivity event and waits for the drain a reconnect
// dispatches, so the queue state after the step is settled.
func (h *Harness) signal(ctx context.Context, name string) (TraceEvent, error) {
	sig, err := connectivity.ParseSignal(name)
	if err != nil {
		return TraceEvent{}, err
	}

	before, err := h.engine.Queue().Len(ctx)
	if err != nil {
		return TraceEvent{}, err
	}
	calls := h.provider.Calls()

	h.observer.SetSignal(sig)
	state := h.engine.Tracker().Observe(sig)
	h.engine.Wait()

	after, err := h.engine.Queue().Len(ctx)
	if err != nil {
		return TraceEvent{}, err
	}

	res := map[string]any{"queue_depth": after}
	if before > after {
		res["replayed"] = before - after
	}
	return TraceEvent{
		Step:    StepSignal,
		Args:    map[string]any{"signal": sig.String()},
		Outcome: state.String(),
		Result:  res,
		Calls:   h.provider.Calls() - calls,
	}, nil
}

func (h *Harness) script(outcomes []ProviderOutcome) (TraceEvent, error) {
	script := make([]testutil.Outcome, len(outcomes))
	for i, o := range outcomes {
		switch o.Error {
		case "transient":
			script[i] = testutil.TransientOutcome()
		case "permanent":
			script[i] = testutil.PermanentOutcome()
		default:
			out := testutil.Outcome{Status: o.Status}
			if out.Status == 0 {
				out.Status = 200
			}
			if o.Body != nil {
				body, err := json.Marshal(o.Body)
				if err != nil {
					return TraceEvent{}, fmt.Errorf("provider[%d] body: %w", i, err)
				}
				out.Body = body
			}
			script[i] = out
		}
	}
	h.provider.Script(script...)

	return TraceEvent{
		Step:    StepProvider,
		Outcome: "ok",
		Result:  map[string]any{"outcomes": len(outcomes)},
	}, nil
}

func (h *Harness) fetch(ctx context.Context, step *FetchStep) (TraceEvent, error) {
	calls := h.provider.Calls()
	ev := TraceEvent{
		Step: StepFetch,
		Args: map[string]any{"category": step.Category, "key": step.Key},
	}

	res, err := h.engine.Fetch(ctx, cache.Category(step.Category), step.Key, h.provider.Call)
	ev.Calls = h.provider.Calls() - calls
	if err != nil {
		return failed(ev, err), nil
	}

	ev.Outcome = string(res.Source)
	ev.Result = map[string]any{
		"payload":   payloadValue(res.Payload),
		"stale":     res.Stale,
		"stored_at": formatTime(res.StoredAt),
	}
	return ev, nil
}

func (h *Harness) submit(ctx context.Context, step *SubmitStep) (TraceEvent, error) {
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("submit payload: %w", err)
	}
	h.engine.Register(step.Type, h.provider.Perform)

	calls := h.provider.Calls()
	ev := TraceEvent{
		Step: StepSubmit,
		Args: map[string]any{"type": step.Type, "payload": payloadValue(payload)},
	}

	res, err := h.engine.Submit(ctx, step.Type, payload, nil)
	ev.Calls = h.provider.Calls() - calls
	if err != nil {
		return failed(ev, err), nil
	}

	ev.Outcome = string(res.Status)
	ev.Result = map[string]any{}
	if res.ActionID != "" {
		ev.Result["action_id"] = res.ActionID
	}
	if res.Response != nil {
		ev.Result["status"] = res.Response.Status
	}
	return ev, nil
}

func (h *Harness) drain(ctx context.Context) (TraceEvent, error) {
	calls := h.provider.Calls()
	ev := TraceEvent{Step: StepDrain}

	n, err := h.engine.Drain(ctx)
	ev.Calls = h.provider.Calls() - calls

	depth, lerr := h.engine.Queue().Len(ctx)
	if lerr != nil {
		return TraceEvent{}, lerr
	}
	ev.Result = map[string]any{"replayed": n, "queue_depth": depth}
	if err != nil {
		ev.Outcome = "error"
		ev.Error = errorLabel(err)
		return ev, nil
	}
	ev.Outcome = "ok"
	return ev, nil
}

func (h *Harness) clear(ctx context.Context, step *ClearStep) (TraceEvent, error) {
	ev := TraceEvent{Step: StepClear, Outcome: "ok"}

	var err error
	switch {
	case step.Queue:
		ev.Args = map[string]any{"queue": true}
		var n int
		n, err = h.engine.Queue().Clear(ctx)
		ev.Result = map[string]any{"removed": n}
	case step.All:
		ev.Args = map[string]any{"all": true}
		err = h.engine.Cache().ClearAll(ctx)
	default:
		ev.Args = map[string]any{"category": step.Category}
		err = h.engine.Cache().Clear(ctx, cache.Category(step.Category))
	}
	if err != nil {
		return failed(ev, err), nil
	}
	return ev, nil
}

func (h *Harness) expectQueue(ctx context.Context, want []string, result *Result) (TraceEvent, error) {
	types, err := h.queueTypes(ctx)
	if err != nil {
		return TraceEvent{}, err
	}

	ev := TraceEvent{
		Step:    StepExpectQueue,
		Args:    map[string]any{"types": want},
		Outcome: "ok",
		Result:  map[string]any{"types": types},
	}
	if !slices.Equal(types, want) {
		ev.Outcome = "mismatch"
		result.AddError(fmt.Sprintf("expect_queue: want %v, got %v", want, types))
	}
	return ev, nil
}

func (h *Harness) queueTypes(ctx context.Context) ([]string, error) {
	actions, err := h.engine.Queue().PeekAll(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]string, len(actions))
	for i, a := range actions {
		types[i] = a.Type
	}
	return types, nil
}

// snapshot captures the final state for final_state assertions.
func (h *Harness) snapshot(ctx context.Context) (map[string]any, error) {
	types, err := h.queueTypes(ctx)
	if err != nil {
		return nil, err
	}
	_, synced, err := h.engine.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"state":          h.engine.Tracker().State().String(),
		"queue":          types,
		"queue_depth":    len(types),
		"provider_calls": h.provider.Calls(),
		"synced":         synced,
	}, nil
}

func failed(ev TraceEvent, err error) TraceEvent {
	ev.Outcome = "error"
	ev.Error = errorLabel(err)
	return ev
}

// errorLabel names an error by its kind so traces do not depend on
// message wording.
func errorLabel(err error) string {
	if errors.Is(err, engine.ErrDrainInFlight) {
		return "DRAIN_IN_FLIGHT"
	}
	if kind := syncerr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "UNKNOWN"
}

// payloadValue decodes JSON payloads so traces show structure rather than
// escaped strings.
func payloadValue(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
