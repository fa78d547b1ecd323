package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Step: StepSubmit, Outcome: "queued", Result: map[string]any{"action_id": "action-0001"}},
		{Seq: 2, Step: StepSignal, Outcome: "online", Result: map[string]any{"replayed": 1, "queue_depth": 0}},
		{Seq: 3, Step: StepFetch, Outcome: "network", Result: map[string]any{"payload": map[string]any{"t": 1.5}}},
		{Seq: 4, Step: StepFetch, Outcome: "cache"},
		{Seq: 5, Step: StepFetch, Outcome: "cache"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "signal:online"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Event:  "signal:online",
		Result: map[string]any{"replayed": 1},
	}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Event:  "fetch:network",
		Result: map[string]any{"payload": map[string]any{"t": 1.5}},
	}))

	err := assertTraceContains(trace, Assertion{
		Event:  "signal:online",
		Result: map[string]any{"replayed": 2},
	})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "Full trace")

	assert.Error(t, assertTraceContains(trace, Assertion{Event: "drain:ok"}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"submit:queued", "fetch:cache"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"signal:online"}}))

	err := assertTraceOrder(trace, Assertion{Events: []string{"fetch:cache", "submit:queued"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Events: []string{"submit:queued", "drain:ok"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: drain:ok")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "fetch:cache", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "drain:ok", Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: "fetch:cache", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	state := map[string]any{
		"state":          "online",
		"queue":          []string{"a", "b"},
		"queue_depth":    2,
		"provider_calls": 3,
		"synced":         true,
	}

	assert.NoError(t, assertFinalState(state, Assertion{Expect: map[string]any{
		"state":       "online",
		"queue":       []any{"a", "b"},
		"queue_depth": 2,
		"synced":      true,
	}}))

	err := assertFinalState(state, Assertion{Expect: map[string]any{"queue_depth": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_depth = 2")

	err = assertFinalState(state, Assertion{Expect: map[string]any{"cache": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field not present")
}

func TestEvaluateAssertions_IndexesFailures(t *testing.T) {
	result := &Result{Trace: sampleTrace(), State: map[string]any{"queue_depth": 0}}

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Event: "fetch:cache", Count: 2},
		{Type: AssertFinalState, Expect: map[string]any{"queue_depth": 5}},
	})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "assertions[1]")
}

func TestEqualValues_NumericKinds(t *testing.T) {
	assert.True(t, equalValues(1, 1.0))
	assert.True(t, equalValues(int64(3), 3))
	assert.True(t, equalValues([]string{"x"}, []any{"x"}))
	assert.False(t, equalValues(1, "1"))
}
