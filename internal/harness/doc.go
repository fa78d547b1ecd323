// Package harness runs scripted sync engine scenarios.
//
// A scenario drives a real engine (memory store, fake clock, fake
// connectivity observer, scripted provider) through a list of steps and
// records one trace event per step. Traces are compared against golden
// files, and assertions check the trace and the final state.
//
// # Scenario Format
//
//	name: offline_write_replayed
//	description: "A write made offline is replayed on reconnect"
//	signal: none
//	steps:
//	  - submit: { type: observation, payload: { field: 7 } }
//	  - expect_queue: [observation]
//	  - signal: wifi
//	  - expect_queue: []
//	assertions:
//	  - type: trace_contains
//	    event: signal:online
//	    result: { replayed: 1 }
//	  - type: final_state
//	    expect: { queue_depth: 0, provider_calls: 1 }
//
// # Steps
//
//   - signal: none|wifi|cellular; applies the event and waits for the drain
//     a reconnect starts
//   - advance: a duration the wall clock moves forward
//   - provider: list of {status, body} or {error: transient|permanent}
//     outcomes; the last one repeats
//   - fetch: {category, key}
//   - submit: {type, payload}; the scripted provider is registered as the
//     performer for type
//   - drain: true
//   - clear: {category} | {all: true} | {queue: true}
//   - expect_queue: queued action types in order
//
// # Assertion Types
//
// Events are referred to by "step:outcome" labels such as fetch:stale-cache
// or submit:queued.
//
//   - trace_contains: an event with the label whose result contains the
//     given subset
//   - trace_order: labels first appear in the given order
//   - trace_count: the label appears exactly N times
//   - final_state: the final snapshot (state, queue, queue_depth,
//     provider_calls, synced) contains the given subset
package harness
