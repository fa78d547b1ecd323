// Package engine implements the fieldsync orchestrator.
//
// The engine composes the expiring cache, the connectivity tracker, the
// retry client and the offline queue into three paths:
//
// Read path (Fetch):
//  1. A fresh cache entry is returned without any network call.
//  2. Online: the fetcher runs through the retry client; the result is
//     cached and returned. On exhausted retries the stale entry, if any,
//     is returned marked Stale.
//  3. Offline: the stale entry, if any, is returned marked Stale;
//     otherwise an Unavailable error.
//
// Write path (Submit):
//  1. Online: the performer runs through the retry client. Exhausted
//     retries enqueue the action and report it queued.
//  2. Offline: the action is enqueued without any network call.
//
// Permanent errors surface on both paths. They are never retried, never
// queued and never answered with stale data.
//
// Reconnect: the engine registers the tracker's online callback. Each
// Offline to Online transition dispatches one background drain. A single
// in-flight flag (compare-and-swap, never a blocking lock) guarantees at
// most one drain runs at a time; triggers arriving during a drain are
// dropped.
//
// The engine holds no global state. Construct one per process (or per
// test) and pass it to every consumer.
package engine
