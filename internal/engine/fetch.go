package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Source says where a Fetch result came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	SourceStale   Source = "stale-cache"
)

// Result is the outcome of Fetch.
type Result struct {
	Payload  []byte    `json:"payload" yaml:"payload"`
	Stale    bool      `json:"stale" yaml:"stale"`
	Source   Source    `json:"source" yaml:"source"`
	StoredAt time.Time `json:"stored_at" yaml:"stored_at"`
}

type fetched struct {
	payload  []byte
	storedAt time.Time
}

// Fetch returns the payload for (category, key), from cache when fresh,
// otherwise from fetch via the retry client.
//
// Concurrent fetches of the same (category, key) share one network call.
// A caller that gives up returns ctx.Err() without cancelling the call for
// the others. Results served from an expired entry have Stale set.
func (e *Engine) Fetch(ctx context.Context, category cache.Category, key string, fetch retry.Call) (*Result, error) {
	entry, err := e.cache.Lookup(ctx, category, key)
	if err != nil {
		return nil, err
	}
	if entry != nil && !entry.Expired {
		e.metrics.Fetches.WithLabelValues(string(SourceCache)).Inc()
		return &Result{Payload: entry.Payload, Source: SourceCache, StoredAt: entry.StoredAt}, nil
	}

	op := "fetch " + string(category)
	if !e.tracker.Online(ctx) {
		if entry != nil {
			e.log.Info().Str("category", string(category)).Str("key", key).Msg("offline, serving stale cache")
			return e.stale(entry), nil
		}
		return nil, syncerr.Unavailable(op)
	}

	ch := e.fetches.DoChan(string(category)+"\x00"+norm.NFC.String(key), func() (any, error) {
		// The shared call must not end with whichever caller started it.
		// Only Close stops it early.
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(e.bgCtx, cancel)
		defer stop()
		return e.fetchNetwork(sctx, op, category, key, fetch)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	err = res.Err
	if err == nil {
		f := res.Val.(fetched)
		if res.Shared {
			e.log.Debug().Str("category", string(category)).Str("key", key).Msg("fetch shared")
		}
		e.metrics.Fetches.WithLabelValues(string(SourceNetwork)).Inc()
		return &Result{Payload: f.payload, Source: SourceNetwork, StoredAt: f.storedAt}, nil
	}

	if entry != nil && fallsBackToStale(err) {
		e.log.Warn().Err(err).Str("category", string(category)).Str("key", key).Msg("fetch failed, serving stale cache")
		return e.stale(entry), nil
	}
	return nil, err
}

// fetchNetwork performs the retried call and caches a successful payload.
func (e *Engine) fetchNetwork(ctx context.Context, op string, category cache.Category, key string, fetch retry.Call) (fetched, error) {
	resp, err := e.retry.Execute(ctx, retry.Request{Op: op, Key: key}, fetch, retry.WithRetryableStatus(e.retryable))
	if err != nil {
		return fetched{}, err
	}
	if err := checkStatus(op, resp); err != nil {
		return fetched{}, err
	}
	storedAt, err := e.cache.Save(ctx, category, key, resp.Body)
	if err != nil {
		return fetched{}, err
	}
	if err := e.stampSync(ctx); err != nil {
		return fetched{}, err
	}
	return fetched{payload: resp.Body, storedAt: storedAt}, nil
}

func (e *Engine) stale(entry *cache.Entry) *Result {
	e.metrics.Fetches.WithLabelValues(string(SourceStale)).Inc()
	return &Result{Payload: entry.Payload, Stale: true, Source: SourceStale, StoredAt: entry.StoredAt}
}

// fallsBackToStale reports whether a failed network fetch may be answered
// with stale data. Permanent errors, local persistence failures and caller
// cancellation are returned instead.
func fallsBackToStale(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch syncerr.KindOf(err) {
	case syncerr.KindPermanent, syncerr.KindPersistence:
		return false
	}
	return true
}
