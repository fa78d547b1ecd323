// Package cache is the expiring cache: versioned, timestamped payloads per
// (category, key), persisted in the key-value store and judged fresh
// against a per-category TTL.
//
// Record layout: cache/<category>/<key> holds
// {"payload":..., "stored_at":..., "schema_version":...}. Keys are NFC
// normalized so visually identical keys address one record.
//
// Mutations of one record key are serialized through a striped mutex;
// different keys proceed in parallel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Prefix is the record key prefix for all cache entries.
const Prefix = "cache/"

const stripes = 64

// Entry is a copy of a stored cache record.
type Entry struct {
	Category      Category
	Key           string
	Payload       []byte
	StoredAt      time.Time
	SchemaVersion int

	// Age is now minus StoredAt at lookup time.
	Age time.Duration

	// Expired is set when Age exceeds the category TTL.
	Expired bool
}

type record struct {
	Payload       []byte    `json:"payload"`
	StoredAt      time.Time `json:"stored_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Store is the expiring cache. Safe for concurrent use.
type Store struct {
	kv      store.Store
	policy  Policy
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics

	locks [stripes]sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for stamps and age checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the collectors lookups are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a cache over kv.
func New(kv store.Store, policy Policy, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		policy: policy,
		clock:  clock.Real{},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s
}

// Policy returns the cache policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// Put overwrites the entry for (category, key), stamping it with the
// current time. The record is durable when Put returns nil.
//
// StoredAt never moves backwards for a key: if the wall clock stepped back
// since the previous write, the previous stamp is kept.
func (s *Store) Put(ctx context.Context, category Category, key string, payload []byte) error {
	_, err := s.Save(ctx, category, key, payload)
	return err
}

// Save is Put that also returns the StoredAt stamp written.
func (s *Store) Save(ctx context.Context, category Category, key string, payload []byte) (time.Time, error) {
	if err := category.Validate(); err != nil {
		return time.Time{}, syncerr.Permanent("cache put", err)
	}
	rk := recordKey(category, key)

	mu := s.lock(rk)
	mu.Lock()
	defer mu.Unlock()

	now := s.clock.Now()
	if prev, err := s.read(ctx, rk); err != nil {
		return time.Time{}, err
	} else if prev != nil && prev.StoredAt.After(now) {
		now = prev.StoredAt
	}

	data, err := json.Marshal(record{
		Payload:       payload,
		StoredAt:      now,
		SchemaVersion: s.policy.SchemaVersion(category),
	})
	if err != nil {
		return time.Time{}, syncerr.Persistence("cache put", fmt.Errorf("encode %s: %w", rk, err))
	}
	if err := s.kv.Write(ctx, rk, data); err != nil {
		return time.Time{}, syncerr.Persistence("cache put", fmt.Errorf("write %s: %w", rk, err))
	}

	s.metrics.CacheWrites.WithLabelValues(string(category)).Inc()
	s.log.Debug().Str("category", string(category)).Str("key", key).Msg("cache put")
	return now, nil
}

// Get returns the payload if present, of the expected schema version and
// not expired.
func (s *Store) Get(ctx context.Context, category Category, key string) ([]byte, bool, error) {
	e, err := s.Lookup(ctx, category, key)
	if err != nil || e == nil || e.Expired {
		return nil, false, err
	}
	return e.Payload, true, nil
}

// Lookup returns the entry even if expired, with Expired set. Returns nil
// if the entry is absent or was written under another schema version.
func (s *Store) Lookup(ctx context.Context, category Category, key string) (*Entry, error) {
	e, err := s.lookup(ctx, category, key)
	if err != nil {
		return nil, err
	}

	result := metrics.LookupMiss
	if e != nil {
		result = metrics.LookupFresh
		if e.Expired {
			result = metrics.LookupStale
		}
	}
	s.metrics.CacheLookups.WithLabelValues(string(category), result).Inc()
	return e, nil
}

// IsFresh reports whether Get would return a payload.
func (s *Store) IsFresh(ctx context.Context, category Category, key string) (bool, error) {
	e, err := s.lookup(ctx, category, key)
	if err != nil || e == nil {
		return false, err
	}
	return !e.Expired, nil
}

// Keys returns the keys stored under category, in ascending order.
func (s *Store) Keys(ctx context.Context, category Category) ([]string, error) {
	if err := category.Validate(); err != nil {
		return nil, syncerr.Permanent("cache keys", err)
	}
	prefix := categoryPrefix(category)
	keys, err := s.kv.ListKeysWithPrefix(ctx, prefix)
	if err != nil {
		return nil, syncerr.Persistence("cache keys", err)
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimPrefix(k, prefix)
	}
	return out, nil
}

// Clear removes every entry of category. Idempotent.
func (s *Store) Clear(ctx context.Context, category Category) error {
	if err := category.Validate(); err != nil {
		return syncerr.Permanent("cache clear", err)
	}
	return s.clearPrefix(ctx, categoryPrefix(category))
}

// ClearAll removes every cache entry. Idempotent.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.clearPrefix(ctx, Prefix)
}

func (s *Store) clearPrefix(ctx context.Context, prefix string) error {
	keys, err := s.kv.ListKeysWithPrefix(ctx, prefix)
	if err != nil {
		return syncerr.Persistence("cache clear", err)
	}
	for _, rk := range keys {
		mu := s.lock(rk)
		mu.Lock()
		err := s.kv.Delete(ctx, rk)
		mu.Unlock()
		if err != nil {
			return syncerr.Persistence("cache clear", fmt.Errorf("delete %s: %w", rk, err))
		}
	}
	s.log.Debug().Str("prefix", prefix).Int("removed", len(keys)).Msg("cache cleared")
	return nil
}

func (s *Store) lookup(ctx context.Context, category Category, key string) (*Entry, error) {
	if err := category.Validate(); err != nil {
		return nil, syncerr.Permanent("cache get", err)
	}
	rk := recordKey(category, key)
	rec, err := s.read(ctx, rk)
	if err != nil || rec == nil {
		return nil, err
	}

	want := s.policy.SchemaVersion(category)
	if rec.SchemaVersion != want {
		s.log.Debug().
			Str("key", rk).
			Int("stored_version", rec.SchemaVersion).
			Int("expected_version", want).
			Msg("cache entry version mismatch, treating as absent")
		return nil, nil
	}

	age := s.clock.Now().Sub(rec.StoredAt)
	return &Entry{
		Category:      category,
		Key:           norm.NFC.String(key),
		Payload:       rec.Payload,
		StoredAt:      rec.StoredAt,
		SchemaVersion: rec.SchemaVersion,
		Age:           age,
		Expired:       s.policy.Expired(category, age),
	}, nil
}

// read returns nil, nil if the record is missing or undecodable.
func (s *Store) read(ctx context.Context, rk string) (*record, error) {
	data, err := s.kv.Read(ctx, rk)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.Persistence("cache read", fmt.Errorf("read %s: %w", rk, err))
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn().Err(err).Str("key", rk).Msg("undecodable cache record, treating as absent")
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) lock(rk string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(rk)%stripes]
}

func categoryPrefix(c Category) string {
	return Prefix + string(c) + "/"
}

func recordKey(c Category, key string) string {
	return categoryPrefix(c) + norm.NFC.String(key)
}
