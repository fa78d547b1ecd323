package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/fieldsync/internal/store"
)

// FaultyStore wraps a store and fails selected operations on demand.
type FaultyStore struct {
	store.Store

	mu         sync.Mutex
	writeErr   error
	readErr    error
	deleteErr  error
	listErr    error
	failPrefix string
	writes     int
	deletes    int
}

// NewFaultyStore wraps inner. With no failures set it behaves like inner.
func NewFaultyStore(inner store.Store) *FaultyStore {
	return &FaultyStore{Store: inner}
}

// FailWrites makes every Write to a key with prefix fail with err.
// An empty prefix matches every key; a nil err clears the failure.
func (s *FaultyStore) FailWrites(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPrefix = prefix
	s.writeErr = err
}

// FailReads makes every Read fail with err.
func (s *FaultyStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailDeletes makes every Delete fail with err.
func (s *FaultyStore) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

// FailList makes every ListKeysWithPrefix fail with err.
func (s *FaultyStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Writes returns the number of successful writes.
func (s *FaultyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Deletes returns the number of successful deletes.
func (s *FaultyStore) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

// Read implements store.Store.
func (s *FaultyStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Read(ctx, key)
}

// Write implements store.Store.
func (s *FaultyStore) Write(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	err := s.writeErr
	if err != nil && !strings.HasPrefix(key, s.failPrefix) {
		err = nil
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.Store.Write(ctx, key, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return nil
}

// Delete implements store.Store.
func (s *FaultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return nil
}

// ListKeysWithPrefix implements store.Store.
func (s *FaultyStore) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.ListKeysWithPrefix(ctx, prefix)
}
