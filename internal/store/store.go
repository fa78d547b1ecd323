package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Read when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the persistent string-keyed byte store.
//
// Implementations must be safe for concurrent use. A Write that returns nil
// must survive an immediate process crash.
type Store interface {
	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores value under key, replacing any prior value.
	Write(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeysWithPrefix returns all keys starting with prefix in ascending
	// byte order.
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open opens the named backend at path. path is ignored for the memory backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendBadger:
		return OpenBadger(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, or "" if no such bound exists (prefix is empty or
// all 0xff bytes).
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
