// Package syncerr defines the error taxonomy shared by the sync engine.
//
// Lower-level components (store, cache, queue, retry client) return *Error
// values with a Kind. The orchestrator inspects the Kind to choose a recovery
// path (stale fallback, enqueue) and only propagates when none exists.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind categorizes sync engine errors.
type Kind string

const (
	// KindTransient marks a retryable failure: timeouts, connection resets.
	KindTransient Kind = "TRANSIENT"

	// KindPermanent marks a non-retryable failure: malformed request,
	// authorization failure, unexpected status. Never retried, never queued.
	KindPermanent Kind = "PERMANENT"

	// KindUnavailable means there is no network and no usable cache.
	KindUnavailable Kind = "UNAVAILABLE"

	// KindExhaustedRetries means a transient failure survived every attempt.
	KindExhaustedRetries Kind = "EXHAUSTED_RETRIES"

	// KindPersistence marks a local store I/O failure.
	KindPersistence Kind = "PERSISTENCE_FAILURE"
)

// Error is the structured error returned across component boundaries.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the operation that failed (e.g. "cache.put", "weather/fetch").
	Op string

	// Attempts is the number of network attempts made (retry client only).
	Attempts int

	// Err is the underlying failure. For KindExhaustedRetries it is the
	// failure of the last attempt.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Attempts > 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, e.Kind, e.Attempts, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return New(KindTransient, op, err)
}

// Permanent wraps err as a non-retryable failure.
func Permanent(op string, err error) *Error {
	return New(KindPermanent, op, err)
}

// Unavailable reports that neither network nor cache can serve op.
func Unavailable(op string) *Error {
	return New(KindUnavailable, op, nil)
}

// Exhausted reports that op failed on every one of attempts tries; last is
// the final underlying failure.
func Exhausted(op string, attempts int, last error) *Error {
	return &Error{Kind: KindExhaustedRetries, Op: op, Attempts: attempts, Err: last}
}

// Persistence wraps a local store failure.
func Persistence(op string, err error) *Error {
	return New(KindPersistence, op, err)
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind. Uses errors.As so wrapped
// errors are matched.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is a retryable failure.
func IsTransient(err error) bool { return Is(err, KindTransient) }

// IsPermanent reports whether err must not be retried or queued.
func IsPermanent(err error) bool { return Is(err, KindPermanent) }

// IsUnavailable reports whether err means no network and no cache.
func IsUnavailable(err error) bool { return Is(err, KindUnavailable) }

// IsExhausted reports whether err is a terminal retry exhaustion.
func IsExhausted(err error) bool { return Is(err, KindExhaustedRetries) }

// IsPersistence reports whether err is a local store failure.
func IsPersistence(err error) bool { return Is(err, KindPersistence) }
