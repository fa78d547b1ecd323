package connectivity

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Transition describes a change of the tracker's verdict.
type Transition struct {
	From   State
	To     State
	Signal Signal
	At     time.Time
}

// Listener handles a transition. A returned error (or a panic) is logged and
// the remaining listeners are still notified.
type Listener func(Transition) error

// Handle identifies a registered listener for removal.
type Handle uint64

type listenerKind int

const (
	kindAny listenerKind = iota
	kindOnline
)

type entry struct {
	handle Handle
	kind   listenerKind
	fn     Listener
}

// registry is an ordered listener list. Registration and removal are safe
// at any point, including during notification: notify works on a snapshot.
type registry struct {
	mu      sync.Mutex
	next    Handle
	entries []entry
}

func (r *registry) add(kind listenerKind, fn Listener) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry{handle: r.next, kind: kind, fn: fn})
	return r.next
}

func (r *registry) remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entry(nil), r.entries...)
}

// notify calls every matching listener in registration order.
func (r *registry) notify(log *zerolog.Logger, tr Transition) {
	becameOnline := tr.From == Offline && tr.To == Online
	for _, e := range r.snapshot() {
		if e.kind == kindOnline && !becameOnline {
			continue
		}
		if err := call(e.fn, tr); err != nil {
			log.Error().
				Err(err).
				Uint64("listener", uint64(e.handle)).
				Str("to", tr.To.String()).
				Msg("connectivity listener failed")
		}
	}
}

func call(fn Listener, tr Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(tr)
}
