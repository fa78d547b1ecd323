package clock

import "sync/atomic"

// Sequence is a monotonic logical clock for ordering queued actions.
//
// Every enqueued action is stamped with a strictly increasing seq from
// Next(). Queue records are keyed by the zero-padded seq, so byte order of
// the keys equals enqueue order.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a new sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence starting at a specific value.
// Used on open to resume after the highest persisted seq.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}

// AdvanceTo moves the sequence forward to at least v. Never moves it back.
func (s *Sequence) AdvanceTo(v int64) {
	for {
		cur := s.seq.Load()
		if cur >= v || s.seq.CompareAndSwap(cur, v) {
			return
		}
	}
}
