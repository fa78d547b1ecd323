package connectivity

import "sync"

// signalQueue is a thread-safe FIFO of observer events.
//
// The queue is unbounded so an observer callback never blocks and no
// event is dropped while the Run loop is busy notifying listeners.
//
// The signal channel (buffered, size 1) coalesces wakeups so the Run loop
// can wait on it in a select alongside ctx.Done().
type signalQueue struct {
	mu     sync.Mutex
	events []Signal
	closed bool
	signal chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{
		events: make([]Signal, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *signalQueue) Enqueue(s Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *signalQueue) TryDequeue() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return SignalNone, false
	}

	s := q.events[0]
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return s, true
}

// Wait returns a channel that signals when events may be available.
func (q *signalQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes any waiter.
func (q *signalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
