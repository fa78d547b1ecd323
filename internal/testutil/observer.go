package testutil

import (
	"context"
	"sync"

	"github.com/roach88/fieldsync/internal/connectivity"
)

// FakeObserver is a scripted connectivity observer.
type FakeObserver struct {
	mu      sync.Mutex
	signal  connectivity.Signal
	err     error
	queries int
	next    int
	subs    map[int]func(connectivity.Signal)
}

// NewFakeObserver creates an observer reporting sig.
func NewFakeObserver(sig connectivity.Signal) *FakeObserver {
	return &FakeObserver{signal: sig, subs: make(map[int]func(connectivity.Signal))}
}

// CurrentSignal implements connectivity.Observer.
func (o *FakeObserver) CurrentSignal(ctx context.Context) (connectivity.Signal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
	if o.err != nil {
		return connectivity.SignalNone, o.err
	}
	return o.signal, nil
}

// Subscribe implements connectivity.Observer.
func (o *FakeObserver) Subscribe(fn func(connectivity.Signal)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// SetSignal changes what CurrentSignal reports without notifying subscribers.
func (o *FakeObserver) SetSignal(sig connectivity.Signal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signal = sig
}

// SetError makes CurrentSignal fail with err. nil clears it.
func (o *FakeObserver) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Push sets the signal and notifies every subscriber.
func (o *FakeObserver) Push(sig connectivity.Signal) {
	o.mu.Lock()
	o.signal = sig
	subs := make([]func(connectivity.Signal), 0, len(o.subs))
	for i := 1; i <= o.next; i++ {
		if fn, ok := o.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(sig)
	}
}

// Queries returns how many times CurrentSignal was called.
func (o *FakeObserver) Queries() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queries
}

// Subscribers returns the number of live subscriptions.
func (o *FakeObserver) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
