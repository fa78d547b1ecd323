package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// ErrTransient is the failure a ScriptedProvider returns for TransientOutcome.
var ErrTransient = errors.New("connection reset by peer")

// ErrPermanent is the failure a ScriptedProvider returns for PermanentOutcome.
var ErrPermanent = errors.New("unauthorized")

// Outcome is one scripted provider response.
type Outcome struct {
	Status int
	Body   []byte
	Err    error
}

// OK returns a 200 outcome with body.
func OK(body string) Outcome {
	return Outcome{Status: 200, Body: []byte(body)}
}

// Status returns an outcome with the given status code.
func Status(code int) Outcome {
	return Outcome{Status: code}
}

// TransientOutcome returns a transport failure.
func TransientOutcome() Outcome {
	return Outcome{Err: syncerr.Transient("provider", ErrTransient)}
}

// PermanentOutcome returns a non-retryable failure.
func PermanentOutcome() Outcome {
	return Outcome{Err: syncerr.Permanent("provider", ErrPermanent)}
}

// ScriptedProvider returns scripted outcomes in order and records calls.
// Once the script is used up the last outcome repeats; an empty script
// returns OK("{}").
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedProvider struct {
	mu       sync.Mutex
	script   []Outcome
	calls    int
	payloads []json.RawMessage
	gate     chan struct{}
}

// NewScriptedProvider creates a provider with the given script.
func NewScriptedProvider(outcomes ...Outcome) *ScriptedProvider {
	return &ScriptedProvider{script: outcomes}
}

// Script replaces the remaining script.
func (p *ScriptedProvider) Script(outcomes ...Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = outcomes
}

// Block makes calls wait until Release is called.
func (p *ScriptedProvider) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
}

// Release unblocks waiting and future calls.
func (p *ScriptedProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// Call is a retry.Call that returns the next outcome.
func (p *ScriptedProvider) Call(ctx context.Context) (*retry.Response, error) {
	return p.next(ctx, nil)
}

// Perform records payload and returns the next outcome.
func (p *ScriptedProvider) Perform(ctx context.Context, payload json.RawMessage) (*retry.Response, error) {
	return p.next(ctx, payload)
}

// Calls returns the number of calls made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Payloads returns the payloads passed to Perform, in call order.
func (p *ScriptedProvider) Payloads() []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.payloads...)
}

func (p *ScriptedProvider) next(ctx context.Context, payload json.RawMessage) (*retry.Response, error) {
	p.mu.Lock()
	p.calls++
	if payload != nil {
		p.payloads = append(p.payloads, payload)
	}
	out := Outcome{Status: 200, Body: []byte("{}")}
	if len(p.script) > 0 {
		out = p.script[0]
		if len(p.script) > 1 {
			p.script = p.script[1:]
		}
	}
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if out.Err != nil {
		return nil, out.Err
	}
	return &retry.Response{Status: out.Status, Body: out.Body}, nil
}
