package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// SubmitStatus says what happened to a write.
type SubmitStatus string

const (
	// StatusCompleted means the remote side accepted the write.
	StatusCompleted SubmitStatus = "completed"
	// StatusQueued means the write was saved and will sync on reconnect.
	StatusQueued SubmitStatus = "queued"
)

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	Status   SubmitStatus    `json:"status" yaml:"status"`
	Response *retry.Response `json:"response,omitempty" yaml:"response,omitempty"`
	ActionID string          `json:"action_id,omitempty" yaml:"action_id,omitempty"`
}

// Submit performs a write now if online, otherwise queues it.
//
// A nil perform uses the performer registered for actionType. The type must
// be registered even when perform is given, since a queued action is
// replayed through the registry. Exhausted retries
// queue the action instead of failing. Permanent errors and persistence
// failures are returned.
func (e *Engine) Submit(ctx context.Context, actionType string, payload json.RawMessage, perform Performer) (*SubmitResult, error) {
	op := "submit " + actionType
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return nil, syncerr.Permanent(op, errors.New("payload is not valid JSON"))
	}
	registered, ok := e.performer(actionType)
	if !ok {
		return nil, syncerr.Permanent(op, fmt.Errorf("no performer registered for %q", actionType))
	}
	if perform == nil {
		perform = registered
	}

	if !e.tracker.Online(ctx) {
		return e.enqueue(ctx, actionType, payload, "offline")
	}

	resp, err := e.retry.Execute(ctx, retry.Request{Op: op}, func(actx context.Context) (*retry.Response, error) {
		return perform(actx, payload)
	}, retry.WithRetryableStatus(e.retryable))

	switch {
	case err == nil:
		if err := checkStatus(op, resp); err != nil {
			return nil, err
		}
		if err := e.stampSync(ctx); err != nil {
			return nil, err
		}
		return &SubmitResult{Status: StatusCompleted, Response: resp}, nil

	case syncerr.IsPermanent(err), errors.Is(err, context.Canceled):
		return nil, err

	default:
		e.log.Warn().Err(err).Str("action_type", actionType).Msg("submit failed, queuing for replay")
		return e.enqueue(ctx, actionType, payload, "network failure")
	}
}

func (e *Engine) enqueue(ctx context.Context, actionType string, payload json.RawMessage, reason string) (*SubmitResult, error) {
	a, err := e.queue.Enqueue(ctx, actionType, payload)
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("action_id", a.ID).
		Str("action_type", actionType).
		Str("reason", reason).
		Msg("write saved, will sync")
	return &SubmitResult{Status: StatusQueued, ActionID: a.ID}, nil
}
