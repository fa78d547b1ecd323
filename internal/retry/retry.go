// Package retry wraps a single outbound call with bounded retries and a
// linearly increasing delay between attempts.
//
// A call fails over to the next attempt on transport errors and per-attempt
// timeouts. Well-formed responses carrying an error status are returned to
// the caller on the first attempt unless the caller classifies the status as
// retryable. Errors already classified as Permanent are never retried.
//
// Caller cancellation interrupts the backoff sleep between attempts. An
// attempt that is already in flight runs to completion (bounded by the
// per-attempt timeout) so the remote side is never left half-applied.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Attempt outcomes, used as log field and metric label.
const (
	OutcomeOK        = "ok"
	OutcomeStatus    = "status"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeCanceled  = "canceled"
)

// Request describes the outbound call for logging and error reporting.
type Request struct {
	// Op names the operation, e.g. "fetch weather" or "submit observation".
	Op string

	// Key identifies the addressed resource, if any.
	Key string
}

// Response is the result of a single successful attempt.
// Status 0 means the call has no status concept and succeeded.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r.Status == 0 || (r.Status >= 200 && r.Status < 300)
}

// Call performs one attempt. ctx carries the per-attempt deadline.
type Call func(ctx context.Context) (*Response, error)

// StatusError records a response whose status was classified retryable
// but never succeeded.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s", e.Status, http.StatusText(e.Status))
}

// Config controls retry behavior.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// BaseDelay is multiplied by the attempt number to get the wait after
	// that attempt.
	BaseDelay time.Duration `koanf:"base_delay" validate:"gte=0"`

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=1"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		BaseDelay:   2 * time.Second,
		MaxAttempts: 3,
	}
}

// Client executes calls with retries. Safe for concurrent use.
type Client struct {
	cfg     Config
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source used for elapsed time and backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the logger for per-attempt events.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// WithMetrics sets the collectors attempts are reported to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// New creates a client. A zero Timeout or MaxAttempts takes its default;
// a zero BaseDelay retries without waiting.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	c := &Client{
		cfg:   cfg,
		clock: clock.Real{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

type callOptions struct {
	maxAttempts int
	retryable   func(status int) bool
}

// CallOption adjusts a single Execute call.
type CallOption func(*callOptions)

// WithMaxAttempts overrides the configured attempt count for one call.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryableStatus classifies error statuses that should be retried
// instead of returned.
func WithRetryableStatus(fn func(status int) bool) CallOption {
	return func(o *callOptions) { o.retryable = fn }
}

// ServerBusy classifies 408, 429 and 5xx as retryable.
func ServerBusy(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// Execute runs call until it succeeds, returns a non-retryable result, or
// the attempts run out.
//
// Returns:
//   - the response on success, or an error-status response not classified
//     retryable (first attempt, no error)
//   - a Permanent error unchanged, without retrying
//   - ctx.Err() if the caller cancels before or between attempts
//   - an ExhaustedRetries error wrapping the last failure otherwise
func (c *Client) Execute(ctx context.Context, req Request, call Call, opts ...CallOption) (*Response, error) {
	o := callOptions{maxAttempts: c.cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	log := c.log.With().Str("op", req.Op).Str("key", req.Key).Logger()
	start := c.clock.Now()
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			c.logAttempt(&log, attempt, o.maxAttempts, start, OutcomeCanceled, err)
			return nil, err
		}

		resp, err := c.attempt(ctx, call)

		switch {
		case err == nil && resp.OK():
			c.logAttempt(&log, attempt, o.maxAttempts, start, OutcomeOK, nil)
			return resp, nil

		case err == nil && (o.retryable == nil || !o.retryable(resp.Status)):
			c.logAttempt(&log, attempt, o.maxAttempts, start, OutcomeStatus, nil)
			return resp, nil

		case err == nil:
			lastErr = &StatusError{Status: resp.Status, Body: resp.Body}

		case syncerr.IsPermanent(err):
			c.logAttempt(&log, attempt, o.maxAttempts, start, OutcomePermanent, err)
			return nil, err

		default:
			lastErr = err
		}

		c.logAttempt(&log, attempt, o.maxAttempts, start, OutcomeTransient, lastErr)

		if attempt == o.maxAttempts {
			break
		}
		delay := c.cfg.BaseDelay * time.Duration(attempt)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.metrics.RetriesExhausted.Inc()
	log.Warn().
		Int("attempts", o.maxAttempts).
		Dur("elapsed", c.clock.Now().Sub(start)).
		Err(lastErr).
		Msg("retries exhausted")
	return nil, syncerr.Exhausted(req.Op, o.maxAttempts, lastErr)
}

// attempt runs one call detached from the caller's cancellation but bounded
// by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, call Call) (resp *Response, err error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	resp, err = call(actx)
	if err == nil && resp == nil {
		resp = &Response{}
	}
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !syncerr.IsPermanent(err) {
		return nil, syncerr.Transient("attempt", fmt.Errorf("timed out after %s: %w", c.cfg.Timeout, err))
	}
	return nil, err
}

func (c *Client) logAttempt(log *zerolog.Logger, attempt, maxAttempts int, start time.Time, outcome string, err error) {
	c.metrics.RetryAttempts.WithLabelValues(outcome).Inc()

	ev := log.Debug()
	if err != nil {
		ev = log.Info().Err(err)
	}
	ev.Int("attempt", attempt).
		Int("max_attempts", maxAttempts).
		Dur("elapsed", c.clock.Now().Sub(start)).
		Str("outcome", outcome).
		Msg("attempt")
}
