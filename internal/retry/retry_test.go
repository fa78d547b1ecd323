package retry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// stepClock advances its time on every Sleep instead of blocking.
type stepClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	onWake func()
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	wake := c.onWake
	c.mu.Unlock()
	if wake != nil {
		wake()
	}
	return ctx.Err()
}

func (c *stepClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var errReset = errors.New("connection reset by peer")

func newTestClient(t *testing.T, clk *stepClock, opts ...Option) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.Nop()
	opts = append([]Option{WithClock(clk), WithMetrics(m)}, opts...)
	return New(DefaultConfig(), opts...), m
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	clk := newStepClock()
	c, m := newTestClient(t, clk)

	calls := 0
	resp, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{Status: 200, Body: []byte("ok")}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues(OutcomeOK)))
}

func TestExecute_AlwaysTransient_ExactlyMaxAttempts(t *testing.T) {
	clk := newStepClock()
	c, m := newTestClient(t, clk)

	calls := 0
	_, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, syncerr.Transient("provider", errReset)
	}, WithMaxAttempts(3))

	require.Error(t, err)
	assert.Equal(t, 3, calls, "exactly maxAttempts attempts, never fewer or more")
	assert.True(t, syncerr.IsExhausted(err))
	assert.ErrorIs(t, err, errReset, "exhausted error carries the last failure")

	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Attempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesExhausted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues(OutcomeTransient)))
}

func TestExecute_LinearBackoff(t *testing.T) {
	clk := newStepClock()
	c := New(Config{Timeout: time.Second, BaseDelay: 2 * time.Second, MaxAttempts: 4}, WithClock(clk))

	_, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		return nil, errReset
	})

	require.Error(t, err)
	// No sleep after the final attempt.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, clk.Sleeps())
}

func TestExecute_RecoversAfterTransient(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	calls := 0
	resp, err := c.Execute(context.Background(), Request{Op: "submit"}, func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, errReset
		}
		return &Response{Status: 201}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, 3, calls)
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	calls := 0
	_, err := c.Execute(context.Background(), Request{Op: "submit"}, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, syncerr.Permanent("provider", errors.New("malformed request"))
	})

	require.Error(t, err)
	assert.True(t, syncerr.IsPermanent(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
}

func TestExecute_ErrorStatusReturnedOnFirstAttempt(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	calls := 0
	resp, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{Status: 503}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetryableStatus(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	calls := 0
	_, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{Status: 503}, nil
	}, WithRetryableStatus(ServerBusy))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, syncerr.IsExhausted(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.Status)
}

func TestExecute_NonRetryableStatusWithClassifier(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	resp, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		return &Response{Status: 400}, nil
	}, WithRetryableStatus(ServerBusy))

	require.NoError(t, err)
	assert.Equal(t, 400, resp.Status)
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk.onWake = cancel

	calls := 0
	_, err := c.Execute(ctx, Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, errReset
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, syncerr.IsExhausted(err), "caller cancellation is not an exhausted retry")
	assert.Equal(t, 1, calls)
}

func TestExecute_CanceledBeforeStart(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := c.Execute(ctx, Request{Op: "fetch"}, func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{}, nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestExecute_InFlightAttemptNotAborted(t *testing.T) {
	clk := newStepClock()
	c, _ := newTestClient(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp, err := c.Execute(ctx, Request{Op: "submit"}, func(actx context.Context) (*Response, error) {
		cancel()
		// The caller is gone, but this attempt's context is still live.
		if actx.Err() != nil {
			return nil, actx.Err()
		}
		return &Response{Status: 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestExecute_PerAttemptTimeoutIsTransient(t *testing.T) {
	clk := newStepClock()
	c := New(Config{Timeout: 10 * time.Millisecond, BaseDelay: 0, MaxAttempts: 2}, WithClock(clk))

	calls := 0
	_, err := c.Execute(context.Background(), Request{Op: "fetch"}, func(actx context.Context) (*Response, error) {
		calls++
		<-actx.Done()
		return nil, actx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, syncerr.IsExhausted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_LogsEveryAttempt(t *testing.T) {
	clk := newStepClock()
	var buf bytes.Buffer
	c, _ := newTestClient(t, clk, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	_, _ = c.Execute(context.Background(), Request{Op: "fetch", Key: "farm-1"}, func(ctx context.Context) (*Response, error) {
		return nil, errReset
	})

	out := buf.String()
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte(`"message":"attempt"`)))
	assert.Contains(t, out, `"attempt":1`)
	assert.Contains(t, out, `"attempt":3`)
	assert.Contains(t, out, `"max_attempts":3`)
	assert.Contains(t, out, `"outcome":"transient"`)
	assert.Contains(t, out, `"op":"fetch"`)
	assert.Contains(t, out, `"elapsed"`)
	assert.Contains(t, out, "retries exhausted")
}

func TestNew_Defaults(t *testing.T) {
	cfg := New(Config{}).Config()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Zero(t, cfg.BaseDelay)

	assert.Equal(t, DefaultConfig(), New(DefaultConfig()).Config())
}

func TestServerBusy(t *testing.T) {
	assert.True(t, ServerBusy(429))
	assert.True(t, ServerBusy(500))
	assert.True(t, ServerBusy(503))
	assert.True(t, ServerBusy(408))
	assert.False(t, ServerBusy(400))
	assert.False(t, ServerBusy(401))
	assert.False(t, ServerBusy(404))
}
