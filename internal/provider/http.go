// Package provider implements a generic JSON-over-HTTP remote provider.
//
// Reads map to GET {base}/{category}/{key} and writes map to
// POST {base}/actions/{actionType}. Transport failures come back as
// Transient errors; every well-formed response is returned with its status
// so the retry client decides what is retryable.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// maxBody caps how much of a response body is read.
const maxBody = 8 << 20

// Config controls the HTTP provider.
type Config struct {
	// BaseURL is the provider root, e.g. https://api.example.org/v1.
	BaseURL string `koanf:"base_url" validate:"omitempty,url"`

	// Timeout bounds a whole HTTP exchange. Zero leaves the bound to the
	// per-attempt context deadline.
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// HTTP is a remote provider speaking JSON over HTTP. Safe for concurrent use.
type HTTP struct {
	http    *http.Client
	baseURL *url.URL
	log     zerolog.Logger
}

// Option configures an HTTP provider.
type Option func(*HTTP)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTP) { p.http = c }
}

// WithLogger sets the logger for request events.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(p *HTTP) { p.log = l }
}

// New creates a provider rooted at cfg.BaseURL.
func New(cfg Config, opts ...Option) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base url required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("provider: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("provider: unsupported scheme %q", u.Scheme)
	}

	p := &HTTP{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: u,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Fetcher returns a call that reads (category, key).
func (p *HTTP) Fetcher(category, key string) retry.Call {
	return func(ctx context.Context) (*retry.Response, error) {
		return p.do(ctx, http.MethodGet, p.endpoint(category, key), nil)
	}
}

// Perform posts payload as an action of the given type.
func (p *HTTP) Perform(ctx context.Context, actionType string, payload json.RawMessage) (*retry.Response, error) {
	return p.do(ctx, http.MethodPost, p.endpoint("actions", actionType), payload)
}

// Performer binds Perform to one action type.
func (p *HTTP) Performer(actionType string) func(context.Context, json.RawMessage) (*retry.Response, error) {
	return func(ctx context.Context, payload json.RawMessage) (*retry.Response, error) {
		return p.Perform(ctx, actionType, payload)
	}
}

// endpoint joins escaped path segments onto the base URL.
func (p *HTTP) endpoint(segments ...string) string {
	return p.baseURL.JoinPath(escape(segments)...).String()
}

func escape(segments []string) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = url.PathEscape(s)
	}
	return out
}

func (p *HTTP) do(ctx context.Context, method, target string, body []byte) (*retry.Response, error) {
	op := method + " " + target

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, syncerr.Permanent(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := p.http.Do(req)
	if err != nil {
		p.log.Debug().Str("method", method).Str("url", target).Err(err).Msg("request failed")
		return nil, syncerr.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, syncerr.Transient(op, fmt.Errorf("read body: %w", err))
	}

	p.log.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")
	return &retry.Response{Status: resp.StatusCode, Body: data}, nil
}
