package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/logging"
	"github.com/roach88/fieldsync/internal/metrics"
	"github.com/roach88/fieldsync/internal/provider"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/store"
)

// runtime is a fully wired engine plus the resources it owns.
type runtime struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    store.Store
	engine   *engine.Engine
	provider *provider.HTTP // nil when provider.base_url is unset
	registry *prometheus.Registry
}

// openRuntime loads configuration and wires store, tracker, retry client,
// cache, queue and engine. The caller must Close it.
func (o *RootOptions) openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	logCfg := cfg.Logging
	if logCfg.Output == nil {
		logCfg.Output = cmd.ErrOrStderr()
	}
	if o.Verbose {
		logCfg.Level = "debug"
	}
	log := logging.New(logCfg)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	kv, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open store", err)
	}

	tracker := connectivity.NewTracker(o.newObserver(cfg.Connectivity.PollInterval), cfg.Connectivity,
		connectivity.WithLogger(logging.Component(log, "connectivity")),
		connectivity.WithMetrics(m),
	)
	q, err := queue.Open(ctx, kv,
		queue.WithIDGenerator(queue.UUIDv7Generator{}),
		queue.WithLogger(logging.Component(log, "queue")),
		queue.WithMetrics(m),
	)
	if err != nil {
		_ = kv.Close()
		return nil, WrapExitError(ExitFailure, "open queue", err)
	}

	var p *provider.HTTP
	engineOpts := []engine.Option{engine.WithLogger(logging.Component(log, "engine")), engine.WithMetrics(m)}
	if cfg.Provider.BaseURL != "" {
		p, err = provider.New(cfg.Provider, provider.WithLogger(logging.Component(log, "provider")))
		if err != nil {
			_ = kv.Close()
			return nil, WrapExitError(ExitCommandError, "create provider", err)
		}
		engineOpts = append(engineOpts, engine.WithFallbackPerformer(func(actionType string) engine.Performer {
			return p.Performer(actionType)
		}))
	}

	eng, err := engine.New(engine.Deps{
		Store: kv,
		Cache: cache.New(kv, cfg.Cache,
			cache.WithLogger(logging.Component(log, "cache")),
			cache.WithMetrics(m),
		),
		Queue:   q,
		Tracker: tracker,
		Retry: retry.New(cfg.Retry,
			retry.WithLogger(logging.Component(log, "retry")),
			retry.WithMetrics(m),
		),
	}, engineOpts...)
	if err != nil {
		_ = kv.Close()
		return nil, WrapExitError(ExitFailure, "create engine", err)
	}

	rt := &runtime{cfg: cfg, log: log, store: kv, engine: eng, provider: p, registry: reg}
	return rt, nil
}

// requireProvider fails with a command error when no provider is configured.
func (r *runtime) requireProvider() error {
	if r.provider == nil {
		return NewExitError(ExitCommandError, "no provider configured: set provider.base_url or FIELDSYNC_PROVIDER_BASE_URL")
	}
	return nil
}

// Close stops the engine and closes the store.
func (r *runtime) Close() error {
	return errors.Join(r.engine.Close(), r.store.Close())
}

// withRuntime opens a runtime, runs fn and closes the runtime.
func (o *RootOptions) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := o.openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close: %w", cerr)
		}
	}()
	return fn(ctx, rt)
}

// verboseLogger is the human-readable debug logger used by --verbose runs
// that do not load a config.
func verboseLogger(w io.Writer) zerolog.Logger {
	return logging.New(logging.Config{Level: "debug", Format: "console", Output: w})
}
