package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
)

type watchOptions struct {
	metricsAddr string
	duration    time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Track connectivity and replay the queue on every reconnect",
		Long: `Track connectivity and replay the queue on every reconnect.

Runs until interrupted (or for --for). The queue is drained once at start
when online, then again on each offline to online transition. Prometheus
metrics are served on --metrics-addr when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return runWatch(ctx, rt, opts, f)
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, rt *runtime, opts *watchOptions, f *OutputFormatter) error {
	if err := rt.requireProvider(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	tracker := rt.engine.Tracker()
	handle := tracker.OnTransition(func(tr connectivity.Transition) error {
		f.VerboseLog("%s: %s -> %s (%s)", tr.At.Format(time.RFC3339), tr.From, tr.To, tr.Signal)
		return nil
	})
	defer tracker.Remove(handle)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tracker.Run(gctx)
	})

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		rt.log.Info().Str("addr", opts.metricsAddr).Msg("serving metrics")
	}

	if tracker.CheckNow(gctx) == connectivity.Online {
		if n, err := rt.engine.Drain(gctx); err != nil && !errors.Is(err, engine.ErrDrainInFlight) {
			rt.log.Warn().Err(err).Int("replayed", n).Msg("initial drain stopped")
		}
	}

	rt.log.Info().Str("state", tracker.State().String()).Msg("watching connectivity")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	rt.engine.Wait()

	// ctx is done; report with a fresh one.
	st, err := rt.engine.Status(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	return f.Success(statusView{Status: st, Provider: rt.cfg.Provider.BaseURL})
}
