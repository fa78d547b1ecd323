package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
)

type drainResult struct {
	Replayed  int    `json:"replayed" yaml:"replayed"`
	Remaining int    `json:"remaining" yaml:"remaining"`
	Skipped   string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func (r drainResult) Text() string {
	if r.Skipped != "" {
		return fmt.Sprintf("Drain skipped: %s (%d queued)\n", r.Skipped, r.Remaining)
	}
	return fmt.Sprintf("Replayed %d action(s), %d remaining\n", r.Replayed, r.Remaining)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued actions against the provider",
		Long: `Replay queued actions against the provider in the order they were queued.

Replay stops at the first action that fails. It and everything after it
stay queued for the next attempt. Nothing is replayed while offline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.requireProvider(); err != nil {
					return err
				}

				if rt.engine.Tracker().CheckNow(ctx) != connectivity.Online {
					n, err := rt.engine.Queue().Len(ctx)
					if err != nil {
						return err
					}
					return f.Success(drainResult{Remaining: n, Skipped: "offline"})
				}

				replayed, drainErr := rt.engine.Drain(ctx)
				if errors.Is(drainErr, engine.ErrDrainInFlight) {
					drainErr = nil
				}
				remaining, err := rt.engine.Queue().Len(ctx)
				if err != nil {
					return errors.Join(drainErr, err)
				}
				if drainErr != nil {
					f.VerboseLog("drain stopped after %d action(s), %d remaining", replayed, remaining)
					return drainErr
				}
				return f.Success(drainResult{Replayed: replayed, Remaining: remaining})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}
