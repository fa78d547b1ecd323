package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/engine"
)

// statusView is the printable form of engine.Status.
type statusView struct {
	engine.Status `yaml:",inline"`
	Provider      string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

func (v statusView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Connectivity: %s (checked %s)\n", v.State, v.CheckedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Queue depth:  %d\n", v.QueueDepth)
	if v.LastSync != nil {
		fmt.Fprintf(&b, "Last sync:    %s\n", v.LastSync.Format(time.RFC3339))
	} else {
		b.WriteString("Last sync:    never\n")
	}
	if v.Draining {
		b.WriteString("Draining:     yes\n")
	}
	if v.Provider != "" {
		fmt.Fprintf(&b, "Provider:     %s\n", v.Provider)
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue depth and last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				st, err := rt.engine.Status(ctx)
				if err != nil {
					return err
				}
				view := statusView{Status: st, Provider: rt.cfg.Provider.BaseURL}
				return f.Success(view)
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}
