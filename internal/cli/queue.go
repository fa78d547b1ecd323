package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/queue"
)

// queuedAction is the printable form of queue.Action. The payload is kept
// as raw JSON in JSON output and decoded for YAML.
type queuedAction struct {
	ID         string          `json:"id" yaml:"id"`
	Seq        int64           `json:"seq" yaml:"seq"`
	Type       string          `json:"type" yaml:"type"`
	Payload    json.RawMessage `json:"payload" yaml:"-"`
	Body       any             `json:"-" yaml:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at" yaml:"enqueued_at"`
}

type queueList []queuedAction

func (l queueList) Text() string {
	if len(l) == 0 {
		return "Queue is empty\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d queued action(s):\n", len(l))
	for _, a := range l {
		fmt.Fprintf(&b, "  %4d  %-24s %s  %s\n", a.Seq, a.Type, a.EnqueuedAt.Format(time.RFC3339), a.ID)
	}
	return b.String()
}

func newQueueList(actions []queue.Action) queueList {
	out := make(queueList, len(actions))
	for i, a := range actions {
		var body any
		_ = json.Unmarshal(a.Payload, &body)
		out[i] = queuedAction{
			ID:         a.ID,
			Seq:        a.Seq,
			Type:       a.Type,
			Payload:    a.Payload,
			Body:       body,
			EnqueuedAt: a.EnqueuedAt,
		}
	}
	return out
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear the offline action queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				actions, err := rt.engine.Queue().PeekAll(ctx)
				if err != nil {
					return err
				}
				return f.Success(newQueueList(actions))
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}

type clearResult struct {
	Removed int `json:"removed" yaml:"removed"`
}

func (r clearResult) Text() string {
	return fmt.Sprintf("Removed %d queued action(s)\n", r.Removed)
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued action",
		Long: `Discard every queued action without replaying it.

Queued writes are lost. Pass --yes to confirm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !yes {
				return f.Fail(NewExitError(ExitCommandError, "refusing to discard queued actions without --yes"))
			}
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				n, err := rt.engine.Queue().Clear(ctx)
				if err != nil {
					return err
				}
				return f.Success(clearResult{Removed: n})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm discarding queued actions")
	return cmd
}
