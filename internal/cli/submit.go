package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/engine"
)

type submitView struct {
	Type     string              `json:"type" yaml:"type"`
	Status   engine.SubmitStatus `json:"status" yaml:"status"`
	Code     int                 `json:"code,omitempty" yaml:"code,omitempty"`
	ActionID string              `json:"action_id,omitempty" yaml:"action_id,omitempty"`
}

func (v submitView) Text() string {
	if v.Status == engine.StatusQueued {
		return fmt.Sprintf("%s queued as %s; it will sync when online\n", v.Type, v.ActionID)
	}
	return fmt.Sprintf("%s completed (%d)\n", v.Type, v.Code)
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <type> [payload-json]",
		Short: "Perform a write now, or queue it when offline",
		Example: `  fieldsync submit observation '{"field":"north","moisture":0.31}'
  fieldsync submit profile.update '{"name":"Ada"}' --format json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			actionType := args[0]
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return f.Fail(NewExitError(ExitCommandError, "payload is not valid JSON"))
				}
				payload = json.RawMessage(args[1])
			}

			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.requireProvider(); err != nil {
					return err
				}
				res, err := rt.engine.Submit(ctx, actionType, payload, nil)
				if err != nil {
					return err
				}
				view := submitView{Type: actionType, Status: res.Status, ActionID: res.ActionID}
				if res.Response != nil {
					view.Code = res.Response.Status
				}
				return f.Success(view)
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}
