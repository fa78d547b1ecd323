package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/engine"
)

type fetchView struct {
	Category string          `json:"category" yaml:"category"`
	Key      string          `json:"key" yaml:"key"`
	Source   engine.Source   `json:"source" yaml:"source"`
	Stale    bool            `json:"stale" yaml:"stale"`
	StoredAt time.Time       `json:"stored_at" yaml:"stored_at"`
	Payload  json.RawMessage `json:"payload" yaml:"-"`
	Body     any             `json:"-" yaml:"payload"`
}

func (v fetchView) Text() string {
	stale := ""
	if v.Stale {
		stale = ", stale"
	}
	return fmt.Sprintf("%s/%s (%s%s, stored %s)\n%s\n",
		v.Category, v.Key, v.Source, stale, v.StoredAt.Format(time.RFC3339), v.Payload)
}

func newFetchView(category cache.Category, key string, r *engine.Result) fetchView {
	v := fetchView{
		Category: string(category),
		Key:      key,
		Source:   r.Source,
		Stale:    r.Stale,
		StoredAt: r.StoredAt,
		Payload:  json.RawMessage(r.Payload),
	}
	if err := json.Unmarshal(r.Payload, &v.Body); err != nil {
		// Non-JSON payloads are shown as strings.
		v.Body = string(r.Payload)
		raw, _ := json.Marshal(string(r.Payload))
		v.Payload = raw
	}
	return v
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <category> <key>",
		Short: "Read data through the cache",
		Long: `Read data through the cache.

A fresh cached entry is returned without touching the network. Otherwise
the provider is called (with retries) when online, and an expired entry is
served as stale when offline or when the provider cannot be reached.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			category, key := cache.Category(args[0]), args[1]
			if err := category.Validate(); err != nil {
				return f.Fail(WrapExitError(ExitCommandError, "invalid category", err))
			}

			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.requireProvider(); err != nil {
					return err
				}
				res, err := rt.engine.Fetch(ctx, category, key, rt.provider.Fetcher(string(category), key))
				if err != nil {
					return err
				}
				f.VerboseLog("fetched %s/%s from %s", category, key, res.Source)
				return f.Success(newFetchView(category, key, res))
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}
