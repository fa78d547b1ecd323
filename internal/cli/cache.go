package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cache"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear cached data",
	}
	cmd.AddCommand(newCacheKeysCommand(rootOpts))
	cmd.AddCommand(newCacheClearCommand(rootOpts))
	return cmd
}

type cacheKeys struct {
	Category cache.Category `json:"category" yaml:"category"`
	Keys     []string       `json:"keys" yaml:"keys"`
}

func (k cacheKeys) Text() string {
	s := fmt.Sprintf("%s: %d key(s)\n", k.Category, len(k.Keys))
	for _, key := range k.Keys {
		s += "  " + key + "\n"
	}
	return s
}

func newCacheKeysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys <category>",
		Short: "List cached keys in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			category := cache.Category(args[0])
			if err := category.Validate(); err != nil {
				return f.Fail(WrapExitError(ExitCommandError, "invalid category", err))
			}
			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				keys, err := rt.engine.Cache().Keys(ctx, category)
				if err != nil {
					return err
				}
				if keys == nil {
					keys = []string{}
				}
				return f.Success(cacheKeys{Category: category, Keys: keys})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}

type cacheCleared struct {
	Scope string `json:"scope" yaml:"scope"`
}

func (c cacheCleared) Text() string {
	return fmt.Sprintf("Cleared cache: %s\n", c.Scope)
}

func newCacheClearCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear [category]",
		Short: "Remove cached entries for one category or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if all == (len(args) == 1) {
				return f.Fail(NewExitError(ExitCommandError, "give a category or --all"))
			}

			var category cache.Category
			if !all {
				category = cache.Category(args[0])
				if err := category.Validate(); err != nil {
					return f.Fail(WrapExitError(ExitCommandError, "invalid category", err))
				}
			}

			err := rootOpts.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if all {
					if err := rt.engine.Cache().ClearAll(ctx); err != nil {
						return err
					}
					return f.Success(cacheCleared{Scope: "all"})
				}
				if err := rt.engine.Cache().Clear(ctx, category); err != nil {
					return err
				}
				return f.Success(cacheCleared{Scope: string(category)})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "clear every category")
	return cmd
}
