//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/reference"
)

// counter is implemented by stores that can count without listing.
type counter interface {
	Count(ctx context.Context) (map[models.Level]int64, error)
}

func newListCmd() *cobra.Command {
	var (
		levelName string
		countOnly bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var level models.Level
			if levelName != "" {
				var err error
				if level, err = models.ParseLevel(levelName); err != nil {
					return err
				}
			}

			ctx, cancel := commandContext(cmd, defaultCommandTimeout)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if countOnly {
				counts, err := countReferences(ctx, store, level)
				if err != nil {
					return err
				}
				printCounts(cmd.OutOrStdout(), counts, level)
				return nil
			}

			lister, ok := store.(reference.Lister)
			if !ok {
				return fmt.Errorf("store %s cannot list its references", reference.Describe(cfg.StoreOptions()))
			}
			keys, err := lister.List(ctx, level)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No references stored.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d references:\n", len(keys))
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %s\n", key, key.Path())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&levelName, "level", "", "only list this level")
	cmd.Flags().BoolVar(&countOnly, "count", false, "print counts per level instead of keys")
	return cmd
}

// countReferences counts stored references per level, falling back to a full
// listing for stores without a native count.
func countReferences(ctx context.Context, store reference.Store, level models.Level) (map[models.Level]int64, error) {
	if c, ok := store.(counter); ok {
		return c.Count(ctx)
	}
	lister, ok := store.(reference.Lister)
	if !ok {
		return nil, fmt.Errorf("store cannot count its references")
	}
	keys, err := lister.List(ctx, level)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Level]int64)
	for _, key := range keys {
		counts[key.Level()]++
	}
	return counts, nil
}

func printCounts(w io.Writer, counts map[models.Level]int64, only models.Level) {
	var total int64
	for _, level := range models.Levels {
		if only != "" && level != only {
			continue
		}
		fmt.Fprintf(w, "  %-6s %d\n", level, counts[level])
		total += counts[level]
	}
	fmt.Fprintf(w, "  %-6s %d\n", "total", total)
}
