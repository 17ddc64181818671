package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/pkg/analysis"
	"github.com/beamflow/beamflow/pkg/cache"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

var clearAll bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear cached results",
}

var cacheListCmd = &cobra.Command{
	Use:   "list RUN...",
	Short: "List cached tables of runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		t := table.New("cached", "run", "iteration", "table", "key")
		for _, run := range parseRuns(args) {
			entries, err := c.Entries(cmd.Context(), cache.RunKey(run.Location))
			if err != nil {
				return err
			}
			for _, e := range entries {
				t.Append(run.Name, fmt.Sprint(e.Iteration), e.Name, e.Key)
			}
		}
		return emit(cmd.OutOrStdout(), "cache", []*analysis.Output{{Tables: []*table.Table{t}}})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear RUN...",
	Short: "Delete cached tables of one iteration (or all with --all)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		iteration := iterationFlag
		if clearAll {
			iteration = -1
		}
		for _, run := range parseRuns(args) {
			n, err := c.Clear(cmd.Context(), cache.RunKey(run.Location), iteration)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries removed\n", run.Name, n)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().IntVarP(&iterationFlag, "iteration", "i", 0, "Iteration to clear")
	cacheClearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every iteration")
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(ctx context.Context) (*cache.Cache, error) {
	c, err := analysis.NewCache(ctx, cur.cfg, logging.FromContext(ctx), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("caching is disabled (cache.enabled: false)")
	}
	return c, nil
}
