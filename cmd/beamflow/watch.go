package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/pkg/analysis"
	"github.com/beamflow/beamflow/pkg/watch"
)

var (
	watchAnalyses string
	watchDebounce time.Duration
	watchExisting bool
)

var watchCmd = &cobra.Command{
	Use:   "watch RUN_DIR",
	Short: "Analyse iterations of a running simulation as they finish",
	Long: `Watch a local run output folder and analyse each iteration's events file
once it has stopped growing. With --output, results of every iteration are
written next to it as <output>_it<N>.

Examples:
  beamflow watch ./output/nyc-200k
  beamflow watch --analyses trips,walkers -o results.xlsx ./output/nyc-200k`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAnalyses, "analyses", "trips", "Comma-separated analyses (trips, ridership, walkers, occupancy, bus-routes, parking, time-at-home)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before an events file is analysed")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also analyse iterations already on disk")
}

var watchFuncs = map[string]analysisFunc{
	"trips":        (*analysis.Runner).Trips,
	"ridership":    (*analysis.Runner).Ridership,
	"walkers":      (*analysis.Runner).Walkers,
	"occupancy":    (*analysis.Runner).Occupancy,
	"bus-routes":   (*analysis.Runner).BusRoutes,
	"parking":      (*analysis.Runner).Parking,
	"time-at-home": (*analysis.Runner).TimeAtHome,
}

func runWatch(cmd *cobra.Command, args []string) error {
	var names []string
	for _, n := range strings.Split(watchAnalyses, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := watchFuncs[n]; !ok {
			return fmt.Errorf("unknown analysis %q", n)
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return fmt.Errorf("no analyses selected")
	}

	ctx := cmd.Context()
	r, err := newRunner(ctx)
	if err != nil {
		return err
	}
	w, err := watch.NewWatcher(args[0], watchDebounce, logging.FromContext(ctx))
	if err != nil {
		return err
	}
	run := analysis.Run{Name: filepath.Base(filepath.Clean(args[0])), Location: args[0]}
	baseOutput := outputFile

	// iterations may finish while a previous one is still being analysed
	var mu sync.Mutex
	w.ScanExisting = watchExisting
	w.OnIteration = func(ctx context.Context, it watch.Iteration) error {
		mu.Lock()
		defer mu.Unlock()

		var outs []*analysis.Output
		for _, n := range names {
			o, err := watchFuncs[n](r, ctx, run, it.Number)
			if err != nil {
				return fmt.Errorf("%s of iteration %d: %w", n, it.Number, err)
			}
			outs = append(outs, o)
		}
		if baseOutput != "" {
			ext := filepath.Ext(baseOutput)
			outputFile = fmt.Sprintf("%s_it%d%s", strings.TrimSuffix(baseOutput, ext), it.Number, ext)
		}
		return emit(cmd.OutOrStdout(), fmt.Sprintf("it%d", it.Number), outs)
	}

	logging.FromContext(ctx).Info("watching run", "dir", args[0], "analyses", names)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
