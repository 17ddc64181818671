package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/pkg/analysis"
	"github.com/beamflow/beamflow/pkg/modechoice"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

var (
	engineFlag    string
	baseFlag      string
	versusFlag    string
	benchmarkFlag string
	splitWalkFlag bool
	personsFlag   int
)

var tripsCmd = &cobra.Command{
	Use:   "trips RUN...",
	Short: "Reconstruct per-person transit distances",
	Long: `Reconstruct the distance each person travelled on every transit mode in one
iteration, from PersonEntersVehicle, PersonLeavesVehicle and PathTraversal
events.

A RUN is a location (local folder, http(s) URL, s3:// URI or S3 console
link), optionally named as name=location.

Examples:
  beamflow trips ./output/nyc-200k
  beamflow trips -i 10 base=s3://beam-outputs/output/nyc/run-a
  beamflow trips --engine duckdb -o distances.parquet ./output/nyc-200k`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if engineFlag != "" {
			cur.cfg.Analysis.Engine = engineFlag
		}
		return runEach(cmd, "trips", args, (*analysis.Runner).Trips)
	},
}

var ridershipCmd = &cobra.Command{
	Use:   "ridership RUN...",
	Short: "Count boardings per agency, car crossings and subway trips",
	Long: `Count transit boardings per agency, car crossings of the configured link
groups and subway trips. With --base, each run is also compared to the base
run as a percentage change, per agency and per mode. Mode changes come from
the passengers-per-trip files and are listed with reference.ridership_baselines;
--versus subtracts one of those baselines from every run.

Examples:
  beamflow ridership ./output/nyc-200k
  beamflow ridership --base base=./output/baseline june=./output/june
  beamflow ridership --base ./output/baseline --versus "06 2020 mta.info" ./output/june`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if baseFlag == "" {
			if versusFlag != "" {
				return fmt.Errorf("--versus requires --base")
			}
			return runEach(cmd, "ridership", args, (*analysis.Runner).Ridership)
		}
		ctx := cmd.Context()
		r, err := newRunner(ctx)
		if err != nil {
			return err
		}
		base, runs := analysis.ParseRun(baseFlag), parseRuns(args)
		outs, err := r.RidershipChange(ctx, base, runs, iterationFlag)
		if err != nil {
			return err
		}
		modes, err := r.ModeRidershipChange(ctx, base, runs, iterationFlag, versusFlag)
		if err != nil {
			return err
		}
		return finish(cmd, r, "ridership", append(outs, modes))
	},
}

var busRoutesCmd = &cobra.Command{
	Use:   "bus-routes RUN...",
	Short: "Count bus boardings per route and hour",
	Long: `Count bus boardings per agency, GTFS route and hour. Trip ids are resolved
to routes with the GTFS trips files listed in reference.trip_files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "bus-routes", args, (*analysis.Runner).BusRoutes)
	},
}

var walkersCmd = &cobra.Command{
	Use:   "walkers RUN...",
	Short: "Split walk mode choices into real and fake walkers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "walkers", args, (*analysis.Runner).Walkers)
	},
}

var occupancyCmd = &cobra.Command{
	Use:   "occupancy RUN...",
	Short: "Sum passengers per vehicle type and hour",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "occupancy", args, (*analysis.Runner).Occupancy)
	},
}

var modeChoiceCmd = &cobra.Command{
	Use:   "modechoice RUN...",
	Short: "Compare realized mode shares with a benchmark",
	Long: `Compare the realized mode choice of runs with the benchmark: the shares in
reference.benchmark_shares when set, otherwise the realized mode choice of
reference.benchmark_run (or --benchmark).

With --split-walk (analysis.split_walk), the walk share is divided into
walk_real and walk_fake using the walkers of iteration -i.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchmarkFlag != "" {
			cur.cfg.Reference.BenchmarkRun = benchmarkFlag
			cur.cfg.Reference.BenchmarkShares = nil
		}
		if cmd.Flags().Changed("split-walk") {
			cur.cfg.Analysis.SplitWalk = splitWalkFlag
		}
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		cmp, bench, err := r.ModeChoice(cmd.Context(), parseRuns(args), iterationFlag)
		if err != nil {
			return err
		}
		out := &analysis.Output{
			Run: analysis.Run{Name: "modechoice"},
			Tables: []*table.Table{
				modechoice.SharesTable(bench, cmp.Shares),
				cmp.DiffTable(),
				cmp.PercentTable(),
			},
			Combined: true,
		}
		return finish(cmd, r, "modechoice", []*analysis.Output{out})
	},
}

var parkingCmd = &cobra.Command{
	Use:   "parking RUN...",
	Short: "Count default and emergency parking per zone",
	Long: `Count the rows of ITERS/it.N/N.parkingStats.csv whose TAZ is a default or
emergency fallback zone. Many fallbacks point at missing parking supply.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "parking", args, (*analysis.Runner).Parking)
	},
}

var timeAtHomeCmd = &cobra.Command{
	Use:   "time-at-home RUN...",
	Short: "Median hours spent at home",
	Long: `Compute the median and mean hours people spend at home from Home actstart
and actend events. People without home events count as a full day at home
when --persons (reference.population) exceeds the people seen. With several
runs, each median is also given as a ratio to the first run's.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("persons") {
			cur.cfg.Reference.Population = personsFlag
		}
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		outs, err := r.TimeAtHomeComparison(cmd.Context(), parseRuns(args), iterationFlag)
		if err != nil {
			return fmt.Errorf("time-at-home failed: %w", err)
		}
		return finish(cmd, r, "time-at-home", outs)
	},
}

var beamLogCmd = &cobra.Command{
	Use:   "beamlog RUN...",
	Short: "Count expected and unexpected warnings in beamLog.out",
	Long: `Scan a run's beamLog.out. Warnings and errors matching a known pattern
(built in, plus analysis.log_expected) are counted per pattern; all others
are listed as unexpected. Lines containing analysis.log_keywords are counted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEach(cmd, "beamlog", args, func(r *analysis.Runner, ctx context.Context, run analysis.Run, _ int) (*analysis.Output, error) {
			return r.BeamLog(ctx, run)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{tripsCmd, ridershipCmd, busRoutesCmd, walkersCmd, occupancyCmd,
		modeChoiceCmd, parkingCmd, timeAtHomeCmd} {
		c.Flags().IntVarP(&iterationFlag, "iteration", "i", 0, "Iteration to analyse")
	}
	tripsCmd.Flags().StringVar(&engineFlag, "engine", "", "Reconstruction engine (memory, duckdb)")
	ridershipCmd.Flags().StringVar(&baseFlag, "base", "", "Base run to compare ridership against")
	ridershipCmd.Flags().StringVar(&versusFlag, "versus", "", "Ridership baseline to subtract from mode changes")
	modeChoiceCmd.Flags().StringVar(&benchmarkFlag, "benchmark", "", "Benchmark run location")
	modeChoiceCmd.Flags().BoolVar(&splitWalkFlag, "split-walk", false, "Split walk into real and fake walkers")
	timeAtHomeCmd.Flags().IntVar(&personsFlag, "persons", 0, "Simulated population (default: reference.population)")
}

type analysisFunc func(r *analysis.Runner, ctx context.Context, run analysis.Run, iteration int) (*analysis.Output, error)

// runEach runs fn on every run argument and emits the results.
func runEach(cmd *cobra.Command, title string, args []string, fn analysisFunc) error {
	ctx := cmd.Context()
	r, err := newRunner(ctx)
	if err != nil {
		return err
	}
	outs, err := r.Each(ctx, parseRuns(args), func(ctx context.Context, run analysis.Run) (*analysis.Output, error) {
		return fn(r, ctx, run, iterationFlag)
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", title, err)
	}
	return finish(cmd, r, title, outs)
}

// finish emits outs and reports the runner's metrics.
func finish(cmd *cobra.Command, r *analysis.Runner, title string, outs []*analysis.Output) error {
	summary := r.Metrics().Summary()
	logging.FromContext(cmd.Context()).Debug("analysis finished", "analysis", title, "runs", len(outs), "metrics", summary)
	if err := emit(cmd.OutOrStdout(), title, outs); err != nil {
		return err
	}
	if !metricsFlag {
		return nil
	}
	data, err := summary.ToJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.ErrOrStderr(), string(data))
	return err
}
