package analysis

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beamflow/beamflow/internal/model"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/gtfs"
	"github.com/beamflow/beamflow/pkg/index"
	"github.com/beamflow/beamflow/pkg/modechoice"
	"github.com/beamflow/beamflow/pkg/occupancy"
	"github.com/beamflow/beamflow/pkg/parser"
	"github.com/beamflow/beamflow/pkg/query/engine"
	"github.com/beamflow/beamflow/pkg/report"
	"github.com/beamflow/beamflow/pkg/ridership"
	"github.com/beamflow/beamflow/pkg/source"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/telemetry"
	"github.com/beamflow/beamflow/pkg/trips"
	"github.com/beamflow/beamflow/pkg/walkers"
)

// Cache entry names.
const (
	TablePersonDistances = "person_distances"
	TableRidership       = "ridership"
	TableCrossings       = "crossings"
	TableBusRoutes       = "bus_routes"
	TableWalkers         = "fake_real_walkers"
	TableOccupancy       = "passengers_by_hour"
)

// RealizedModeChoiceFile is the run-level realized mode choice table.
const RealizedModeChoiceFile = "realizedModeChoice.csv"

var (
	boardingKinds  = model.KindsOf(model.KindEntersVehicle, model.KindLeavesVehicle, model.KindPathTraversal)
	ridershipKinds = model.KindsOf(model.KindEntersVehicle, model.KindPathTraversal)
	choiceKinds    = model.KindsOf(model.KindModeChoice, model.KindReplanning)
	traversalKinds = model.KindsOf(model.KindPathTraversal)
)

// Trips reconstructs per-person transit distances of an iteration. The
// in-memory engine parses the events stream; the duckdb engine downloads
// the file and aggregates person sequences in SQL.
func (r *Runner) Trips(ctx context.Context, run Run, iteration int) (*Output, error) {
	start := time.Now()
	out := &Output{Run: run, Iteration: iteration}
	var diag *trips.Diagnostics

	t, hit, err := r.cached(ctx, run, iteration, TablePersonDistances, func(ctx context.Context) (*table.Table, error) {
		res, events, err := r.reconstruct(ctx, run, iteration)
		if err != nil {
			return nil, err
		}
		diag = res.Diagnostics
		out.Events = events
		out.Issues = diag.Total()
		r.metrics.AddIssues(int64(diag.Total()))
		return report.DistanceTable(res), nil
	})
	if err != nil {
		return nil, err
	}

	out.Cached = hit
	out.Tables = []*table.Table{t, report.ColumnTotals(t, "mode_totals")}
	if diag != nil && diag.Total() > 0 {
		out.Tables = append(out.Tables, report.DiagnosticsTable(diag))
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (r *Runner) reconstruct(ctx context.Context, run Run, iteration int) (*trips.Result, int64, error) {
	transit := trips.NewTransitSet(r.cfg.Analysis.TransitTypes)
	opts := []trips.Option{trips.WithLogger(r.logger.With("run", run.Name, "iteration", iteration))}

	if r.cfg.Analysis.Engine != "duckdb" {
		events, err := r.Events(ctx, run, iteration, boardingKinds)
		if err != nil {
			return nil, 0, err
		}
		var res *trips.Result
		err = telemetry.InstrumentedOperation(ctx, r.metrics, "analysis.reconstruct", func(context.Context) error {
			res = trips.Reconstruct(events, transit, opts...)
			return nil
		})
		return res, int64(len(events)), err
	}

	var (
		res   *trips.Result
		stats engine.Stats
	)
	err := telemetry.InstrumentedOperation(ctx, r.metrics, "analysis.reconstruct.duckdb", func(ctx context.Context) error {
		path, err := r.opener.Fetch(ctx, source.EventsPath(run.Location, iteration), r.downloadDir(run))
		if err != nil {
			return err
		}
		eng, err := engine.NewEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		res, stats, err = eng.Reconstruct(ctx, path, transit, opts...)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	r.logger.Info("duckdb reconstruction", "run", run.Name, "iteration", iteration,
		"path_traversals", stats.PathTraversals, "persons", stats.Persons, "elapsed", stats.Duration)
	return res, int64(stats.PathTraversals), nil
}

// ridershipConfig maps the analysis settings onto ridership counting.
func (r *Runner) ridershipConfig() ridership.Config {
	a := r.cfg.Analysis
	groups := r.cfg.Reference.LinkGroups
	if len(groups) == 0 {
		groups = ridership.DefaultLinkGroups
	}
	lg := index.NewLinkGroups(groups)
	r.logger.Debug("crossing link groups", "groups", lg.Names(), "links", lg.Len())
	return ridership.Config{
		TransitTypes: a.TransitTypes,
		CarTypes:     a.CarTypes,
		SubwayType:   a.SubwayType,
		BusType:      a.BusType,
		LinkGroups:   lg,
	}
}

// Ridership counts boardings per agency, car crossings and subway trips.
func (r *Runner) Ridership(ctx context.Context, run Run, iteration int) (*Output, error) {
	start := time.Now()
	out := &Output{Run: run, Iteration: iteration, Cached: true}
	load := r.lazyEvents(run, iteration, ridershipKinds, true)

	var (
		counts   ridership.Counts
		computed bool
	)
	count := func(ctx context.Context) error {
		if computed {
			return nil
		}
		events, err := load(ctx)
		if err != nil {
			return err
		}
		counts = ridership.Count(events, r.ridershipConfig())
		out.Events = int64(len(events))
		computed = true
		return nil
	}

	for _, name := range []string{TableRidership, TableCrossings} {
		t, hit, err := r.cached(ctx, run, iteration, name, func(ctx context.Context) (*table.Table, error) {
			if err := count(ctx); err != nil {
				return nil, err
			}
			if name == TableCrossings {
				return counts.CrossingsTable(), nil
			}
			return counts.Table(), nil
		})
		if err != nil {
			return nil, err
		}
		out.Cached = out.Cached && hit
		out.Tables = append(out.Tables, t)
	}
	out.Duration = time.Since(start)
	return out, nil
}

// RidershipChange compares each run's ridership with base's.
func (r *Runner) RidershipChange(ctx context.Context, base Run, runs []Run, iteration int) ([]*Output, error) {
	all := append([]Run{base}, runs...)
	outs, err := r.Each(ctx, all, func(ctx context.Context, run Run) (*Output, error) {
		return r.Ridership(ctx, run, iteration)
	})
	if err != nil {
		return nil, err
	}
	baseTable := outs[0].Tables[0]
	for _, o := range outs[1:] {
		change := ridership.Compare(baseTable, o.Tables[0])
		o.Tables = append(o.Tables, change)
	}
	return outs[1:], nil
}

// BusRoutes counts bus boardings per route and hour.
func (r *Runner) BusRoutes(ctx context.Context, run Run, iteration int) (*Output, error) {
	start := time.Now()
	out := &Output{Run: run, Iteration: iteration}
	t, hit, err := r.cached(ctx, run, iteration, TableBusRoutes, func(ctx context.Context) (*table.Table, error) {
		routes, err := r.tripRoutes(ctx)
		if err != nil {
			return nil, err
		}
		events, err := r.Events(ctx, run, iteration, ridershipKinds)
		if err != nil {
			return nil, err
		}
		out.Events = int64(len(events))
		return ridership.RouteHourTable(ridership.ByRouteAndHour(events, routes, r.cfg.Analysis.BusType)), nil
	})
	if err != nil {
		return nil, err
	}
	out.Cached = hit
	out.Tables = []*table.Table{t}
	out.Duration = time.Since(start)
	return out, nil
}

// tripRoutes loads the GTFS trip routes once per runner.
func (r *Runner) tripRoutes(ctx context.Context) (gtfs.TripRoutes, error) {
	r.routesOnce.Do(func() {
		files := r.cfg.Reference.TripFiles
		if len(files) == 0 {
			files = gtfs.DefaultTripFiles
		}
		r.routes, r.routesErr = gtfs.Load(ctx, r.opener, files)
		if r.routesErr == nil {
			r.logger.Info("trip routes loaded", "files", len(files), "trips", len(r.routes))
		}
	})
	return r.routes, r.routesErr
}

// Walkers splits walk mode choices into real and fake walkers.
func (r *Runner) Walkers(ctx context.Context, run Run, iteration int) (*Output, error) {
	return r.single(ctx, run, iteration, TableWalkers, choiceKinds, func(events []model.Event) *table.Table {
		return walkers.Count(events, r.cfg.Analysis.WalkerThreshold).Table()
	})
}

// Occupancy sums passengers per vehicle type and hour.
func (r *Runner) Occupancy(ctx context.Context, run Run, iteration int) (*Output, error) {
	return r.single(ctx, run, iteration, TableOccupancy, traversalKinds, func(events []model.Event) *table.Table {
		return occupancy.Count(events).Table()
	})
}

// single runs a one-table analysis over the selected event kinds.
func (r *Runner) single(ctx context.Context, run Run, iteration int, name string, kinds model.KindSet,
	fn func([]model.Event) *table.Table) (*Output, error) {

	start := time.Now()
	out := &Output{Run: run, Iteration: iteration}
	t, hit, err := r.cached(ctx, run, iteration, name, func(ctx context.Context) (*table.Table, error) {
		events, err := r.Events(ctx, run, iteration, kinds)
		if err != nil {
			return nil, err
		}
		out.Events = int64(len(events))
		return fn(events), nil
	})
	if err != nil {
		return nil, err
	}
	out.Cached = hit
	out.Tables = []*table.Table{t}
	out.Duration = time.Since(start)
	return out, nil
}

// RealizedModes reads the realized mode shares of a run.
func (r *Runner) RealizedModes(ctx context.Context, run Run) (parser.ModeShares, error) {
	location := source.RunFile(run.Location, RealizedModeChoiceFile)
	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	shares, err := parser.ParseRealizedModeChoice(rc)
	if err != nil {
		return nil, annotate(err, "location", location)
	}
	return shares, nil
}

// WalkSplit reads a run's realized mode shares and, when split_walk is
// set, divides the walk share by the walkers summary of iteration.
func (r *Runner) WalkSplit(ctx context.Context, run Run, iteration int) (parser.ModeShares, error) {
	shares, err := r.RealizedModes(ctx, run)
	if err != nil || !r.cfg.Analysis.SplitWalk {
		return shares, err
	}
	out, err := r.Walkers(ctx, run, iteration)
	if err != nil {
		return nil, err
	}
	summary, ok := walkers.FromTable(out.Tables[0])
	if !ok {
		return nil, bferrors.New(bferrors.CodeInvalidFormat, "empty walkers table").With("run", run.Name)
	}
	r.logger.Debug("walk share split", "run", run.Name, "walk", shares["walk"],
		"real_ratio", summary.RealRatio(), "fake_ratio", summary.FakeRatio())
	return modechoice.SplitWalk(shares, summary), nil
}

// ModeChoice compares realized mode shares of runs with the configured
// benchmark: fixed shares when set, otherwise the benchmark run's file.
// With split_walk, walk shares of runs read from files are split using the
// walkers of iteration.
func (r *Runner) ModeChoice(ctx context.Context, runs []Run, iteration int) (*modechoice.Comparison, parser.ModeShares, error) {
	benchmark := parser.ModeShares(r.cfg.Reference.BenchmarkShares)
	if len(benchmark) == 0 {
		if r.cfg.Reference.BenchmarkRun == "" {
			return nil, nil, bferrors.New(bferrors.CodeValidationFailed, "no benchmark configured")
		}
		var err error
		benchmark, err = r.WalkSplit(ctx, ParseRun(r.cfg.Reference.BenchmarkRun), iteration)
		if err != nil {
			return nil, nil, err
		}
	}

	shares := make([]modechoice.Run, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Analysis.Concurrency))
	for i, run := range runs {
		g.Go(func() error {
			s, err := r.WalkSplit(gctx, run, iteration)
			if err != nil {
				return err
			}
			shares[i] = modechoice.Run{Name: run.Name, Shares: s}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return modechoice.Compare(benchmark, shares), benchmark, nil
}

// routeState is embedded in Runner.
type routeState struct {
	routesOnce sync.Once
	routes     gtfs.TripRoutes
	routesErr  error
}
