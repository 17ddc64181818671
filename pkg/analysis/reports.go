package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/activities"
	"github.com/beamflow/beamflow/pkg/beamlog"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/parking"
	"github.com/beamflow/beamflow/pkg/ridership"
	"github.com/beamflow/beamflow/pkg/source"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// Cache entry names of the run file analyses.
const (
	TableParking         = "parking_fallbacks"
	TableTimeAtHome      = "time_at_home"
	TablePassengerTotals = "passenger_totals"
)

var activityKinds = model.KindsOf(model.KindActStart, model.KindActEnd)

// readTable reads a CSV artifact.
func (r *Runner) readTable(ctx context.Context, location, name string) (*table.Table, error) {
	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	t, err := table.ReadCSV(name, rc)
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeInvalidFormat, "read table").With("location", location)
	}
	return t, nil
}

// Parking counts parking rows of default and emergency zones.
func (r *Runner) Parking(ctx context.Context, run Run, iteration int) (*Output, error) {
	start := time.Now()
	out := &Output{Run: run, Iteration: iteration}
	t, hit, err := r.cached(ctx, run, iteration, TableParking, func(ctx context.Context) (*table.Table, error) {
		location := source.IterationFile(run.Location, iteration, parking.StatsFile)
		stats, err := r.readTable(ctx, location, "parking_stats")
		if err != nil {
			return nil, err
		}
		counts, err := parking.Fallbacks(stats)
		if err != nil {
			return nil, annotate(err, "location", location)
		}
		return parking.Table(counts), nil
	})
	if err != nil {
		return nil, err
	}
	out.Cached = hit
	out.Tables = []*table.Table{t}
	out.Duration = time.Since(start)
	return out, nil
}

// TimeAtHome summarizes hours spent at home over the configured population.
func (r *Runner) TimeAtHome(ctx context.Context, run Run, iteration int) (*Output, error) {
	population := r.cfg.Reference.Population
	name := TableTimeAtHome
	if population > 0 {
		name = fmt.Sprintf("%s_%d", TableTimeAtHome, population)
	}
	return r.single(ctx, run, iteration, name, activityKinds, func(events []model.Event) *table.Table {
		return activities.TimeAtHome(events, population).Table()
	})
}

// TimeAtHomeComparison runs TimeAtHome for every run and adds the ratio of
// each median to the first run's.
func (r *Runner) TimeAtHomeComparison(ctx context.Context, runs []Run, iteration int) ([]*Output, error) {
	outs, err := r.Each(ctx, runs, func(ctx context.Context, run Run) (*Output, error) {
		return r.TimeAtHome(ctx, run, iteration)
	})
	if err != nil {
		return nil, err
	}
	if len(outs) < 2 {
		return outs, nil
	}
	named := make([]activities.Named, len(outs))
	for i, o := range outs {
		s, ok := activities.FromTable(o.Tables[0])
		if !ok {
			return nil, bferrors.New(bferrors.CodeInvalidFormat, "empty time at home table").With("run", o.Run.Name)
		}
		named[i] = activities.Named{Name: o.Run.Name, Summary: s}
	}
	cmp := &Output{
		Run:       Run{Name: "time_at_home"},
		Iteration: iteration,
		Tables:    []*table.Table{activities.CompareTable(named)},
		Combined:  true,
	}
	return append(outs, cmp), nil
}

// BeamLog scans the run's beamLog.out. The log is read on every call.
func (r *Runner) BeamLog(ctx context.Context, run Run) (*Output, error) {
	start := time.Now()
	a := r.cfg.Analysis
	opts := beamlog.DefaultOptions()
	opts.Expected = append(append([]string(nil), beamlog.DefaultExpected...), a.LogExpected...)
	if len(a.LogKeywords) > 0 {
		opts.Keywords = a.LogKeywords
	}
	opts.MaxUnexpected = a.LogMaxUnexpected
	scanner, err := beamlog.New(opts)
	if err != nil {
		return nil, err
	}

	location := source.RunFile(run.Location, beamlog.File)
	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	rep, err := scanner.Scan(ctx, rc)
	if err != nil {
		return nil, annotate(err, "location", location)
	}
	r.logger.Debug("log scanned", "run", run.Name, "lines", rep.Lines, "unexpected", rep.UnexpectedTotal)
	return &Output{
		Run:       run,
		Iteration: -1,
		Tables:    rep.Tables(),
		Issues:    rep.UnexpectedTotal,
		Duration:  time.Since(start),
	}, nil
}

// passengerFiles pairs each histogram with whether its empty-vehicle
// bucket is skipped.
var passengerFiles = []struct {
	name      string
	skipEmpty bool
}{
	{ridership.PassengerFileSubway, true},
	{ridership.PassengerFileBus, true},
	{ridership.PassengerFileRail, true},
	{ridership.PassengerFileCar, false},
}

// PassengerTotals sums the passengers-per-trip histograms of an iteration
// per mode.
func (r *Runner) PassengerTotals(ctx context.Context, run Run, iteration int) (*Output, error) {
	start := time.Now()
	out := &Output{Run: run, Iteration: iteration}
	t, hit, err := r.cached(ctx, run, iteration, TablePassengerTotals, func(ctx context.Context) (*table.Table, error) {
		var sums [4]float64
		for i, f := range passengerFiles {
			location := source.IterationFile(run.Location, iteration, f.name)
			hist, err := r.readTable(ctx, location, f.name)
			if err != nil {
				return nil, err
			}
			sums[i], err = ridership.PassengerTotal(hist, f.skipEmpty)
			if err != nil {
				return nil, annotate(err, "location", location)
			}
		}
		return ridership.ModeTotals{Subway: sums[0], Bus: sums[1], Rail: sums[2], Car: sums[3]}.Table(), nil
	})
	if err != nil {
		return nil, err
	}
	out.Cached = hit
	out.Tables = []*table.Table{t}
	out.Duration = time.Since(start)
	return out, nil
}

// ModeRidershipChange compares the passenger totals of runs with base's,
// followed by the configured ridership baselines. With versus set, a second
// table holds each run's change minus that baseline's.
func (r *Runner) ModeRidershipChange(ctx context.Context, base Run, runs []Run, iteration int, versus string) (*Output, error) {
	reference := -1
	baselines := make([]ridership.ModeChange, 0, len(r.cfg.Reference.RidershipBaselines))
	for _, b := range r.cfg.Reference.RidershipBaselines {
		if b.Name == versus {
			reference = len(baselines)
		}
		baselines = append(baselines, ridership.ModeChange{
			Name: b.Name, Subway: b.Subway, Bus: b.Bus, Rail: b.Rail, Car: b.Car, Transit: b.Transit,
		})
	}
	if versus != "" && reference < 0 {
		return nil, bferrors.New(bferrors.CodeValidationFailed, "unknown ridership baseline").With("baseline", versus)
	}

	start := time.Now()
	outs, err := r.Each(ctx, append([]Run{base}, runs...), func(ctx context.Context, run Run) (*Output, error) {
		return r.PassengerTotals(ctx, run, iteration)
	})
	if err != nil {
		return nil, err
	}
	totals := make([]ridership.ModeTotals, len(outs))
	for i, o := range outs {
		if totals[i], err = ridership.TotalsFromTable(o.Tables[0]); err != nil {
			return nil, annotate(err, "run", o.Run.Name)
		}
	}

	changes := make([]ridership.ModeChange, 0, len(runs))
	for i, run := range runs {
		changes = append(changes, ridership.ChangeOf(run.Name, totals[0], totals[i+1]))
	}
	out := &Output{
		Run:       Run{Name: "ridership_modes"},
		Iteration: iteration,
		Tables:    []*table.Table{ridership.ModeChangeTable("ridership_mode_change", append(changes, baselines...))},
		Combined:  true,
		Duration:  time.Since(start),
	}
	if versus != "" {
		diffs := make([]ridership.ModeChange, len(changes))
		for i, c := range changes {
			diffs[i] = c.Minus(baselines[reference])
		}
		out.Tables = append(out.Tables, ridership.ModeChangeTable("ridership_mode_vs_baseline", diffs))
	}
	return out, nil
}
