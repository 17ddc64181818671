// Package analysis runs the per-iteration analyses of simulation runs:
// fetching artifacts, parsing events, computing tables and caching them.
package analysis

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/cache"
	"github.com/beamflow/beamflow/pkg/config"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/parser"
	"github.com/beamflow/beamflow/pkg/pipeline"
	"github.com/beamflow/beamflow/pkg/source"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/telemetry"
)

// Run is one simulation run to analyse.
type Run struct {
	Name     string
	Location string
}

// ParseRun reads "name=location" or a bare location. A bare location is
// named after its last path segment.
func ParseRun(arg string) Run {
	arg = strings.TrimSpace(arg)
	if name, loc, ok := strings.Cut(arg, "="); ok && !strings.ContainsAny(name, "/:") {
		return Run{Name: name, Location: source.OutputPath(loc)}
	}
	loc := source.OutputPath(arg)
	name := cache.RunKey(loc)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return Run{Name: name, Location: loc}
}

// Output is the result of one analysis of one run iteration.
type Output struct {
	Run       Run
	Iteration int
	Tables    []*table.Table
	Cached    bool
	Events    int64
	Issues    int
	Duration  time.Duration

	// Combined outputs compare several runs; their table names stay as
	// they are when printed next to per-run outputs.
	Combined bool
}

// Options configures a Runner.
type Options struct {
	Config  *config.Config
	Opener  *source.Opener
	Cache   *cache.Cache // nil disables caching
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Force   bool
	ID      string // generated when empty
}

// Runner executes analyses.
type Runner struct {
	cfg     *config.Config
	opener  *source.Opener
	cache   *cache.Cache
	metrics *telemetry.Metrics
	logger  *slog.Logger
	force   bool
	id      string

	routeState
}

// NewRunner creates a Runner. The runner id tags its spans and log lines;
// a fresh one is generated unless Options.ID is set.
func NewRunner(opts Options) *Runner {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	opener := opts.Opener
	if opener == nil {
		opener = source.NewOpener(source.Options{Logger: logger})
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Runner{
		cfg:     cfg,
		opener:  opener,
		cache:   opts.Cache,
		metrics: metrics,
		logger:  logger.With("analysis_id", id),
		force:   opts.Force,
		id:      id,
	}
}

// ID returns the runner's analysis id.
func (r *Runner) ID() string { return r.id }

// Metrics returns the runner's counters.
func (r *Runner) Metrics() *telemetry.Metrics { return r.metrics }

// Each calls fn for every run concurrently, bounded by the configured
// concurrency. Outputs keep the order of runs.
func (r *Runner) Each(ctx context.Context, runs []Run, fn func(context.Context, Run) (*Output, error)) ([]*Output, error) {
	out := make([]*Output, len(runs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Analysis.Concurrency))
	for i, run := range runs {
		g.Go(func() error {
			o, err := fn(ctx, run)
			if err != nil {
				return annotate(err, "run", run.Name)
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// parserConfig returns the parser settings for kinds. The links column is
// decoded only when links is set.
func (r *Runner) parserConfig(kinds model.KindSet, location string, links bool) parser.Config {
	pc := parser.DefaultConfig()
	pc.Kinds = kinds
	pc.SkipLinks = !links
	pc.ErrorPolicy = pipeline.ParseErrorPolicy(r.cfg.Analysis.ErrorPolicy)
	pc.MaxErrors = r.cfg.Analysis.MaxErrors
	pc.Source = location
	pc.Logger = r.logger
	return pc
}

// Events reads the events of an iteration, keeping only kinds. Links are
// not decoded; see EventsWithLinks.
func (r *Runner) Events(ctx context.Context, run Run, iteration int, kinds model.KindSet) ([]model.Event, error) {
	return r.readEvents(ctx, run, iteration, kinds, false)
}

// EventsWithLinks is Events with PathTraversal links decoded. Rows whose
// links cell is malformed are then subject to the error policy.
func (r *Runner) EventsWithLinks(ctx context.Context, run Run, iteration int, kinds model.KindSet) ([]model.Event, error) {
	return r.readEvents(ctx, run, iteration, kinds, true)
}

func (r *Runner) readEvents(ctx context.Context, run Run, iteration int, kinds model.KindSet, links bool) ([]model.Event, error) {
	location := source.EventsPath(run.Location, iteration)
	var events []model.Event
	err := telemetry.InstrumentedOperation(ctx, r.metrics, "analysis.events", func(ctx context.Context) error {
		rc, err := r.opener.Open(ctx, location)
		if err != nil {
			return err
		}
		defer rc.Close()

		counted := &countingReader{r: rc}
		p := parser.NewEventsParser(r.parserConfig(kinds, location, links))
		events, err = p.ReadAll(ctx, counted)
		r.metrics.AddBytes(counted.n)
		if err != nil {
			return err
		}
		r.metrics.AddEvents(int64(len(events)))
		telemetry.SetSpanAttributes(ctx, attribute.Int("events", len(events)))
		if st := p.Errors(); st.Skipped > 0 {
			telemetry.AddSpanEvent(ctx, "rows skipped", attribute.Int64("skipped", st.Skipped))
			first := p.Rejected()[0]
			r.logger.Warn("skipped malformed rows", "location", location, "skipped", st.Skipped,
				"first_row", first.Row, "first_error", first.Message)
		}
		return nil
	}, attribute.String("location", location), attribute.String("analysis_id", r.id))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("events loaded", "run", run.Name, "iteration", iteration, "events", len(events))
	return events, nil
}

// lazyEvents loads events at most once, for analyses producing several
// tables that may each be cached.
func (r *Runner) lazyEvents(run Run, iteration int, kinds model.KindSet, links bool) func(context.Context) ([]model.Event, error) {
	var (
		once   sync.Once
		events []model.Event
		err    error
	)
	return func(ctx context.Context) ([]model.Event, error) {
		once.Do(func() { events, err = r.readEvents(ctx, run, iteration, kinds, links) })
		return events, err
	}
}

// cached returns the named table from the cache or computes it.
func (r *Runner) cached(ctx context.Context, run Run, iteration int, name string,
	compute func(context.Context) (*table.Table, error)) (*table.Table, bool, error) {

	if r.cache == nil {
		t, err := compute(ctx)
		if err == nil {
			t.Name = name
			r.metrics.CacheMiss()
		}
		return t, false, err
	}
	t, hit, err := r.cache.GetOrCompute(ctx, cache.RunKey(run.Location), iteration, name, r.force, compute)
	if err != nil {
		return nil, false, err
	}
	if hit {
		r.metrics.CacheHit()
	} else {
		r.metrics.CacheMiss()
	}
	return t, hit, nil
}

// downloadDir is the per-run download directory.
func (r *Runner) downloadDir(run Run) string {
	return filepath.Join(r.cfg.Source.DownloadDir, filepath.FromSlash(cache.RunKey(run.Location)))
}

// annotate adds a context value to beamflow errors.
func annotate(err error, key string, value any) error {
	if e, ok := err.(*bferrors.Error); ok {
		return e.With(key, value)
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
