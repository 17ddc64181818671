// BeamFlow - analysis of BEAM transport simulation outputs.
// Reconstructs per-person transit trips and derives ridership, mode choice
// and occupancy tables from run output folders on disk, HTTP or S3.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/pkg/analysis"
	"github.com/beamflow/beamflow/pkg/config"
	"github.com/beamflow/beamflow/pkg/report"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/telemetry"
	"github.com/beamflow/beamflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile      string
	logLevel        string
	logFormat       string
	outputFile      string
	formatFlag      string
	compressionFlag string
	forceFlag       bool
	metricsFlag     bool
	iterationFlag   int
)

// app holds what every analysis command needs once flags are parsed.
type app struct {
	manager  *config.Manager
	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

var cur = &app{manager: config.NewManager(), shutdown: func(context.Context) error { return nil }}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "beamflow",
	Short: "BeamFlow - analyse BEAM simulation outputs",
	Long: `BeamFlow reads BEAM run output folders (local paths, HTTP URLs, s3:// URIs or
S3 console links) and computes per-person transit distances, ridership,
mode choice and occupancy tables.

Results are cached next to the run outputs (or in the configured cache
backend) so repeated analyses are served without re-reading events.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return cur.shutdown(ctx)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (default: search /etc/beamflow, ~/.beamflow, ./.beamflow.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	pf.StringVarP(&outputFile, "output", "o", "", "Write results to this file instead of the terminal")
	pf.StringVarP(&formatFlag, "format", "f", "", "Output format (table, csv, xlsx, parquet); inferred from --output")
	pf.StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")
	pf.BoolVar(&forceFlag, "force", false, "Recompute results even when cached")
	pf.BoolVar(&metricsFlag, "metrics", false, "Print run metrics as JSON to stderr")

	rootCmd.AddCommand(tripsCmd, ridershipCmd, busRoutesCmd, walkersCmd, occupancyCmd, modeChoiceCmd,
		parkingCmd, timeAtHomeCmd, beamLogCmd, watchCmd, configCmd)
}

// setup loads configuration, logging and tracing.
func setup(cmd *cobra.Command, _ []string) error {
	if err := cur.manager.Load(configFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cur.cfg = cur.manager.Get()
	if logLevel != "" {
		cur.cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cur.cfg.Logging.Format = logFormat
	}
	cur.logger = logging.New(os.Stderr, logging.ParseLevel(cur.cfg.Logging.Level), cur.cfg.Logging.Format)
	slog.SetDefault(cur.logger)
	cmd.SetContext(logging.WithLogger(cmd.Context(), cur.logger))

	tc := telemetry.DefaultConfig()
	tc.Enabled = cur.cfg.Telemetry.Enabled
	if cur.cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cur.cfg.Telemetry.Endpoint
	}
	if cur.cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cur.cfg.Telemetry.ServiceName
	}
	tc.ServiceVersion = version
	tc.Insecure = cur.cfg.Telemetry.Insecure
	tc.SamplingRatio = cur.cfg.Telemetry.SamplingRatio

	shutdown, err := telemetry.Init(cmd.Context(), tc)
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	cur.shutdown = shutdown
	cur.logger.Debug("configuration loaded", "files", cur.manager.GetPaths())
	return nil
}

// newRunner builds the opener, cache and runner of one command, logging
// to the logger carried by ctx.
func newRunner(ctx context.Context) (*analysis.Runner, error) {
	logger := logging.FromContext(ctx)
	opener, err := analysis.NewOpener(ctx, cur.cfg.Source, logger, tui.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to create opener: %w", err)
	}
	id := uuid.NewString()
	c, err := analysis.NewCache(ctx, cur.cfg, logger, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return analysis.NewRunner(analysis.Options{
		Config:  cur.cfg,
		Opener:  opener,
		Cache:   c,
		Metrics: telemetry.NewMetrics(),
		Logger:  logger,
		Force:   forceFlag,
		ID:      id,
	}), nil
}

func parseRuns(args []string) []analysis.Run {
	runs := make([]analysis.Run, len(args))
	for i, a := range args {
		runs[i] = analysis.ParseRun(a)
	}
	return runs
}

// outputFormat resolves --format against --output.
func outputFormat() (report.Format, error) {
	if formatFlag != "" {
		return report.ParseFormat(formatFlag)
	}
	if outputFile != "" {
		if f, ok := report.FormatFromPath(outputFile); ok {
			return f, nil
		}
		return report.FormatCSV, nil
	}
	return report.FormatTable, nil
}

// emit prints or saves the tables of outputs. With several runs, table
// names carry the run name unless the output combines runs.
func emit(w io.Writer, title string, outs []*analysis.Output) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	var tables []*table.Table
	for _, o := range outs {
		for _, t := range o.Tables {
			if len(outs) > 1 && !o.Combined {
				named := *t
				named.Name = o.Run.Name + "_" + t.Name
				t = &named
			}
			tables = append(tables, t)
		}
	}

	if format == report.FormatTable {
		if outputFile != "" {
			return fmt.Errorf("table format is terminal only; choose csv, xlsx or parquet for %s", outputFile)
		}
		if err := tui.PrintTables(w, tables...); err != nil {
			return err
		}
		for _, o := range outs {
			if o.Combined || o.Run.Location == "" {
				continue
			}
			heading := fmt.Sprintf("%s %s it.%d", title, o.Run.Name, o.Iteration)
			if o.Iteration < 0 {
				heading = fmt.Sprintf("%s %s", title, o.Run.Name)
			}
			tui.PrintSummary(w, tui.Summary{
				Title:    heading,
				Location: o.Run.Location,
				Events:   o.Events,
				Issues:   o.Issues,
				Cached:   o.Cached,
				Duration: o.Duration,
			})
		}
		return nil
	}

	rc := report.DefaultConfig()
	rc.Compression = report.ParseCompression(compressionFlag)
	path := outputFile
	if path == "" {
		path = title + format.Ext()
	}
	written, err := report.Save(path, format, rc, tables...)
	if err != nil {
		return err
	}
	for _, p := range written {
		abs, _ := filepath.Abs(p)
		fmt.Fprintln(w, abs)
	}
	return nil
}
