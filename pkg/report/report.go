// Package report renders analysis tables to CSV, XLSX and Parquet files.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/trips"
)

// Format is an output format.
type Format uint8

const (
	FormatTable Format = iota
	FormatCSV
	FormatXLSX
	FormatParquet
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	case FormatParquet:
		return "parquet"
	default:
		return "table"
	}
}

// Ext returns the file extension of the format, with the dot.
func (f Format) Ext() string {
	if f == FormatTable {
		return ".txt"
	}
	return "." + f.String()
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return FormatTable, bferrors.New(bferrors.CodeInvalidFormat, "unknown output format").With("format", s)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".xlsx":
		return FormatXLSX, true
	case ".parquet":
		return FormatParquet, true
	default:
		return FormatTable, false
	}
}

// Config holds writer configuration.
type Config struct {
	// Compression codec for Parquet output.
	Compression CompressionType

	// BatchSize is the number of rows per Arrow record batch.
	BatchSize int
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// DefaultConfig returns snappy-compressed Parquet in 8192-row batches.
func DefaultConfig() Config {
	return Config{Compression: CompressionSnappy, BatchSize: 8192}
}

// DistanceTable lays out a reconstruction result as one row per person
// and one column per mode.
func DistanceTable(res *trips.Result) *table.Table {
	t := table.New("person_distances", append([]string{"person"}, res.Modes...)...)
	for _, p := range res.Persons {
		d := res.Distances[p]
		row := make([]string, 0, len(res.Modes)+1)
		row = append(row, p)
		for _, m := range res.Modes {
			row = append(row, table.FormatFloat(d.Get(m)))
		}
		t.Append(row...)
	}
	return t
}

// ColumnTotals sums every column after the first (the row key) into a
// single row. Empty and non-numeric cells are skipped.
func ColumnTotals(t *table.Table, name string) *table.Table {
	if len(t.Columns) == 0 {
		return table.New(name)
	}
	cols := t.Columns[1:]
	sums := make([]float64, len(cols))
	for _, row := range t.Rows {
		for i := range cols {
			if v, err := strconv.ParseFloat(row[i+1], 64); err == nil && !math.IsNaN(v) {
				sums[i] += v
			}
		}
	}
	out := table.New(name, cols...)
	cells := make([]string, len(sums))
	for i, v := range sums {
		cells[i] = table.FormatFloat(v)
	}
	out.Append(cells...)
	return out
}

// DiagnosticsTable lists issue counts by kind.
func DiagnosticsTable(d *trips.Diagnostics) *table.Table {
	t := table.New("diagnostics", "issue", "count")
	counts := d.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		t.Append(k, strconv.Itoa(counts[k]))
	}
	return t
}

// Write writes tables to w. CSV output separates tables with a blank line;
// XLSX output holds one sheet per table; Parquet output holds exactly one
// table.
func Write(w io.Writer, format Format, cfg Config, tables ...*table.Table) error {
	switch format {
	case FormatCSV:
		for i, t := range tables {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write csv")
				}
			}
			if err := t.WriteCSV(w); err != nil {
				return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write csv").With("table", t.Name)
			}
		}
		return nil
	case FormatXLSX:
		return WriteXLSX(w, tables...)
	case FormatParquet:
		if len(tables) != 1 {
			return bferrors.New(bferrors.CodeInvalidFormat, "parquet output holds one table").
				With("tables", len(tables))
		}
		return WriteParquet(w, tables[0], cfg)
	default:
		return bferrors.New(bferrors.CodeInvalidFormat, "format is not a file format").With("format", format.String())
	}
}

// Save writes tables to path. CSV and Parquet outputs with several tables
// are split into one file per table, named <path>_<table><ext>. It returns
// the files written.
func Save(path string, format Format, cfg Config, tables ...*table.Table) ([]string, error) {
	if format == FormatXLSX || len(tables) <= 1 {
		return []string{path}, saveOne(path, format, cfg, tables...)
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		p := fmt.Sprintf("%s_%s%s", base, t.Name, format.Ext())
		if err := saveOne(p, format, cfg, t); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func saveOne(path string, format Format, cfg Config, tables ...*table.Table) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return bferrors.Wrap(err, bferrors.CodeWriteFailed, "create output directory").With("path", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "create output file").With("path", path)
	}
	if err := Write(f, format, cfg, tables...); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "close output file").With("path", path)
	}
	return nil
}
