package report

import (
	"io"
	"strconv"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// numericColumns reports, per column, whether every non-empty cell is a number.
func numericColumns(t *table.Table) []bool {
	numeric := make([]bool, len(t.Columns))
	for c := range t.Columns {
		numeric[c] = true
		for _, row := range t.Rows {
			if row[c] == "" {
				continue
			}
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				numeric[c] = false
				break
			}
		}
	}
	return numeric
}

// tableSchema maps numeric columns to float64 and the rest to strings.
// Empty cells become nulls.
func tableSchema(t *table.Table, numeric []bool) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, name := range t.Columns {
		typ := arrow.DataType(arrow.BinaryTypes.String)
		if numeric[i] {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func codec(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	default:
		return compress.Codecs.Uncompressed
	}
}

// WriteParquet writes t as a Parquet file in record batches of
// cfg.BatchSize rows.
func WriteParquet(w io.Writer, t *table.Table, cfg Config) error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	allocator := memory.NewGoAllocator()
	numeric := numericColumns(t)
	schema := tableSchema(t, numeric)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec(cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	fw, err := pqarrow.NewFileWriter(schema, w, writerProps, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "create parquet writer").With("table", t.Name)
	}

	builders := make([]array.Builder, len(t.Columns))
	for i := range t.Columns {
		if numeric[i] {
			builders[i] = array.NewFloat64Builder(allocator)
		} else {
			builders[i] = array.NewStringBuilder(allocator)
		}
		builders[i].Reserve(cfg.BatchSize)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rows := 0
	flush := func() error {
		if rows == 0 {
			return nil
		}
		cols := make([]arrow.Array, len(builders))
		for i, b := range builders {
			cols[i] = b.NewArray()
		}
		batch := array.NewRecord(schema, cols, int64(rows))
		for _, c := range cols {
			c.Release()
		}
		defer batch.Release()
		if err := fw.Write(batch); err != nil {
			return bferrors.Wrap(err, bferrors.CodeWriteFailed, "write record batch").With("table", t.Name)
		}
		rows = 0
		return nil
	}

	for _, row := range t.Rows {
		for i, cell := range row {
			switch b := builders[i].(type) {
			case *array.Float64Builder:
				if cell == "" {
					b.AppendNull()
					continue
				}
				v, _ := strconv.ParseFloat(cell, 64)
				b.Append(v)
			case *array.StringBuilder:
				if cell == "" {
					b.AppendNull()
					continue
				}
				b.Append(cell)
			}
		}
		rows++
		if rows >= cfg.BatchSize {
			if err := flush(); err != nil {
				fw.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return bferrors.Wrap(err, bferrors.CodeWriteFailed, "close parquet writer").With("table", t.Name)
	}
	return nil
}
