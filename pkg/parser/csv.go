package parser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/beamflow/beamflow/internal/model"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/pipeline"
)

// EventsParser decodes the header-mapped events CSV.
type EventsParser struct {
	cfg     Config
	scanner *Scanner
	errs    *pipeline.ErrorHandler
}

// NewEventsParser creates a new events parser.
func NewEventsParser(cfg Config) *EventsParser {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	logger := cfg.Logger
	source := cfg.Source
	errs := pipeline.NewErrorHandler(cfg.ErrorPolicy).
		WithMaxErrors(cfg.MaxErrors).
		WithOnSkip(func(rec pipeline.ErrorRecord) {
			logger.Debug("skipping row",
				"source", source,
				"row", rec.Row,
				"column", rec.Column,
				"type", rec.ErrorType.String(),
				"error", rec.Message)
		})
	return &EventsParser{
		cfg:     cfg,
		scanner: NewScanner(cfg.Delimiter),
		errs:    errs,
	}
}

// Errors returns the row error statistics of the last parse.
func (p *EventsParser) Errors() pipeline.Stats {
	return p.errs.Stats()
}

// Rejected returns the first skipped rows of the last parse.
func (p *EventsParser) Rejected() []pipeline.ErrorRecord {
	return p.errs.Records()
}

// columns holds header indices; -1 marks an absent column.
type columns struct {
	person, vehicle, typ, time, vehicleType, driver int
	length, departure, arrival, passengers, links   int
	mode, alt, actType                              int

	count int
}

func mapHeader(header [][]byte) (columns, error) {
	idx := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = string(h)
		idx[names[i]] = i
	}
	get := func(name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		return -1
	}

	c := columns{
		person:      get(ColPerson),
		vehicle:     get(ColVehicle),
		typ:         get(ColType),
		time:        get(ColTime),
		vehicleType: get(ColVehicleType),
		driver:      get(ColDriver),
		length:      get(ColLength),
		departure:   get(ColDepartureTime),
		arrival:     get(ColArrivalTime),
		passengers:  get(ColNumPassengers),
		links:       get(ColLinks),
		mode:        get(ColMode),
		alt:         get(ColAvailableAlternatives),
		actType:     get(ColActType),
		count:       len(header),
	}
	if c.typ < 0 {
		return c, bferrors.MissingColumn(ColType, names)
	}
	if c.time < 0 {
		return c, bferrors.MissingColumn(ColTime, names)
	}
	return c, nil
}

// Parse implements the Parser interface.
func (p *EventsParser) Parse(ctx context.Context, r io.Reader, out chan<- model.Event) error {
	reader := bufio.NewReaderSize(r, p.cfg.BufferSize)

	headerLine, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return bferrors.Wrap(err, bferrors.CodeReadFailed, "read header").With("source", p.cfg.Source)
	}
	if len(trimLineEnding(headerLine)) == 0 {
		return bferrors.Wrap(ErrEmptyInput, bferrors.CodeInvalidFormat, "events file has no header").
			With("source", p.cfg.Source)
	}
	cols, err := mapHeader(p.scanner.ScanLine(headerLine))
	if err != nil {
		return err
	}

	var row int64 = 1
	for {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return bferrors.Canceled("parse events", err)
			}
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return bferrors.Wrap(readErr, bferrors.CodeReadFailed, "read events").
				With("source", p.cfg.Source).
				With("row", row)
		}
		if len(line) == 0 && readErr == io.EOF {
			break
		}
		row++

		fields := p.scanner.ScanLine(line)
		if len(fields) == 0 {
			continue
		}

		e, rec, keep := p.decode(cols, fields, row)
		if rec != nil {
			if readErr == io.EOF && line[len(line)-1] != '\n' {
				rec.ErrorType = pipeline.ErrorTypeTruncated
			}
			cont, err := p.errs.Handle(*rec)
			if !cont {
				return err
			}
		} else if keep {
			select {
			case out <- e:
			case <-ctx.Done():
				return bferrors.Canceled("parse events", ctx.Err())
			}
		}

		if readErr == io.EOF {
			break
		}
	}
	return nil
}

// decode converts one row. keep is false for rows filtered out by kind.
func (p *EventsParser) decode(c columns, fields [][]byte, row int64) (model.Event, *pipeline.ErrorRecord, bool) {
	var e model.Event
	if len(fields) > c.count {
		return e, p.record(row, "", pipeline.ErrorTypeMalformedRow,
			fmt.Sprintf("row has %d fields, header has %d", len(fields), c.count)), false
	}

	e.Kind = model.ParseKind(string(field(fields, c.typ)))
	if !p.cfg.Kinds.Contains(e.Kind) {
		return e, nil, false
	}

	var rec *pipeline.ErrorRecord
	num := func(col int, name string) float64 {
		v, err := parseFloat(field(fields, col))
		if err != nil && rec == nil {
			rec = p.record(row, name, pipeline.ErrorTypeInvalidNumber, err.Error())
		}
		return v
	}

	e.Time = num(c.time, ColTime)
	if rec == nil && !model.Has(e.Time) {
		rec = p.record(row, ColTime, pipeline.ErrorTypeMalformedRow, "time is empty")
	}
	e.Person = string(field(fields, c.person))
	e.Vehicle = string(field(fields, c.vehicle))
	e.VehicleType = string(field(fields, c.vehicleType))
	e.Driver = string(field(fields, c.driver))
	e.Length = num(c.length, ColLength)
	e.DepartureTime = num(c.departure, ColDepartureTime)
	e.ArrivalTime = num(c.arrival, ColArrivalTime)
	if n := num(c.passengers, ColNumPassengers); model.Has(n) {
		e.NumPassengers = int(n)
	}
	e.Mode = string(field(fields, c.mode))
	e.AvailableAlternatives = string(field(fields, c.alt))
	e.ActType = string(field(fields, c.actType))

	if raw := field(fields, c.links); len(raw) > 0 && !p.cfg.SkipLinks {
		links, err := ParseLinks(raw)
		if err != nil && rec == nil {
			rec = p.record(row, ColLinks, pipeline.ErrorTypeInvalidNumber, err.Error())
		}
		e.Links = links
	}

	if rec != nil {
		return model.Event{}, rec, false
	}
	return e, nil, true
}

func (p *EventsParser) record(row int64, column string, typ pipeline.ErrorType, msg string) *pipeline.ErrorRecord {
	return &pipeline.ErrorRecord{
		Row:       row,
		Column:    column,
		Message:   msg,
		ErrorType: typ,
		Source:    p.cfg.Source,
	}
}

// field returns fields[i], or nil when the column is absent or the row is short.
func field(fields [][]byte, i int) []byte {
	if i < 0 || i >= len(fields) {
		return nil
	}
	return fields[i]
}

// parseFloat parses a numeric cell. Empty cells are NaN.
func parseFloat(b []byte) (float64, error) {
	if len(b) == 0 {
		return model.Missing(), nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return model.Missing(), fmt.Errorf("invalid number %q", b)
	}
	return v, nil
}

// ParseLinks parses a comma separated list of link ids.
func ParseLinks(b []byte) ([]uint32, error) {
	links := make([]uint32, 0, 8)
	start := 0
	for i := 0; i <= len(b); i++ {
		if i < len(b) && b[i] != ',' {
			continue
		}
		tok := b[start:i]
		start = i + 1
		if len(tok) == 0 {
			continue
		}
		v, err := strconv.ParseUint(string(tok), 10, 32)
		if err != nil {
			return links, fmt.Errorf("invalid link id %q", tok)
		}
		links = append(links, uint32(v))
	}
	return links, nil
}
