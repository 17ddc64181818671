// Package parser decodes simulation output artifacts: the events CSV and
// the realized mode choice table.
package parser

import (
	"context"
	"io"
	"log/slog"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/pipeline"
)

// Parser streams decoded events to out.
// The caller is responsible for closing the out channel.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, out chan<- model.Event) error
}

// Column names of the events file.
const (
	ColPerson                = "person"
	ColVehicle               = "vehicle"
	ColType                  = "type"
	ColTime                  = "time"
	ColVehicleType           = "vehicleType"
	ColDriver                = "driver"
	ColLength                = "length"
	ColDepartureTime         = "departureTime"
	ColArrivalTime           = "arrivalTime"
	ColNumPassengers         = "numPassengers"
	ColLinks                 = "links"
	ColMode                  = "mode"
	ColAvailableAlternatives = "availableAlternatives"
	ColActType               = "actType"
)

// Config holds parser configuration.
type Config struct {
	// Kinds restricts emitted events. The zero value emits every kind.
	Kinds model.KindSet

	// BufferSize is the size of the read buffer in bytes.
	BufferSize int

	// Delimiter is the field delimiter (default: comma).
	Delimiter byte

	// ErrorPolicy decides what happens to malformed rows.
	ErrorPolicy pipeline.ErrorPolicy

	// SkipLinks leaves Event.Links empty without reading the links column,
	// so a malformed links cell cannot reject the row.
	SkipLinks bool

	// MaxErrors aborts after this many malformed rows; 0 means unlimited.
	MaxErrors int64

	// Source names the input in errors and logs.
	Source string

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:  256 * 1024,
		Delimiter:   ',',
		ErrorPolicy: pipeline.ErrorPolicySkip,
	}
}

// ReadEvents decodes every selected event of r into memory.
func ReadEvents(ctx context.Context, r io.Reader, cfg Config) ([]model.Event, error) {
	return NewEventsParser(cfg).ReadAll(ctx, r)
}

// ReadAll decodes every selected event of r into memory. Errors and
// Rejected describe the rows skipped on the way.
func (p *EventsParser) ReadAll(ctx context.Context, r io.Reader) ([]model.Event, error) {
	out := make(chan model.Event, 1024)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		errc <- p.Parse(ctx, r, out)
	}()

	var events []model.Event
	for e := range out {
		events = append(events, e)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return events, nil
}
