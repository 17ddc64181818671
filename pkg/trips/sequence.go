package trips

import (
	"log/slog"

	"github.com/beamflow/beamflow/internal/model"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// Option configures Reconstruct.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger that receives reconstruction warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SequenceFromColumns assembles a person's events from parallel columns, as
// produced by grouped list aggregation. Unequal column lengths yield a
// sequence carrying a structural inconsistency error.
func SequenceFromColumns(person string, kinds []string, times []float64, vehicles []string) Sequence {
	if len(kinds) != len(times) || len(kinds) != len(vehicles) {
		return Sequence{
			Person: person,
			Err: bferrors.New(bferrors.CodeStructuralInconsistency, "column lengths are not equal").
				With("types", len(kinds)).
				With("times", len(times)).
				With("vehicles", len(vehicles)),
		}
	}

	events := make([]model.Event, len(kinds))
	for i := range kinds {
		events[i] = model.Event{
			Kind:    model.ParseKind(kinds[i]),
			Time:    times[i],
			Person:  person,
			Vehicle: vehicles[i],
		}
	}
	return Sequence{Person: person, Events: events}
}
