package trips

import (
	"sort"

	"github.com/beamflow/beamflow/internal/model"
)

// DefaultTransitTypes are the vehicle types treated as public transit.
var DefaultTransitTypes = []string{"BUS-DEFAULT", "RAIL-DEFAULT", "SUBWAY-DEFAULT"}

// TransitSet is a set of vehicle type labels.
type TransitSet map[string]struct{}

// NewTransitSet builds a set from labels.
func NewTransitSet(types []string) TransitSet {
	s := make(TransitSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether vehicleType is in the set.
func (s TransitSet) Has(vehicleType string) bool {
	_, ok := s[vehicleType]
	return ok
}

// Modes returns the labels sorted, which is the fixed output order.
func (s TransitSet) Modes() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Selection is the transit subset of an event stream.
type Selection struct {
	PathTraversals []model.Event
	Boardings      []model.Event
	Drivers        map[string]struct{}
	Vehicles       map[string]struct{}
}

// SelectTransit keeps path traversals and boardings of transit vehicles and
// drops every boarding made by a person who drives a transit vehicle.
func SelectTransit(events []model.Event, transit TransitSet) Selection {
	sel := Selection{
		Drivers:  make(map[string]struct{}),
		Vehicles: make(map[string]struct{}),
	}

	for i := range events {
		e := &events[i]
		if e.Kind != model.KindPathTraversal || !transit.Has(e.VehicleType) {
			continue
		}
		if e.Driver != "" {
			sel.Drivers[e.Driver] = struct{}{}
		}
		sel.Vehicles[e.Vehicle] = struct{}{}
	}

	for i := range events {
		e := &events[i]
		if _, ok := sel.Vehicles[e.Vehicle]; !ok {
			continue
		}
		switch {
		case e.Kind == model.KindPathTraversal:
			sel.PathTraversals = append(sel.PathTraversals, *e)
		case e.IsBoarding():
			if _, driver := sel.Drivers[e.Person]; driver {
				continue
			}
			sel.Boardings = append(sel.Boardings, *e)
		}
	}
	return sel
}

// Reconstruct runs the whole batch: transit selection, schedule building,
// per-person grouping and reconstruction.
func Reconstruct(events []model.Event, transit TransitSet, opts ...Option) *Result {
	o := applyOptions(opts)
	sel := SelectTransit(events, transit)
	r := NewReconstructor(BuildSchedules(sel.PathTraversals), transit.Modes(), o.logger)
	return r.Sequences(GroupByPerson(sel.Boardings))
}

// ReconstructSequences runs reconstruction over sequences that were grouped
// elsewhere, such as by a SQL aggregation.
func ReconstructSequences(schedules Schedules, modes []string, seqs []Sequence, opts ...Option) *Result {
	o := applyOptions(opts)
	return NewReconstructor(schedules, modes, o.logger).Sequences(seqs)
}
