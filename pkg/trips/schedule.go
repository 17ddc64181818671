// Package trips reconstructs per-person ride distances from boarding and
// path traversal events.
package trips

import (
	"sort"

	"github.com/beamflow/beamflow/internal/model"
)

// Segment is one continuous movement of a vehicle.
type Segment struct {
	Departure   float64
	Arrival     float64
	Length      float64
	VehicleType string
}

// Schedule is the ordered movement history of one vehicle.
// It is immutable once built.
type Schedule struct {
	Vehicle  string
	Segments []Segment

	byDeparture map[float64]int
}

// BuildSchedule builds a schedule from the PathTraversal events of a single
// vehicle. Events of other kinds and segments without departure or arrival
// times are ignored. Segments are ordered by departure; when departures repeat
// the lookup keeps the first segment.
func BuildSchedule(vehicle string, events []model.Event) *Schedule {
	segments := make([]Segment, 0, len(events))
	for i := range events {
		e := &events[i]
		if e.Kind != model.KindPathTraversal {
			continue
		}
		if !model.Has(e.DepartureTime) || !model.Has(e.ArrivalTime) {
			continue
		}
		length := e.Length
		if !model.Has(length) {
			length = 0
		}
		segments = append(segments, Segment{
			Departure:   e.DepartureTime,
			Arrival:     e.ArrivalTime,
			Length:      length,
			VehicleType: e.VehicleType,
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Departure < segments[j].Departure
	})

	idx := make(map[float64]int, len(segments))
	for i, s := range segments {
		if _, seen := idx[s.Departure]; !seen {
			idx[s.Departure] = i
		}
	}

	return &Schedule{
		Vehicle:     vehicle,
		Segments:    segments,
		byDeparture: idx,
	}
}

// IndexOf returns the index of the segment departing at t.
func (s *Schedule) IndexOf(t float64) (int, bool) {
	i, ok := s.byDeparture[t]
	return i, ok
}

// VehicleType is the mode label of the vehicle, taken from its first segment.
func (s *Schedule) VehicleType() string {
	if len(s.Segments) == 0 {
		return ""
	}
	return s.Segments[0].VehicleType
}

// RideLength sums the segments starting at index from whose arrival is at or
// before exit.
func (s *Schedule) RideLength(from int, exit float64) float64 {
	var total float64
	for i := from; i < len(s.Segments) && s.Segments[i].Arrival <= exit; i++ {
		total += s.Segments[i].Length
	}
	return total
}

// Schedules maps vehicle id to schedule.
type Schedules map[string]*Schedule

// BuildSchedules groups PathTraversal events by vehicle and builds every schedule.
func BuildSchedules(events []model.Event) Schedules {
	byVehicle := make(map[string][]model.Event)
	for i := range events {
		e := &events[i]
		if e.Kind != model.KindPathTraversal || e.Vehicle == "" {
			continue
		}
		byVehicle[e.Vehicle] = append(byVehicle[e.Vehicle], *e)
	}

	out := make(Schedules, len(byVehicle))
	for vehicle, evs := range byVehicle {
		out[vehicle] = BuildSchedule(vehicle, evs)
	}
	return out
}
