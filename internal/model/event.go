// Package model defines core data structures for beamflow.
package model

import "math"

// Kind identifies the simulation event type carried in the `type` column.
type Kind uint8

const (
	KindOther Kind = iota
	KindEntersVehicle
	KindLeavesVehicle
	KindPathTraversal
	KindModeChoice
	KindReplanning
	KindActStart
	KindActEnd
)

// Raw event type labels as written by the simulation.
const (
	TypeEntersVehicle = "PersonEntersVehicle"
	TypeLeavesVehicle = "PersonLeavesVehicle"
	TypePathTraversal = "PathTraversal"
	TypeModeChoice    = "ModeChoice"
	TypeReplanning    = "Replanning"
	TypeActStart      = "actstart"
	TypeActEnd        = "actend"
)

// String returns the simulation label for the kind.
func (k Kind) String() string {
	switch k {
	case KindEntersVehicle:
		return TypeEntersVehicle
	case KindLeavesVehicle:
		return TypeLeavesVehicle
	case KindPathTraversal:
		return TypePathTraversal
	case KindModeChoice:
		return TypeModeChoice
	case KindReplanning:
		return TypeReplanning
	case KindActStart:
		return TypeActStart
	case KindActEnd:
		return TypeActEnd
	default:
		return "Other"
	}
}

// ParseKind maps a `type` column value to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case TypeEntersVehicle:
		return KindEntersVehicle
	case TypeLeavesVehicle:
		return KindLeavesVehicle
	case TypePathTraversal:
		return KindPathTraversal
	case TypeModeChoice:
		return KindModeChoice
	case TypeReplanning:
		return KindReplanning
	case TypeActStart:
		return KindActStart
	case TypeActEnd:
		return KindActEnd
	default:
		return KindOther
	}
}

// Event is one decoded row of an events file.
// Numeric fields that were empty in the source hold NaN; use Has to test them.
type Event struct {
	Kind Kind

	// Time is the simulation clock in seconds.
	Time float64

	Person      string
	Vehicle     string
	VehicleType string
	Driver      string

	// PathTraversal fields.
	Length        float64
	DepartureTime float64
	ArrivalTime   float64
	NumPassengers int
	Links         []uint32

	// ModeChoice fields.
	Mode                  string
	AvailableAlternatives string

	// ActType is the activity of actstart and actend events.
	ActType string
}

// Has reports whether a numeric field was present in the source row.
func Has(v float64) bool {
	return !math.IsNaN(v)
}

// Missing is the value stored for absent numeric cells.
func Missing() float64 {
	return math.NaN()
}

// IsBoarding reports whether the event is an enter or leave event.
func (e *Event) IsBoarding() bool {
	return e.Kind == KindEntersVehicle || e.Kind == KindLeavesVehicle
}

// Hour returns the simulation hour the event falls in.
func (e *Event) Hour() int {
	return int(e.Time / 3600)
}

// KindSet is a small bitset of event kinds used for row filtering.
type KindSet uint32

// KindsOf builds a set from kinds.
func KindsOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Contains reports whether k is in the set. The empty set contains every kind.
func (s KindSet) Contains(k Kind) bool {
	return s == 0 || s&(1<<k) != 0
}
