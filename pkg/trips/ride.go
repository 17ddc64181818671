package trips

// RideStatus is the state of a person during the scan.
type RideStatus uint8

const (
	Idle RideStatus = iota
	Aboard
)

func (s RideStatus) String() string {
	if s == Aboard {
		return "aboard"
	}
	return "idle"
}

// RideState tracks the open ride of one person.
type RideState struct {
	Status  RideStatus
	Vehicle string
	Entry   float64
}

// Board opens a ride. It returns the previous state when a ride was already open.
func (s *RideState) Board(vehicle string, t float64) (previous RideState, overwritten bool) {
	previous = *s
	overwritten = s.Status == Aboard
	*s = RideState{Status: Aboard, Vehicle: vehicle, Entry: t}
	return previous, overwritten
}

// Alight closes the open ride and returns it.
func (s *RideState) Alight() RideState {
	closed := *s
	*s = RideState{}
	return closed
}
