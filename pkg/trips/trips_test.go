package trips

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/internal/model"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

func pt(vehicle, vehicleType, driver string, dep, arr, length float64) model.Event {
	return model.Event{
		Kind:          model.KindPathTraversal,
		Time:          dep,
		Vehicle:       vehicle,
		VehicleType:   vehicleType,
		Driver:        driver,
		DepartureTime: dep,
		ArrivalTime:   arr,
		Length:        length,
	}
}

func enter(person, vehicle string, t float64) model.Event {
	return model.Event{Kind: model.KindEntersVehicle, Time: t, Person: person, Vehicle: vehicle}
}

func leave(person, vehicle string, t float64) model.Event {
	return model.Event{Kind: model.KindLeavesVehicle, Time: t, Person: person, Vehicle: vehicle}
}

func busLine() []model.Event {
	return []model.Event{
		pt("bus1", "BUS-DEFAULT", "drv1", 0, 100, 500),
		pt("bus1", "BUS-DEFAULT", "drv1", 100, 220, 700),
		pt("bus1", "BUS-DEFAULT", "drv1", 220, 300, 300),
	}
}

func TestBuildSchedule_SortsAndKeepsFirstDuplicate(t *testing.T) {
	s := BuildSchedule("v", []model.Event{
		pt("v", "BUS-DEFAULT", "", 200, 300, 3),
		pt("v", "BUS-DEFAULT", "", 0, 100, 1),
		pt("v", "BUS-DEFAULT", "", 100, 150, 2),
		pt("v", "BUS-DEFAULT", "", 100, 200, 9),
		{Kind: model.KindPathTraversal, Vehicle: "v", DepartureTime: model.Missing(), ArrivalTime: 10},
	})

	if len(s.Segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(s.Segments))
	}
	var deps []float64
	for _, seg := range s.Segments {
		deps = append(deps, seg.Departure)
	}
	if !reflect.DeepEqual(deps, []float64{0, 100, 100, 200}) {
		t.Errorf("departures = %v", deps)
	}

	i, ok := s.IndexOf(100)
	if !ok || i != 1 || s.Segments[i].Length != 2 {
		t.Errorf("IndexOf(100) = %d,%v; want first duplicate at 1", i, ok)
	}
	if _, ok := s.IndexOf(50); ok {
		t.Error("IndexOf(50) should miss")
	}
	if s.VehicleType() != "BUS-DEFAULT" {
		t.Errorf("VehicleType = %q", s.VehicleType())
	}
}

func TestBuildSchedule_Empty(t *testing.T) {
	s := BuildSchedule("ghost", nil)
	if s.VehicleType() != "" || len(s.Segments) != 0 {
		t.Error("empty schedule should have no segments and no type")
	}
	if got := s.RideLength(0, 1e9); got != 0 {
		t.Errorf("RideLength on empty schedule = %v", got)
	}
}

func TestReconstruct_EndToEndBusScenario(t *testing.T) {
	events := append(busLine(), enter("p1", "bus1", 0), leave("p1", "bus1", 220))
	res := Reconstruct(events, NewTransitSet(DefaultTransitTypes))

	got := res.Distances["p1"].Get("BUS-DEFAULT")
	if got != 1200 {
		t.Errorf("BUS-DEFAULT distance = %v, want 1200", got)
	}
	if res.Distances["p1"].Total() != 1200 {
		t.Errorf("total = %v, want 1200", res.Distances["p1"].Total())
	}
	if !reflect.DeepEqual(res.Modes, []string{"BUS-DEFAULT", "RAIL-DEFAULT", "SUBWAY-DEFAULT"}) {
		t.Errorf("modes = %v", res.Modes)
	}
	if res.Diagnostics.Total() != 0 {
		t.Errorf("unexpected issues: %v", res.Diagnostics.Samples)
	}
}

func TestPerson_SingleAndMultiSegment(t *testing.T) {
	schedules := BuildSchedules(busLine())
	r := NewReconstructor(schedules, []string{"BUS-DEFAULT"}, nil)

	tests := []struct {
		name   string
		events []model.Event
		want   float64
	}{
		{"exact single segment", []model.Event{enter("p", "bus1", 100), leave("p", "bus1", 220)}, 700},
		{"three segments", []model.Event{enter("p", "bus1", 0), leave("p", "bus1", 300)}, 1500},
		{"leave before first arrival", []model.Event{enter("p", "bus1", 0), leave("p", "bus1", 50)}, 0},
		{"two rides", []model.Event{
			enter("p", "bus1", 0), leave("p", "bus1", 100),
			enter("p", "bus1", 220), leave("p", "bus1", 300),
		}, 800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diag := NewDiagnostics()
			got := r.Person("p", tt.events, diag).Get("BUS-DEFAULT")
			if got != tt.want {
				t.Errorf("distance = %v, want %v", got, tt.want)
			}
			if diag.Total() != 0 {
				t.Errorf("unexpected issues: %v", diag.Samples)
			}
		})
	}
}

func TestPerson_MalformedPairings(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelWarn, "text")
	r := NewReconstructor(BuildSchedules(busLine()), []string{"BUS-DEFAULT"}, logger)

	tests := []struct {
		name   string
		events []model.Event
		kind   IssueKind
		want   float64
	}{
		{"unmatched leave", []model.Event{leave("p", "bus1", 220)}, IssueUnmatchedLeave, 0},
		{"mismatched vehicle", []model.Event{enter("p", "bus1", 0), leave("p", "bus2", 220)}, IssueMismatchedVehicle, 0},
		{"entry time not a departure", []model.Event{enter("p", "bus1", 50), leave("p", "bus1", 220)}, IssueMissingSchedule, 0},
		{"vehicle without schedule", []model.Event{enter("p", "tram9", 0), leave("p", "tram9", 10)}, IssueMissingSchedule, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			diag := NewDiagnostics()
			got := r.Person("p", tt.events, diag)
			if got.Total() != tt.want {
				t.Errorf("distance = %v, want %v", got.Total(), tt.want)
			}
			if diag.Count(tt.kind) != 1 {
				t.Errorf("count(%s) = %d, want 1", tt.kind, diag.Count(tt.kind))
			}
			if !strings.Contains(buf.String(), tt.kind.String()) {
				t.Errorf("expected warning for %s, log was %q", tt.kind, buf.String())
			}
		})
	}
}

func TestPerson_MismatchClearsOpenRide(t *testing.T) {
	r := NewReconstructor(BuildSchedules(busLine()), []string{"BUS-DEFAULT"}, nil)
	diag := NewDiagnostics()

	got := r.Person("p", []model.Event{
		enter("p", "bus1", 0),
		leave("p", "bus2", 100),
		leave("p", "bus1", 220),
	}, diag)

	if got.Total() != 0 {
		t.Errorf("distance = %v, want 0", got.Total())
	}
	if diag.Count(IssueMismatchedVehicle) != 1 || diag.Count(IssueUnmatchedLeave) != 1 {
		t.Errorf("counts = %v", diag.Counts())
	}
}

func TestPerson_OverlappingBoardingKeepsNewer(t *testing.T) {
	r := NewReconstructor(BuildSchedules(busLine()), []string{"BUS-DEFAULT"}, nil)
	diag := NewDiagnostics()

	got := r.Person("p", []model.Event{
		enter("p", "bus1", 0),
		enter("p", "bus1", 100),
		leave("p", "bus1", 220),
	}, diag)

	if got.Get("BUS-DEFAULT") != 700 {
		t.Errorf("distance = %v, want 700", got.Get("BUS-DEFAULT"))
	}
	if diag.Count(IssueOverlappingBoarding) != 1 {
		t.Errorf("counts = %v", diag.Counts())
	}
}

func TestReconstruct_DriversNeverRide(t *testing.T) {
	events := append(busLine(),
		enter("drv1", "bus1", 0),
		enter("p1", "bus1", 0),
		leave("p1", "bus1", 100),
		leave("drv1", "bus1", 300),
	)
	res := Reconstruct(events, NewTransitSet(DefaultTransitTypes))

	if _, ok := res.Distances["drv1"]; ok {
		t.Error("driver should not be counted as rider")
	}
	for _, p := range res.Persons {
		if p == "drv1" {
			t.Error("driver listed among persons")
		}
	}
	if res.Distances["p1"].Get("BUS-DEFAULT") != 500 {
		t.Errorf("p1 distance = %v, want 500", res.Distances["p1"].Get("BUS-DEFAULT"))
	}
}

func TestReconstruct_IgnoresNonTransitVehicles(t *testing.T) {
	events := []model.Event{
		pt("car7", "Car", "p2", 0, 50, 900),
		enter("p2", "car7", 0),
		leave("p2", "car7", 50),
	}
	res := Reconstruct(events, NewTransitSet(DefaultTransitTypes))
	if len(res.Persons) != 0 {
		t.Errorf("persons = %v, want none", res.Persons)
	}
}

func TestReconstruct_OneBadPersonDoesNotAffectOthers(t *testing.T) {
	events := append(busLine(),
		leave("bad", "bus1", 10),
		enter("good", "bus1", 100),
		leave("good", "bus1", 220),
	)
	res := Reconstruct(events, NewTransitSet(DefaultTransitTypes))

	if res.Distances["good"].Get("BUS-DEFAULT") != 700 {
		t.Errorf("good distance = %v", res.Distances["good"].Get("BUS-DEFAULT"))
	}
	if res.Distances["bad"].Total() != 0 {
		t.Errorf("bad distance = %v", res.Distances["bad"].Total())
	}
	if !reflect.DeepEqual(res.Persons, []string{"bad", "good"}) {
		t.Errorf("persons = %v", res.Persons)
	}
}

func TestReconstruct_Idempotent(t *testing.T) {
	events := append(busLine(),
		pt("sub1", "SUBWAY-DEFAULT", "drv2", 10, 40, 1000),
		enter("p1", "bus1", 0), leave("p1", "bus1", 220),
		enter("p2", "sub1", 10), leave("p2", "sub1", 40),
		leave("p3", "bus1", 5),
	)
	transit := NewTransitSet(DefaultTransitTypes)

	first := Reconstruct(events, transit)
	second := Reconstruct(events, transit)

	if !reflect.DeepEqual(first.Distances, second.Distances) {
		t.Error("distances differ between runs")
	}
	if !reflect.DeepEqual(first.Persons, second.Persons) {
		t.Error("persons differ between runs")
	}
	if first.Diagnostics.Total() != second.Diagnostics.Total() {
		t.Error("diagnostics differ between runs")
	}

	totals := first.Totals()
	if totals.Get("BUS-DEFAULT") != 1200 || totals.Get("SUBWAY-DEFAULT") != 1000 {
		t.Errorf("totals = %v", totals.Map())
	}
}

func TestGroupByPerson_StableTimeOrder(t *testing.T) {
	seqs := GroupByPerson([]model.Event{
		leave("a", "v1", 10),
		enter("a", "v1", 5),
		enter("b", "v2", 10),
		leave("b", "v2", 10),
		pt("v1", "BUS-DEFAULT", "", 0, 1, 1),
	})
	if len(seqs) != 2 {
		t.Fatalf("sequences = %d, want 2", len(seqs))
	}
	if seqs[0].Events[0].Kind != model.KindEntersVehicle {
		t.Error("a's events should be sorted by time")
	}
	if seqs[1].Events[0].Kind != model.KindEntersVehicle || seqs[1].Events[1].Kind != model.KindLeavesVehicle {
		t.Error("equal times should keep input order")
	}
}

func TestSequenceFromColumns_Structural(t *testing.T) {
	seq := SequenceFromColumns("p9", []string{"PersonEntersVehicle", "PersonLeavesVehicle"}, []float64{0, 220}, []string{"bus1"})
	if !bferrors.IsCode(seq.Err, bferrors.CodeStructuralInconsistency) {
		t.Fatalf("err = %v, want structural inconsistency", seq.Err)
	}

	ok := SequenceFromColumns("p1", []string{"PersonEntersVehicle", "PersonLeavesVehicle"}, []float64{0, 220}, []string{"bus1", "bus1"})
	r := NewReconstructor(BuildSchedules(busLine()), []string{"BUS-DEFAULT"}, nil)
	res := r.Sequences([]Sequence{seq, ok})

	if res.Distances["p9"].Total() != 0 {
		t.Error("inconsistent person should report zero distances")
	}
	if res.Distances["p1"].Get("BUS-DEFAULT") != 1200 {
		t.Errorf("p1 distance = %v", res.Distances["p1"].Get("BUS-DEFAULT"))
	}
	if res.Diagnostics.Count(IssueStructural) != 1 {
		t.Errorf("counts = %v", res.Diagnostics.Counts())
	}
}

func TestDiagnostics_SampleCap(t *testing.T) {
	d := NewDiagnostics()
	d.MaxSamples = 2
	for i := 0; i < 5; i++ {
		d.Record(Issue{Kind: IssueUnmatchedLeave})
	}
	if d.Count(IssueUnmatchedLeave) != 5 || len(d.Samples) != 2 {
		t.Errorf("count=%d samples=%d", d.Count(IssueUnmatchedLeave), len(d.Samples))
	}

	other := NewDiagnostics()
	other.Record(Issue{Kind: IssueStructural})
	d.Merge(other)
	if d.Total() != 6 {
		t.Errorf("Total = %d, want 6", d.Total())
	}

	err := Issue{Kind: IssueMissingSchedule, Person: "p", Detail: "x"}.Err()
	if !bferrors.IsCode(err, bferrors.CodeMissingScheduleLookup) {
		t.Errorf("Err() code = %v", bferrors.GetCode(err))
	}
}

func TestRideState(t *testing.T) {
	var s RideState
	if _, over := s.Board("v1", 1); over {
		t.Error("first boarding should not overwrite")
	}
	prev, over := s.Board("v2", 2)
	if !over || prev.Vehicle != "v1" {
		t.Errorf("Board = %+v,%v", prev, over)
	}
	closed := s.Alight()
	if closed.Vehicle != "v2" || s.Status != Idle {
		t.Errorf("Alight = %+v, state=%v", closed, s.Status)
	}
}
