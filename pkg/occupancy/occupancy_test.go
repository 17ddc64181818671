package occupancy

import (
	"reflect"
	"testing"

	"github.com/beamflow/beamflow/internal/model"
)

func pt(t float64, vehicle, vehicleType string, passengers int) model.Event {
	return model.Event{Kind: model.KindPathTraversal, Time: t, Vehicle: vehicle, VehicleType: vehicleType, NumPassengers: passengers}
}

func TestCount(t *testing.T) {
	events := []model.Event{
		pt(3700, "bus1", "BUS-DEFAULT", 3),
		pt(100, "bus1", "BUS-DEFAULT", 2),
		pt(200, "bus1", "BUS-DEFAULT", 5),
		pt(300, "bus2", "BUS-DEFAULT", 1),
		pt(400, "car1", "Car", 1),
		pt(500, "body", BodyType, 9),
		pt(3800, "bus1", "BUS-DEFAULT", 1),
		{Kind: model.KindEntersVehicle, Time: 10, Vehicle: "bus1"},
	}

	got := Count(events)
	want := ByHour{
		0: {"BUS-DEFAULT": 6, "Car": 1},
		1: {"BUS-DEFAULT": 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Count = %v, want %v", got, want)
	}

	tb := got.Table()
	if !reflect.DeepEqual(tb.Columns, []string{"hour", "BUS-DEFAULT", "Car"}) {
		t.Errorf("columns = %v", tb.Columns)
	}
	if !reflect.DeepEqual(tb.Rows[1], []string{"1", "3", "0"}) {
		t.Errorf("hour 1 row = %v", tb.Rows[1])
	}
}

func TestCount_Empty(t *testing.T) {
	got := Count(nil)
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("Count(nil) = %v, want only an empty hour 0", got)
	}
}
