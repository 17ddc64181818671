package ridership

import (
	"sort"
	"strconv"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// RouteHour keys bus boardings.
type RouteHour struct {
	Agency string
	Route  string
	Hour   int
}

// ByRouteAndHour counts boardings of busType vehicles per agency, route and
// hour of boarding. routes maps GTFS trip ids to route ids; unknown trips
// count under an empty route. Drivers of bus vehicles are not counted.
func ByRouteAndHour(events []model.Event, routes map[string]string, busType string) map[RouteHour]int {
	type busInfo struct{ agency, route string }
	buses := make(map[string]busInfo)
	drivers := make(map[string]struct{})

	for i := range events {
		e := &events[i]
		if e.Kind != model.KindPathTraversal || e.VehicleType != busType {
			continue
		}
		if e.Driver != "" {
			drivers[e.Driver] = struct{}{}
		}
		if _, seen := buses[e.Vehicle]; !seen {
			buses[e.Vehicle] = busInfo{agency: Agency(e.Vehicle), route: routes[TripID(e.Vehicle)]}
		}
	}

	out := make(map[RouteHour]int)
	for i := range events {
		e := &events[i]
		if e.Kind != model.KindEntersVehicle {
			continue
		}
		if _, isDriver := drivers[e.Person]; isDriver {
			continue
		}
		bus, ok := buses[e.Vehicle]
		if !ok {
			continue
		}
		out[RouteHour{Agency: bus.agency, Route: bus.route, Hour: e.Hour()}]++
	}
	return out
}

// RouteHourTable renders counts sorted by agency, route and hour.
func RouteHourTable(counts map[RouteHour]int) *table.Table {
	keys := make([]RouteHour, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Agency != b.Agency {
			return a.Agency < b.Agency
		}
		if a.Route != b.Route {
			return a.Route < b.Route
		}
		return a.Hour < b.Hour
	})

	t := table.New("bus_routes", "agency", "route", "hour", "count")
	for _, k := range keys {
		t.Append(k.Agency, k.Route, strconv.Itoa(k.Hour), strconv.Itoa(counts[k]))
	}
	return t
}
