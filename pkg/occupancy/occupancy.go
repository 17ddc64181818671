// Package occupancy sums vehicle passengers per vehicle type and hour.
package occupancy

import (
	"sort"
	"strconv"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// BodyType is the vehicle type of persons walking; it never carries passengers.
const BodyType = "BODY-TYPE-DEFAULT"

// ByHour maps hour to vehicle type to passenger count.
type ByHour map[int]map[string]int

type load struct {
	passengers  int
	vehicleType string
}

// Count reads PathTraversal events in time order. Within each hour every
// vehicle contributes its largest passenger count, under the type of the
// traversal that reached it. Hour 0 is always present.
func Count(events []model.Event) ByHour {
	var pts []*model.Event
	for i := range events {
		e := &events[i]
		if e.Kind == model.KindPathTraversal && e.VehicleType != BodyType {
			pts = append(pts, e)
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })

	out := make(ByHour)
	current := make(map[string]load)
	lastHour := 0
	flush := func() {
		perType := make(map[string]int)
		for _, l := range current {
			perType[l.vehicleType] += l.passengers
		}
		out[lastHour] = perType
	}

	for _, e := range pts {
		hour := e.Hour()
		if hour != lastHour {
			flush()
			lastHour = hour
			current = make(map[string]load)
		}
		if l, ok := current[e.Vehicle]; !ok || l.passengers < e.NumPassengers {
			current[e.Vehicle] = load{passengers: e.NumPassengers, vehicleType: e.VehicleType}
		}
	}
	flush()
	return out
}

// Types returns every vehicle type seen, sorted.
func (b ByHour) Types() []string {
	seen := make(map[string]struct{})
	for _, perType := range b {
		for t := range perType {
			seen[t] = struct{}{}
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Table renders one row per hour and one column per vehicle type.
func (b ByHour) Table() *table.Table {
	types := b.Types()
	t := table.New("passengers_by_hour", append([]string{"hour"}, types...)...)

	hours := make([]int, 0, len(b))
	for h := range b {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	for _, h := range hours {
		row := []string{strconv.Itoa(h)}
		for _, vt := range types {
			row = append(row, strconv.Itoa(b[h][vt]))
		}
		t.Append(row...)
	}
	return t
}
