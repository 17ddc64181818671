// Package ridership counts transit boardings per agency and route and car
// crossings of configured bridges and tunnels.
package ridership

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/index"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/trips"
)

// Row labels of the summary table besides agency names.
const (
	LabelCar    = "Car"
	LabelSubway = "Subway"
)

// Config selects the vehicle types each count looks at.
type Config struct {
	// TransitTypes identify transit vehicles; their drivers are not riders.
	TransitTypes []string
	// CarTypes are the vehicle types counted for crossings.
	CarTypes   []string
	SubwayType string
	BusType    string
	LinkGroups *index.LinkGroups
}

// DefaultConfig returns the vehicle types used by the simulation and the
// default crossing groups.
func DefaultConfig() Config {
	return Config{
		TransitTypes: trips.DefaultTransitTypes,
		CarTypes:     []string{"Car", "Car-rh-only", "PHEV", "BUS-DEFAULT"},
		SubwayType:   "SUBWAY-DEFAULT",
		BusType:      "BUS-DEFAULT",
		LinkGroups:   index.NewLinkGroups(DefaultLinkGroups),
	}
}

// Agency returns the agency part of a transit vehicle id ("MTA_NYCT:123"
// gives "MTA_NYCT"), or "" for ids without one.
func Agency(vehicle string) string {
	parts := strings.Split(vehicle, ":")
	if len(parts) > 1 {
		return parts[0]
	}
	return ""
}

// TripID returns the trip part of a transit vehicle id, or "".
func TripID(vehicle string) string {
	parts := strings.Split(vehicle, ":")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

// vehicleInfo is the first path traversal seen for a vehicle.
type vehicleInfo struct {
	vehicleType string
	agency      string
}

// Counts summarises one iteration.
type Counts struct {
	// Agencies counts boardings per agency of the boarded vehicle.
	Agencies map[string]int
	// VehicleTypes counts boardings per vehicle type.
	VehicleTypes map[string]int
	// CarCrossings counts car path traversals touching any link group.
	CarCrossings int
	// Crossings counts car path traversals per link group.
	Crossings map[string]int
	// SubwayTrips counts runs of consecutive subway boardings per person.
	SubwayTrips int
}

// Count computes ridership counts over an iteration's events.
func Count(events []model.Event, cfg Config) Counts {
	transit := trips.NewTransitSet(cfg.TransitTypes)
	cars := trips.NewTransitSet(cfg.CarTypes)

	c := Counts{
		Agencies:     make(map[string]int),
		VehicleTypes: make(map[string]int),
		Crossings:    make(map[string]int),
	}
	vehicles := make(map[string]vehicleInfo)
	drivers := make(map[string]struct{})

	for i := range events {
		e := &events[i]
		if e.Kind != model.KindPathTraversal {
			continue
		}
		if _, seen := vehicles[e.Vehicle]; !seen {
			vehicles[e.Vehicle] = vehicleInfo{vehicleType: e.VehicleType, agency: Agency(e.Vehicle)}
		}
		if transit.Has(e.VehicleType) && e.Driver != "" {
			drivers[e.Driver] = struct{}{}
		}
		if cfg.LinkGroups != nil && cars.Has(e.VehicleType) && cfg.LinkGroups.Crosses(e.Links) {
			c.CarCrossings++
			for _, g := range cfg.LinkGroups.Matching(e.Links) {
				c.Crossings[g]++
			}
		}
	}

	// per-person vehicle types in time order
	type boarding struct {
		time        float64
		vehicleType string
	}
	perPerson := make(map[string][]boarding)

	for i := range events {
		e := &events[i]
		if e.Kind != model.KindEntersVehicle {
			continue
		}
		if _, isDriver := drivers[e.Person]; isDriver {
			continue
		}
		info, ok := vehicles[e.Vehicle]
		if !ok {
			continue
		}
		c.Agencies[info.agency]++
		c.VehicleTypes[info.vehicleType]++
		perPerson[e.Person] = append(perPerson[e.Person], boarding{e.Time, info.vehicleType})
	}

	for _, bs := range perPerson {
		sort.SliceStable(bs, func(a, b int) bool { return bs[a].time < bs[b].time })
		types := make([]string, len(bs))
		for i, b := range bs {
			types[i] = b.vehicleType
		}
		c.SubwayTrips += SubwayTrips(types, cfg.SubwayType)
	}
	return c
}

// SubwayTrips counts runs of subwayType in a person's ordered boardings;
// transfers between subway vehicles stay one trip.
func SubwayTrips(vehicleTypes []string, subwayType string) int {
	n := 0
	last := false
	for _, t := range vehicleTypes {
		if t == subwayType {
			if !last {
				n++
			}
			last = true
		} else {
			last = false
		}
	}
	return n
}

// Table renders the counts as name,count rows: agencies sorted by name,
// then the car crossings and subway trips.
func (c Counts) Table() *table.Table {
	t := table.New("ridership", "name", "count")
	names := make([]string, 0, len(c.Agencies))
	for a := range c.Agencies {
		names = append(names, a)
	}
	sort.Strings(names)
	for _, a := range names {
		t.Append(a, strconv.Itoa(c.Agencies[a]))
	}
	t.Append(LabelCar, strconv.Itoa(c.CarCrossings))
	t.Append(LabelSubway, strconv.Itoa(c.SubwayTrips))
	return t
}

// CrossingsTable renders per-group crossing counts.
func (c Counts) CrossingsTable() *table.Table {
	t := table.New("crossings", "group", "count")
	groups := make([]string, 0, len(c.Crossings))
	for g := range c.Crossings {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		t.Append(g, strconv.Itoa(c.Crossings[g]))
	}
	return t
}
