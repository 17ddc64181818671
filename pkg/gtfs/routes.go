// Package gtfs maps GTFS trip ids to route ids, from static feeds or from
// per-agency trips tables.
package gtfs

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/jamespfennell/gtfs"
	"golang.org/x/sync/errgroup"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/parser"
)

// DefaultTripFiles are the New York bus trips tables used for route lookups.
var DefaultTripFiles = []string{
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/MTA_Bronx_20200121_trips.csv.gz",
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/MTA_Brooklyn_20200118_trips.csv.gz",
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/MTA_Manhattan_20200123_trips.csv.gz",
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/MTA_Queens_20200118_trips.csv.gz",
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/MTA_Staten_Island_20200118_trips.csv.gz",
	"https://beam-outputs.s3.us-east-2.amazonaws.com/new_city/newyork/gtfs_trips_only_per_agency/NJ_Transit_Bus_20200210_trips.csv.gz",
}

// TripRoutes maps trip id to route id.
type TripRoutes map[string]string

// FromStatic reads the trips of a static GTFS zip.
func FromStatic(data []byte) (TripRoutes, error) {
	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeInvalidFormat, "parse GTFS feed")
	}
	routes := make(TripRoutes, len(static.Trips))
	for _, trip := range static.Trips {
		if trip.Route == nil {
			continue
		}
		routes[trip.ID] = trip.Route.Id
	}
	return routes, nil
}

// ReadTrips adds the route_id and trip_id pairs of a trips table to routes.
func ReadTrips(r io.Reader, routes TripRoutes) error {
	br := bufio.NewReader(r)
	sc := parser.NewScanner(',')

	header, err := br.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return bferrors.Wrap(err, bferrors.CodeReadFailed, "read trips header")
	}
	tripIdx, routeIdx := -1, -1
	var names []string
	for i, f := range sc.ScanLine(header) {
		name := strings.TrimPrefix(string(f), "\ufeff")
		names = append(names, name)
		switch name {
		case "trip_id":
			tripIdx = i
		case "route_id":
			routeIdx = i
		}
	}
	if tripIdx < 0 {
		return bferrors.MissingColumn("trip_id", names)
	}
	if routeIdx < 0 {
		return bferrors.MissingColumn("route_id", names)
	}

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			fields := sc.ScanLine(line)
			if tripIdx < len(fields) && routeIdx < len(fields) && len(fields[tripIdx]) > 0 {
				routes[string(fields[tripIdx])] = string(fields[routeIdx])
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return bferrors.Wrap(err, bferrors.CodeReadFailed, "read trips")
		}
	}
}

// Opener opens locations with transparent decompression.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Load reads every location concurrently and merges them in order, so a
// later file overrides trips of an earlier one. Locations ending in .zip
// are parsed as static feeds; others as trips tables.
func Load(ctx context.Context, opener Opener, locations []string) (TripRoutes, error) {
	parts := make([]TripRoutes, len(locations))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, loc := range locations {
		g.Go(func() error {
			rc, err := opener.Open(ctx, loc)
			if err != nil {
				return err
			}
			defer rc.Close()

			if strings.HasSuffix(strings.ToLower(loc), ".zip") {
				data, err := io.ReadAll(rc)
				if err != nil {
					return bferrors.Wrap(err, bferrors.CodeReadFailed, "read GTFS feed").With("location", loc)
				}
				parts[i], err = FromStatic(data)
				return err
			}

			part := make(TripRoutes)
			if err := ReadTrips(rc, part); err != nil {
				if e, ok := err.(*bferrors.Error); ok {
					return e.With("location", loc)
				}
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	routes := make(TripRoutes)
	for _, p := range parts {
		for trip, route := range p {
			routes[trip] = route
		}
	}
	return routes, nil
}
