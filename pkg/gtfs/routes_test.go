package gtfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

func TestReadTrips(t *testing.T) {
	input := "\ufeffroute_id,service_id,trip_id,trip_headsign\n" +
		"B44,WKD,T1,\"Sheepshead Bay, Brooklyn\"\n" +
		"B46,WKD,T2,Kings Plaza\n" +
		"\n"

	routes := make(TripRoutes)
	if err := ReadTrips(strings.NewReader(input), routes); err != nil {
		t.Fatalf("ReadTrips: %v", err)
	}
	if len(routes) != 2 || routes["T1"] != "B44" || routes["T2"] != "B46" {
		t.Errorf("routes = %v", routes)
	}
}

func TestReadTrips_MissingColumn(t *testing.T) {
	err := ReadTrips(strings.NewReader("route_id,service_id\nB44,WKD\n"), make(TripRoutes))
	if !bferrors.IsCode(err, bferrors.CodeMissingColumn) {
		t.Errorf("err = %v, want missing column", err)
	}
}

func TestFromStatic_Invalid(t *testing.T) {
	if _, err := FromStatic([]byte("not a zip")); !bferrors.IsCode(err, bferrors.CodeInvalidFormat) {
		t.Errorf("err = %v, want invalid format", err)
	}
}

type fileOpener struct{}

func (fileOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	return os.Open(location)
}

func TestLoad_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a_trips.csv")
	second := filepath.Join(dir, "b_trips.csv")
	os.WriteFile(first, []byte("route_id,trip_id\nB1,T1\nB2,T2\n"), 0o644)
	os.WriteFile(second, []byte("route_id,trip_id\nX2,T2\n"), 0o644)

	routes, err := Load(context.Background(), fileOpener{}, []string{first, second})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if routes["T1"] != "B1" || routes["T2"] != "X2" {
		t.Errorf("routes = %v", routes)
	}
}

func TestLoad_Error(t *testing.T) {
	_, err := Load(context.Background(), fileOpener{}, []string{filepath.Join(t.TempDir(), "missing.csv")})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
