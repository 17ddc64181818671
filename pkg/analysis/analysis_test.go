package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/beamflow/beamflow/pkg/cache"
	"github.com/beamflow/beamflow/pkg/config"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

const runEvents = `person,vehicle,type,time,vehicleType,driver,length,departureTime,arrivalTime,numPassengers,links,mode,availableAlternatives
d1,MTA:bus1,PersonEntersVehicle,0,,,,,,,,,
p1,MTA:bus1,PersonEntersVehicle,0,,,,,,,,,
,MTA:bus1,PathTraversal,100,BUS-DEFAULT,d1,500,0,100,1,"1,2",,
,MTA:bus1,PathTraversal,220,BUS-DEFAULT,d1,700,100,220,1,3,,
p1,MTA:bus1,PersonLeavesVehicle,220,,,,,,,,,
,MTA:bus1,PathTraversal,300,BUS-DEFAULT,d1,300,220,300,0,4,,
p2,,ModeChoice,400,,,100,,,,,walk,WALK
`

// writeRun lays out a run folder with iteration 0 and a realized mode
// choice file.
func writeRun(t *testing.T) string {
	t.Helper()
	return writeRunEvents(t, runEvents)
}

func writeRunEvents(t *testing.T, events string) string {
	t.Helper()
	run := t.TempDir()
	dir := filepath.Join(run, "ITERS", "it.0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "0.events.csv.gz"))
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	zw.Write([]byte(events))
	zw.Close()
	f.Close()

	mc := "bike,car,cav,drive_transit,ride_hail,ride_hail_pooled,ride_hail_transit,walk,walk_transit\n" +
		"1,50,0,2,3,1,0,20,23\n"
	writeFile(t, run, RealizedModeChoiceFile, mc)
	return run
}

func writeFile(t *testing.T, run, rel, content string) {
	t.Helper()
	path := filepath.Join(run, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testRunner(t *testing.T, force bool) *Runner {
	t.Helper()
	cfg := config.Default()
	backend, err := cache.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(Options{Config: cfg, Cache: cache.New(backend), Force: force})
}

func TestParseRun(t *testing.T) {
	tests := []struct {
		arg      string
		name     string
		location string
	}{
		{"base=/data/runs/a", "base", "/data/runs/a"},
		{"/data/runs/a/", "a", "/data/runs/a/"},
		{"https://beam-outputs.s3.amazonaws.com/output/nyc/run-1", "run-1", "https://beam-outputs.s3.amazonaws.com/output/nyc/run-1"},
	}
	for _, tt := range tests {
		got := ParseRun(tt.arg)
		if got.Name != tt.name || got.Location != tt.location {
			t.Errorf("ParseRun(%q) = %+v, want {%s %s}", tt.arg, got, tt.name, tt.location)
		}
	}
}

func TestRunner_Trips(t *testing.T) {
	run := Run{Name: "r", Location: writeRun(t)}
	r := testRunner(t, false)

	out, err := r.Trips(context.Background(), run, 0)
	if err != nil {
		t.Fatalf("Trips: %v", err)
	}
	if out.Cached {
		t.Error("first call should compute")
	}
	dist := out.Tables[0]
	if dist.Len() != 1 || strings.Join(dist.Rows[0], ",") != "p1,1200,0,0" {
		t.Errorf("distances = %v", dist.Rows)
	}
	if got := out.Tables[1].Rows[0][0]; got != "1200" {
		t.Errorf("bus total = %q, want 1200", got)
	}

	again, err := r.Trips(context.Background(), run, 0)
	if err != nil {
		t.Fatalf("Trips (cached): %v", err)
	}
	if !again.Cached || strings.Join(again.Tables[0].Rows[0], ",") != "p1,1200,0,0" {
		t.Errorf("cached output = %+v", again.Tables[0].Rows)
	}
	if s := r.Metrics().Summary(); s.CacheHits != 1 || s.CacheMisses != 1 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestRunner_Force(t *testing.T) {
	run := Run{Name: "r", Location: writeRun(t)}
	r := testRunner(t, true)
	for i := 0; i < 2; i++ {
		out, err := r.Walkers(context.Background(), run, 0)
		if err != nil {
			t.Fatalf("Walkers: %v", err)
		}
		if out.Cached {
			t.Errorf("call %d served from cache despite force", i)
		}
	}
}

func TestRunner_Analyses(t *testing.T) {
	run := Run{Name: "r", Location: writeRun(t)}
	r := NewRunner(Options{Config: config.Default()})
	ctx := context.Background()

	rides, err := r.Ridership(ctx, run, 0)
	if err != nil {
		t.Fatalf("Ridership: %v", err)
	}
	if len(rides.Tables) != 2 || strings.Join(rides.Tables[0].Rows[0], ",") != "MTA,1" {
		t.Errorf("ridership = %v", rides.Tables[0].Rows)
	}

	walk, err := r.Walkers(ctx, run, 0)
	if err != nil {
		t.Fatalf("Walkers: %v", err)
	}
	if got := strings.Join(walk.Tables[0].Rows[0], ","); got != "1,1,0,0,1" {
		t.Errorf("walkers = %s", got)
	}

	occ, err := r.Occupancy(ctx, run, 0)
	if err != nil {
		t.Fatalf("Occupancy: %v", err)
	}
	if got := strings.Join(occ.Tables[0].Rows[0], ","); got != "0,1" {
		t.Errorf("occupancy = %s", got)
	}
}

func TestRunner_RidershipChange(t *testing.T) {
	base := Run{Name: "base", Location: writeRun(t)}
	other := Run{Name: "other", Location: writeRun(t)}
	r := NewRunner(Options{Config: config.Default()})

	outs, err := r.RidershipChange(context.Background(), base, []Run{other}, 0)
	if err != nil {
		t.Fatalf("RidershipChange: %v", err)
	}
	change := outs[0].Tables[len(outs[0].Tables)-1]
	if change.Name != "ridership_change" || strings.Join(change.Rows[0], ",") != "MTA,1,1,0" {
		t.Errorf("change = %v", change.Rows)
	}
}

func TestRunner_ModeChoice(t *testing.T) {
	cfg := config.Default()
	cfg.Reference.BenchmarkShares = map[string]float64{"car": 40, "walk": 20, "bike": 0}
	r := NewRunner(Options{Config: cfg})
	run := Run{Name: "r", Location: writeRun(t)}

	cmp, bench, err := r.ModeChoice(context.Background(), []Run{run}, 0)
	if err != nil {
		t.Fatalf("ModeChoice: %v", err)
	}
	if bench["car"] != 40 {
		t.Errorf("benchmark = %v", bench)
	}
	if cmp.Diff["r"]["car"] != 10 || cmp.Percent["r"]["car"] != 25 {
		t.Errorf("car diff=%v pct=%v", cmp.Diff["r"]["car"], cmp.Percent["r"]["car"])
	}
}

func TestRunner_ModeChoiceNoBenchmark(t *testing.T) {
	r := NewRunner(Options{Config: config.Default()})
	_, _, err := r.ModeChoice(context.Background(), nil, 0)
	if !bferrors.IsCode(err, bferrors.CodeValidationFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestRunner_MissingIteration(t *testing.T) {
	run := Run{Name: "r", Location: writeRun(t)}
	r := NewRunner(Options{Config: config.Default()})
	_, err := r.Trips(context.Background(), run, 5)
	if !bferrors.IsCode(err, bferrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file not found", err)
	}
}

func TestRunner_ModeChoiceSplitWalk(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.SplitWalk = true
	cfg.Reference.BenchmarkShares = map[string]float64{"walk": 20, "walk_real": 10, "walk_fake": 10}
	r := NewRunner(Options{Config: cfg})
	run := Run{Name: "r", Location: writeRun(t)}

	cmp, _, err := r.ModeChoice(context.Background(), []Run{run}, 0)
	if err != nil {
		t.Fatalf("ModeChoice: %v", err)
	}
	// the only walker is real, so the whole walk share moves to walk_real
	if got := cmp.Shares[0].Shares; got["walk_real"] != 20 || got["walk_fake"] != 0 || got["walk"] != 20 {
		t.Errorf("shares = %v", got)
	}
	if cmp.Diff["r"]["walk_real"] != 10 || cmp.Diff["r"]["walk_fake"] != -10 {
		t.Errorf("diff = %v", cmp.Diff["r"])
	}

	cfg.Analysis.SplitWalk = false
	plain, _, err := NewRunner(Options{Config: cfg}).ModeChoice(context.Background(), []Run{run}, 0)
	if err != nil {
		t.Fatalf("ModeChoice: %v", err)
	}
	if _, ok := plain.Shares[0].Shares["walk_real"]; ok {
		t.Error("walk split without split_walk")
	}
}

func TestRunner_TripsKeepTraversalWithBadLinks(t *testing.T) {
	events := strings.Replace(runEvents, `700,100,220,1,3,,`, `700,100,220,1,"3,x",,`, 1)
	run := Run{Name: "r", Location: writeRunEvents(t, events)}
	r := NewRunner(Options{Config: config.Default()})

	out, err := r.Trips(context.Background(), run, 0)
	if err != nil {
		t.Fatalf("Trips: %v", err)
	}
	if got := strings.Join(out.Tables[0].Rows[0], ","); got != "p1,1200,0,0" {
		t.Errorf("distances = %s, want the 700m segment kept", got)
	}

	cfg := config.Default()
	cfg.Analysis.ErrorPolicy = "strict"
	if _, err := NewRunner(Options{Config: cfg}).Ridership(context.Background(), run, 0); !bferrors.IsCode(err, bferrors.CodeInvalidFormat) {
		t.Errorf("strict ridership err = %v, want the malformed links reported", err)
	}
}

func TestRunner_Parking(t *testing.T) {
	loc := writeRun(t)
	writeFile(t, loc, "ITERS/it.0/0.parkingStats.csv",
		"timeBin,TAZ,parkingType\n0,default,Public\n3600,default,Public\n0,12,Public\n0,emergency,Public\n")
	r := testRunner(t, false)

	out, err := r.Parking(context.Background(), Run{Name: "r", Location: loc}, 0)
	if err != nil {
		t.Fatalf("Parking: %v", err)
	}
	rows := out.Tables[0].Rows
	if len(rows) != 2 || strings.Join(rows[0], ",") != "default,2" || strings.Join(rows[1], ",") != "emergency,1" {
		t.Errorf("rows = %v", rows)
	}

	if _, err := r.Parking(context.Background(), Run{Name: "r", Location: loc}, 3); !bferrors.IsCode(err, bferrors.CodeFileNotFound) {
		t.Errorf("missing iteration err = %v", err)
	}
}

const activityEvents = `person,type,time,actType
a,actend,28800,Home
a,actstart,64800,Home
b,actend,21600,Home
b,actstart,72000,Home
b,actend,75600,Work
`

func TestRunner_TimeAtHome(t *testing.T) {
	cfg := config.Default()
	cfg.Reference.Population = 3
	r := NewRunner(Options{Config: cfg})
	runs := []Run{
		{Name: "base", Location: writeRunEvents(t, activityEvents)},
		{Name: "same", Location: writeRunEvents(t, activityEvents)},
	}

	outs, err := r.TimeAtHomeComparison(context.Background(), runs, 0)
	if err != nil {
		t.Fatalf("TimeAtHomeComparison: %v", err)
	}
	if len(outs) != 3 || !outs[2].Combined {
		t.Fatalf("outputs = %d", len(outs))
	}
	// a: 14h, b: 10h, one person without events: 24h
	if got := strings.Join(outs[0].Tables[0].Rows[0], ","); got != "3,2,14,16" {
		t.Errorf("summary = %s", got)
	}
	if got := strings.Join(outs[2].Tables[0].Rows[1], ","); got != "same,14,1" {
		t.Errorf("comparison = %s", got)
	}
}

func TestRunner_BeamLog(t *testing.T) {
	loc := writeRun(t)
	writeFile(t, loc, "beamLog.out", "INFO start\n"+
		"WARN r5.streets.StreetLayer - Way 1 has 1 nodes, skipping.\n"+
		"ERROR something broke\n")
	cfg := config.Default()
	cfg.Analysis.LogExpected = []string{`.*something broke`}
	r := NewRunner(Options{Config: cfg})

	out, err := r.BeamLog(context.Background(), Run{Name: "r", Location: loc})
	if err != nil {
		t.Fatalf("BeamLog: %v", err)
	}
	if out.Issues != 0 || out.Tables[1].Len() != 0 {
		t.Errorf("unexpected lines = %d %v", out.Issues, out.Tables[1].Rows)
	}
	expected := out.Tables[0]
	if last := expected.Rows[expected.Len()-1]; last[0] != `.*something broke` || last[1] != "1" {
		t.Errorf("custom pattern row = %v", last)
	}
}

func writePassengers(t *testing.T, run, subway, bus, rail, car string) {
	t.Helper()
	for name, content := range map[string]string{
		"passengerPerTripSubway.csv": subway,
		"passengerPerTripBus.csv":    bus,
		"passengerPerTripRail.csv":   rail,
		"passengerPerTripCar.csv":    car,
	} {
		writeFile(t, run, "ITERS/it.0/0."+name, content)
	}
}

func TestRunner_ModeRidershipChange(t *testing.T) {
	base := Run{Name: "base", Location: writeRun(t)}
	run := Run{Name: "r", Location: writeRun(t)}
	writePassengers(t, base.Location, "hours,0,1\n0,5,10\n", "hours,0,2\n0,1,5\n", "hours,1\n0,10\n", "hours,0,1\n0,10,10\n")
	writePassengers(t, run.Location, "hours,0,1\n0,5,5\n", "hours,0,2\n0,1,5\n", "hours,1\n0,5\n", "hours,0,1\n0,10,12\n")

	cfg := config.Default()
	cfg.Reference.RidershipBaselines = []config.RidershipBaseline{{Name: "ref", Subway: -60, Bus: -10, Rail: -50, Car: 0, Transit: -40}}
	r := NewRunner(Options{Config: cfg})

	out, err := r.ModeRidershipChange(context.Background(), base, []Run{run}, 0, "ref")
	if err != nil {
		t.Fatalf("ModeRidershipChange: %v", err)
	}
	change := out.Tables[0]
	if change.Len() != 2 || !strings.HasPrefix(strings.Join(change.Rows[0], ","), "r,-50,0,-50,10,-33.33") {
		t.Errorf("change = %v", change.Rows)
	}
	if strings.Join(change.Rows[1], ",") != "ref,-60,-10,-50,0,-40" {
		t.Errorf("baseline row = %v", change.Rows[1])
	}
	if vs := out.Tables[1]; vs.Name != "ridership_mode_vs_baseline" || !strings.HasPrefix(strings.Join(vs.Rows[0], ","), "r,10,10,0,10,6.66") {
		t.Errorf("versus = %v", vs.Rows)
	}

	if _, err := r.ModeRidershipChange(context.Background(), base, []Run{run}, 0, "nope"); !bferrors.IsCode(err, bferrors.CodeValidationFailed) {
		t.Errorf("unknown baseline err = %v", err)
	}
}
