package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFiles_Layering(t *testing.T) {
	dir := t.TempDir()
	user := writeFile(t, dir, "user.yaml", `
analysis:
  walker_threshold: 1500
cache:
  backend: redis
  redis_addr: localhost:6379
  redis_ttl: 1h
`)
	project := writeFile(t, dir, "project.yaml", `
analysis:
  transit_types: [BUS-DEFAULT]
reference:
  link_groups:
    tunnel: [1, 2, 3]
`)

	m := NewManager()
	if err := m.LoadFiles(filepath.Join(dir, "missing.yaml"), user, project); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	cfg := m.Get()

	if cfg.Analysis.WalkerThreshold != 1500 {
		t.Errorf("WalkerThreshold = %v", cfg.Analysis.WalkerThreshold)
	}
	if !reflect.DeepEqual(cfg.Analysis.TransitTypes, []string{"BUS-DEFAULT"}) {
		t.Errorf("TransitTypes = %v", cfg.Analysis.TransitTypes)
	}
	if cfg.Analysis.SubwayType != "SUBWAY-DEFAULT" {
		t.Errorf("SubwayType lost its default: %q", cfg.Analysis.SubwayType)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisTTL != time.Hour {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if got := cfg.Reference.LinkGroups["tunnel"]; !reflect.DeepEqual(got, []uint32{1, 2, 3}) {
		t.Errorf("link group = %v", got)
	}
	if len(m.GetPaths()) != 2 {
		t.Errorf("paths = %v", m.GetPaths())
	}
}

func TestLoadFiles_Env(t *testing.T) {
	t.Setenv("BEAMFLOW_TRANSIT_TYPES", "BUS-DEFAULT, FERRY-DEFAULT")
	t.Setenv("BEAMFLOW_LOG_LEVEL", "debug")
	t.Setenv("BEAMFLOW_CACHE", "false")
	t.Setenv("BEAMFLOW_SPLIT_WALK", "true")

	m := NewManager()
	if err := m.LoadFiles(); err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	cfg := m.Get()
	if !reflect.DeepEqual(cfg.Analysis.TransitTypes, []string{"BUS-DEFAULT", "FERRY-DEFAULT"}) {
		t.Errorf("TransitTypes = %v", cfg.Analysis.TransitTypes)
	}
	if cfg.Logging.Level != "debug" || cfg.Cache.Enabled {
		t.Errorf("logging=%+v cache enabled=%v", cfg.Logging, cfg.Cache.Enabled)
	}
	if !cfg.Analysis.SplitWalk {
		t.Error("SplitWalk not set from env")
	}
}

func TestDefault_RidershipBaselines(t *testing.T) {
	cfg := Default()
	got := cfg.Reference.RidershipBaselines
	if len(got) != len(MTABaselines) || got[0].Name != "09 2020 mta.info" {
		t.Fatalf("baselines = %+v", got)
	}
	got[0].Name = "changed"
	if MTABaselines[0].Name != "09 2020 mta.info" {
		t.Error("default baselines share storage with MTABaselines")
	}
	if cfg.Source.RetryAttempts != 4 || cfg.Source.BreakerFailures != 5 || cfg.Source.BreakerCooldown != 30*time.Second {
		t.Errorf("source retry defaults = %+v", cfg.Source)
	}
}

func TestLoadFiles_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		code bferrors.Code
	}{
		{"bad engine", "analysis:\n  engine: spark\n", bferrors.CodeValidationFailed},
		{"s3 cache without bucket", "cache:\n  backend: s3\n", bferrors.CodeValidationFailed},
		{"bad yaml", "analysis: [\n", bferrors.CodeInvalidFormat},
		{"unnamed baseline", "reference:\n  ridership_baselines:\n    - subway: -10\n", bferrors.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", tt.body)
			err := NewManager().LoadFiles(path)
			if !bferrors.IsCode(err, tt.code) {
				t.Errorf("err = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestLoadFiles_BadEnv(t *testing.T) {
	t.Setenv("BEAMFLOW_WALKER_THRESHOLD", "far")
	if err := NewManager().LoadFiles(); !bferrors.IsCode(err, bferrors.CodeValidationFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_ExplicitMissing(t *testing.T) {
	err := NewManager().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !bferrors.IsCode(err, bferrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file not found", err)
	}
}
