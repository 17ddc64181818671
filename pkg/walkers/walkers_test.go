package walkers

import (
	"math"
	"testing"

	"github.com/beamflow/beamflow/internal/model"
)

func TestIsReal(t *testing.T) {
	tests := []struct {
		name         string
		length       float64
		alternatives string
		want         bool
	}{
		{"short walk", 500, "WALK", true},
		{"long walk only option", 3000, "WALK", false},
		{"long walk missing alternatives", 3000, "", false},
		{"long walk literal NaN", 3000, "NaN", false},
		{"long walk with options", 3000, "WALK:CAR", true},
		{"long walk repeated walk", 3000, "WALK:WALK", false},
		{"unknown length", math.NaN(), "WALK", false},
		{"unknown length with options", math.NaN(), "BIKE:WALK", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsReal(tt.length, tt.alternatives, DefaultThreshold); got != tt.want {
				t.Errorf("IsReal(%v, %q) = %v, want %v", tt.length, tt.alternatives, got, tt.want)
			}
		})
	}
}

func choice(mode string, length float64, alts string) model.Event {
	return model.Event{Kind: model.KindModeChoice, Mode: mode, Length: length, AvailableAlternatives: alts}
}

func TestCount(t *testing.T) {
	events := []model.Event{
		choice("walk", 100, "WALK"),
		choice("walk", 5000, "WALK"),
		choice("walk", 5000, "CAR:WALK"),
		choice("car", 5000, "CAR:WALK"),
		choice("walk_transit", 5000, ""),
		{Kind: model.KindReplanning},
		{Kind: model.KindPathTraversal},
	}

	s := Count(events, DefaultThreshold)
	if s.Real != 2 || s.Fake != 1 {
		t.Errorf("real=%d fake=%d, want 2 and 1", s.Real, s.Fake)
	}
	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.RealRatio() != 0.5 || s.FakeRatio() != 0.25 {
		t.Errorf("ratios = %v, %v", s.RealRatio(), s.FakeRatio())
	}

	back, ok := FromTable(s.Table())
	if !ok || back != s {
		t.Errorf("FromTable = %+v, %v; want %+v", back, ok, s)
	}
}

func TestSummary_ZeroTotal(t *testing.T) {
	s := Summary{}
	if !math.IsNaN(s.RealRatio()) {
		t.Errorf("RealRatio = %v, want NaN", s.RealRatio())
	}
	if row := s.Table().Rows[0]; row[1] != "" {
		t.Errorf("ratio cell = %q, want empty", row[1])
	}
}
