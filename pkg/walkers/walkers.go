// Package walkers separates real walk mode choices from fallback walks,
// chosen only because no other mode was available.
package walkers

import (
	"math"
	"strconv"
	"strings"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// DefaultThreshold is the walk length in meters below which a walk is
// always considered real.
const DefaultThreshold = 2000

// missingAlternatives stands in for an empty alternatives cell.
const missingAlternatives = "NaN"

// Summary counts real and fake walkers.
type Summary struct {
	Real  int
	Fake  int
	Total int
}

// RealRatio is Real over Total, NaN when Total is not positive.
func (s Summary) RealRatio() float64 { return ratio(s.Real, s.Total) }

// FakeRatio is Fake over Total, NaN when Total is not positive.
func (s Summary) FakeRatio() float64 { return ratio(s.Fake, s.Total) }

func ratio(n, total int) float64 {
	if total <= 0 {
		return math.NaN()
	}
	return float64(n) / float64(total)
}

// IsReal classifies one walk mode choice.
func IsReal(length float64, alternatives string, threshold float64) bool {
	if length < threshold {
		return true
	}
	if alternatives == "" {
		alternatives = missingAlternatives
	}
	set := make(map[string]struct{})
	for _, a := range strings.Split(alternatives, ":") {
		set[a] = struct{}{}
	}
	if len(set) == 0 {
		return false
	}
	if len(set) == 1 {
		_, walk := set["WALK"]
		_, missing := set[missingAlternatives]
		if walk || missing {
			return false
		}
	}
	return true
}

// Count classifies the walk choices of an iteration. Total is the number
// of mode choices minus the number of replannings, since every replanning
// is followed by a repeated choice.
func Count(events []model.Event, threshold float64) Summary {
	var s Summary
	choices, replannings := 0, 0
	for i := range events {
		e := &events[i]
		switch e.Kind {
		case model.KindReplanning:
			replannings++
		case model.KindModeChoice:
			choices++
			if e.Mode != "walk" {
				continue
			}
			if IsReal(e.Length, e.AvailableAlternatives, threshold) {
				s.Real++
			} else {
				s.Fake++
			}
		}
	}
	s.Total = choices - replannings
	return s
}

// Table renders the summary as a single row.
func (s Summary) Table() *table.Table {
	t := table.New("fake_real_walkers",
		"real_walkers", "real_walkers_ratio", "fake_walkers", "fake_walkers_ratio", "total_modechoice")
	t.Append(
		strconv.Itoa(s.Real),
		table.FormatFloat(s.RealRatio()),
		strconv.Itoa(s.Fake),
		table.FormatFloat(s.FakeRatio()),
		strconv.Itoa(s.Total),
	)
	return t
}

// FromTable reads a summary back from its table form.
func FromTable(t *table.Table) (Summary, bool) {
	if t == nil || t.Len() == 0 {
		return Summary{}, false
	}
	get := func(name string) int {
		i := t.Column(name)
		if i < 0 {
			return 0
		}
		v, err := t.Float(0, i)
		if err != nil || math.IsNaN(v) {
			return 0
		}
		return int(v)
	}
	return Summary{Real: get("real_walkers"), Fake: get("fake_walkers"), Total: get("total_modechoice")}, true
}
