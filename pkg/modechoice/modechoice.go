// Package modechoice compares realized mode shares of runs against a
// benchmark run.
package modechoice

import (
	"math"
	"sort"

	"github.com/beamflow/beamflow/pkg/parser"
	"github.com/beamflow/beamflow/pkg/storage/table"
	"github.com/beamflow/beamflow/pkg/walkers"
)

// Run is one named set of realized mode shares.
type Run struct {
	Name   string
	Shares parser.ModeShares
}

// Comparison holds the difference of each run against the benchmark.
type Comparison struct {
	Modes   []string
	Runs    []string
	Diff    map[string]map[string]float64
	Percent map[string]map[string]float64

	// Shares are the compared runs as given.
	Shares []Run
}

// Compare subtracts the benchmark from every run. Modes missing on either
// side count as zero. Percent is diff / benchmark * 100, and NaN where the
// benchmark share is zero.
func Compare(benchmark parser.ModeShares, runs []Run) *Comparison {
	c := &Comparison{
		Diff:    make(map[string]map[string]float64, len(runs)),
		Percent: make(map[string]map[string]float64, len(runs)),
		Shares:  runs,
	}

	seen := make(map[string]struct{})
	for m := range benchmark {
		seen[m] = struct{}{}
	}
	for _, r := range runs {
		for m := range r.Shares {
			seen[m] = struct{}{}
		}
	}
	for m := range seen {
		c.Modes = append(c.Modes, m)
	}
	sort.Strings(c.Modes)

	for _, r := range runs {
		c.Runs = append(c.Runs, r.Name)
		diff := make(map[string]float64, len(c.Modes))
		pct := make(map[string]float64, len(c.Modes))
		for _, m := range c.Modes {
			b := benchmark[m]
			d := r.Shares[m] - b
			diff[m] = d
			if b == 0 {
				pct[m] = math.NaN()
			} else {
				pct[m] = d / b * 100
			}
		}
		c.Diff[r.Name] = diff
		c.Percent[r.Name] = pct
	}
	return c
}

// DiffTable renders absolute differences, one row per run.
func (c *Comparison) DiffTable() *table.Table {
	return c.render("modechoice_diff", c.Diff)
}

// PercentTable renders percentage differences, one row per run.
func (c *Comparison) PercentTable() *table.Table {
	return c.render("modechoice_percent", c.Percent)
}

func (c *Comparison) render(name string, values map[string]map[string]float64) *table.Table {
	t := table.New(name, append([]string{"run"}, c.Modes...)...)
	for _, run := range c.Runs {
		row := make([]string, 0, len(c.Modes)+1)
		row = append(row, run)
		for _, m := range c.Modes {
			row = append(row, table.FormatFloat(values[run][m]))
		}
		t.Append(row...)
	}
	return t
}

// SharesTable renders raw mode shares with the benchmark first. Columns
// cover the modes of the benchmark and of every run.
func SharesTable(benchmark parser.ModeShares, runs []Run) *table.Table {
	seen := make(map[string]struct{}, len(benchmark))
	for m := range benchmark {
		seen[m] = struct{}{}
	}
	for _, r := range runs {
		for m := range r.Shares {
			seen[m] = struct{}{}
		}
	}
	modes := make([]string, 0, len(seen))
	for m := range seen {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	t := table.New("modechoice", append([]string{"run"}, modes...)...)
	add := func(name string, s parser.ModeShares) {
		row := []string{name}
		for _, m := range modes {
			row = append(row, table.FormatFloat(s[m]))
		}
		t.Append(row...)
	}
	add("benchmark", benchmark)
	for _, r := range runs {
		add(r.Name, r.Shares)
	}
	return t
}

// Modes added by SplitWalk.
const (
	ModeWalkReal = "walk_real"
	ModeWalkFake = "walk_fake"
)

// SplitWalk returns a copy of shares with the walk share divided into
// walk_real and walk_fake in the proportion of the walkers summary. Both
// are zero when the summary has no walkers.
func SplitWalk(shares parser.ModeShares, w walkers.Summary) parser.ModeShares {
	out := make(parser.ModeShares, len(shares)+2)
	for m, v := range shares {
		out[m] = v
	}
	out[ModeWalkReal], out[ModeWalkFake] = 0, 0

	realRatio, fakeRatio := w.RealRatio(), w.FakeRatio()
	total := realRatio + fakeRatio
	if math.IsNaN(total) || total <= 0 {
		return out
	}
	unit := shares["walk"] / total
	out[ModeWalkReal] = unit * realRatio
	out[ModeWalkFake] = unit * fakeRatio
	return out
}
