// Package activities derives time budgets from actstart and actend events.
package activities

import (
	"math"
	"sort"
	"strconv"

	"github.com/beamflow/beamflow/internal/model"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// HomeActivity is the actType of home activities.
const HomeActivity = "Home"

// DayHours is the length of the simulated day.
const DayHours = 24.0

// Summary describes time spent at home over a population.
type Summary struct {
	// Persons is the population size the statistics cover.
	Persons int
	// WithHome is the number of persons with at least one home event.
	WithHome int
	Median   float64
	Mean     float64
}

// HomeHours returns the hours each person with home events spent at home.
//
// Every person starts the day with 24 hours at home. Leaving home at t
// adds min(t, 24h); arriving at t subtracts min(t, 23.9h).
func HomeHours(events []model.Event) map[string]float64 {
	hours := make(map[string]float64)
	for i := range events {
		e := &events[i]
		if e.ActType != HomeActivity || e.Person == "" {
			continue
		}
		var v float64
		switch e.Kind {
		case model.KindActEnd:
			v = min(e.Time/3600, DayHours)
		case model.KindActStart:
			v = max(e.Time/-3600, -23.9)
		}
		hours[e.Person] += v
	}
	for p := range hours {
		hours[p] += DayHours
	}
	return hours
}

// TimeAtHome summarizes HomeHours over a population of persons. People
// without home events count as a full day at home. A population smaller
// than the number of people with home events is ignored.
func TimeAtHome(events []model.Event, persons int) Summary {
	hours := HomeHours(events)
	all := make([]float64, 0, max(persons, len(hours)))
	for _, h := range hours {
		all = append(all, h)
	}
	for i := len(hours); i < persons; i++ {
		all = append(all, DayHours)
	}
	return Summary{
		Persons:  len(all),
		WithHome: len(hours),
		Median:   median(all),
		Mean:     mean(all),
	}
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// Table renders the summary as a single row.
func (s Summary) Table() *table.Table {
	t := table.New("time_at_home", "persons", "home_persons", "median_hours", "mean_hours")
	t.Append(strconv.Itoa(s.Persons), strconv.Itoa(s.WithHome), table.FormatFloat(s.Median), table.FormatFloat(s.Mean))
	return t
}

// FromTable reads a summary back from its table form.
func FromTable(t *table.Table) (Summary, bool) {
	if t == nil || t.Len() == 0 {
		return Summary{}, false
	}
	num := func(name string) float64 {
		i := t.Column(name)
		if i < 0 {
			return math.NaN()
		}
		v, err := t.Float(0, i)
		if err != nil {
			return math.NaN()
		}
		return v
	}
	count := func(name string) int {
		if v := num(name); !math.IsNaN(v) {
			return int(v)
		}
		return 0
	}
	return Summary{
		Persons:  count("persons"),
		WithHome: count("home_persons"),
		Median:   num("median_hours"),
		Mean:     num("mean_hours"),
	}, true
}

// Named is the summary of one run.
type Named struct {
	Name    string
	Summary Summary
}

// CompareTable renders each run's median against the first run's.
func CompareTable(runs []Named) *table.Table {
	t := table.New("time_at_home_vs_first", "run", "median_hours", "ratio")
	if len(runs) == 0 {
		return t
	}
	baseline := runs[0].Summary.Median
	for _, r := range runs {
		ratio := math.NaN()
		if baseline != 0 {
			ratio = r.Summary.Median / baseline
		}
		t.Append(r.Name, table.FormatFloat(r.Summary.Median), table.FormatFloat(ratio))
	}
	return t
}
