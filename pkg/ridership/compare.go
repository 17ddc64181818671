package ridership

import (
	"math"
	"strconv"

	"github.com/beamflow/beamflow/pkg/storage/table"
)

// Compare lines up a run's ridership table against a base run's, by name.
// change_percent is (run - base) / base * 100, empty when base is zero.
// Names present in only one table count as zero in the other.
func Compare(base, run *table.Table) *table.Table {
	out := table.New("ridership_change", "name", "base", "run", "change_percent")

	baseCounts, order := countsByName(base, nil)
	runCounts, order := countsByName(run, order)

	for _, name := range order {
		b, r := baseCounts[name], runCounts[name]
		change := math.NaN()
		if b != 0 {
			change = (r - b) / b * 100
		}
		out.Append(name, table.FormatFloat(b), table.FormatFloat(r), table.FormatFloat(change))
	}
	return out
}

// countsByName reads name,count rows, appending unseen names to order.
func countsByName(t *table.Table, order []string) (map[string]float64, []string) {
	counts := make(map[string]float64)
	if t == nil {
		return counts, order
	}
	seen := make(map[string]bool, len(order))
	for _, n := range order {
		seen[n] = true
	}
	nameCol, countCol := t.Column("name"), t.Column("count")
	if nameCol < 0 || countCol < 0 {
		return counts, order
	}
	for _, row := range t.Rows {
		v, err := strconv.ParseFloat(row[countCol], 64)
		if err != nil {
			continue
		}
		name := row[nameCol]
		counts[name] += v
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	return counts, order
}
