// Package parking summarizes the parking stats of an iteration: how often
// agents had to fall back to default or emergency stalls, per zone.
package parking

import (
	"sort"
	"strconv"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// StatsFile is the per-iteration parking stats file name.
const StatsFile = "parkingStats.csv"

// Column names of the parking stats file.
const (
	ColTAZ     = "TAZ"
	ColTimeBin = "timeBin"
)

// FallbackMarkers identify fallback zones inside TAZ ids.
var FallbackMarkers = []string{"default", "emergency"}

// ZoneCount is the number of parking rows of one zone.
type ZoneCount struct {
	TAZ   string
	Count int
}

// IsFallback reports whether a TAZ id names a fallback zone.
func IsFallback(taz string) bool {
	for _, m := range FallbackMarkers {
		if strings.Contains(taz, m) {
			return true
		}
	}
	return false
}

// Fallbacks counts the rows of every fallback zone in a parking stats
// table, sorted by TAZ. Rows with an empty time bin are not counted.
func Fallbacks(stats *table.Table) ([]ZoneCount, error) {
	tazCol, binCol := stats.Column(ColTAZ), stats.Column(ColTimeBin)
	if tazCol < 0 {
		return nil, bferrors.MissingColumn(ColTAZ, stats.Columns)
	}
	if binCol < 0 {
		return nil, bferrors.MissingColumn(ColTimeBin, stats.Columns)
	}

	counts := make(map[string]int)
	for _, row := range stats.Rows {
		taz := row[tazCol]
		if !IsFallback(taz) {
			continue
		}
		if _, ok := counts[taz]; !ok {
			counts[taz] = 0
		}
		if strings.TrimSpace(row[binCol]) != "" {
			counts[taz]++
		}
	}

	out := make([]ZoneCount, 0, len(counts))
	for taz, n := range counts {
		out = append(out, ZoneCount{TAZ: taz, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TAZ < out[j].TAZ })
	return out, nil
}

// Table renders zone counts as TAZ,count rows.
func Table(counts []ZoneCount) *table.Table {
	t := table.New("parking_fallbacks", ColTAZ, "count")
	for _, c := range counts {
		t.Append(c.TAZ, strconv.Itoa(c.Count))
	}
	return t
}
