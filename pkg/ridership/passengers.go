package ridership

import (
	"math"
	"strconv"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// PassengerFiles are the passengers-per-trip histograms of an iteration.
const (
	PassengerFileSubway = "passengerPerTripSubway.csv"
	PassengerFileBus    = "passengerPerTripBus.csv"
	PassengerFileRail   = "passengerPerTripRail.csv"
	PassengerFileCar    = "passengerPerTripCar.csv"
)

// hoursColumn labels the rows of a passengers-per-trip histogram.
const hoursColumn = "hours"

// bucketPassengers returns the passengers one trip of a histogram bucket
// stands for: the bucket number, the midpoint of a "lo-hi" range, and 1
// for the empty-vehicle bucket "0".
func bucketPassengers(bucket string) (int, error) {
	if bucket == "0" {
		return 1, nil
	}
	if lo, hi, ok := strings.Cut(bucket, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return 0, err
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, err
		}
		return (a + b) / 2, nil
	}
	return strconv.Atoi(strings.TrimSpace(bucket))
}

// PassengerTotal sums a passengers-per-trip histogram: trips of each bucket
// times the bucket's passengers. The empty-vehicle bucket is skipped when
// skipEmpty is set. Empty cells count as zero.
func PassengerTotal(hist *table.Table, skipEmpty bool) (float64, error) {
	var total float64
	for col, name := range hist.Columns {
		if name == hoursColumn || (skipEmpty && name == "0") {
			continue
		}
		mult, err := bucketPassengers(name)
		if err != nil {
			return 0, bferrors.New(bferrors.CodeInvalidFormat, "unknown passenger bucket").
				With("table", hist.Name).With("column", name)
		}
		for row := range hist.Rows {
			v, err := hist.Float(row, col)
			if err != nil {
				return 0, bferrors.InvalidNumber(name, hist.Rows[row][col], int64(row+2))
			}
			if !math.IsNaN(v) {
				total += v * float64(mult)
			}
		}
	}
	return total, nil
}

// ModeTotals are passenger totals per mode of one iteration.
type ModeTotals struct {
	Subway float64
	Bus    float64
	Rail   float64
	Car    float64
}

// Transit sums the transit modes.
func (m ModeTotals) Transit() float64 { return m.Subway + m.Bus + m.Rail }

var totalsColumns = []string{"subway", "bus", "rail", "car"}

// Table renders the totals as a single row.
func (m ModeTotals) Table() *table.Table {
	t := table.New("passenger_totals", totalsColumns...)
	t.Append(table.FormatFloat(m.Subway), table.FormatFloat(m.Bus), table.FormatFloat(m.Rail), table.FormatFloat(m.Car))
	return t
}

// TotalsFromTable reads totals back from their table form.
func TotalsFromTable(t *table.Table) (ModeTotals, error) {
	if t == nil || t.Len() == 0 {
		return ModeTotals{}, bferrors.New(bferrors.CodeInvalidFormat, "passenger totals table is empty")
	}
	vals := make([]float64, len(totalsColumns))
	for i, name := range totalsColumns {
		col := t.Column(name)
		if col < 0 {
			return ModeTotals{}, bferrors.MissingColumn(name, t.Columns)
		}
		v, err := t.Float(0, col)
		if err != nil {
			return ModeTotals{}, bferrors.InvalidNumber(name, t.Rows[0][col], 1)
		}
		vals[i] = v
	}
	return ModeTotals{Subway: vals[0], Bus: vals[1], Rail: vals[2], Car: vals[3]}, nil
}

// ModeChange is the percentage change of passengers per mode, for a run
// against a base run or as a reference figure.
type ModeChange struct {
	Name    string
	Subway  float64
	Bus     float64
	Rail    float64
	Car     float64
	Transit float64
}

func percentChange(base, run float64) float64 {
	if base == 0 {
		return math.NaN()
	}
	return (run - base) / base * 100
}

// ChangeOf computes run's change against base, NaN where base is zero.
func ChangeOf(name string, base, run ModeTotals) ModeChange {
	return ModeChange{
		Name:    name,
		Subway:  percentChange(base.Subway, run.Subway),
		Bus:     percentChange(base.Bus, run.Bus),
		Rail:    percentChange(base.Rail, run.Rail),
		Car:     percentChange(base.Car, run.Car),
		Transit: percentChange(base.Transit(), run.Transit()),
	}
}

// Minus subtracts ref from c mode by mode, keeping c's name.
func (c ModeChange) Minus(ref ModeChange) ModeChange {
	return ModeChange{
		Name:    c.Name,
		Subway:  c.Subway - ref.Subway,
		Bus:     c.Bus - ref.Bus,
		Rail:    c.Rail - ref.Rail,
		Car:     c.Car - ref.Car,
		Transit: c.Transit - ref.Transit,
	}
}

// ModeChangeTable renders changes in percent, one row each.
func ModeChangeTable(name string, rows []ModeChange) *table.Table {
	t := table.New(name, "name", "subway", "bus", "rail", "car", "transit")
	for _, r := range rows {
		t.Append(r.Name,
			table.FormatFloat(r.Subway),
			table.FormatFloat(r.Bus),
			table.FormatFloat(r.Rail),
			table.FormatFloat(r.Car),
			table.FormatFloat(r.Transit))
	}
	return t
}
