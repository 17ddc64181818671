// Package engine runs the trip reconstruction aggregation inside DuckDB,
// reading the events file in place instead of decoding it row by row.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/beamflow/beamflow/internal/model"
	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/trips"
)

// sep joins aggregated values; ids in simulation output never contain it.
const sep = "|"

// Engine executes SQL queries using DuckDB.
type Engine struct {
	db      *sql.DB
	threads int
}

// NewEngine creates an in-memory DuckDB engine.
func NewEngine() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeQueryInit, "initialize DuckDB")
	}

	e := NewEngineWithDB(db)
	if _, err := e.db.Exec(fmt.Sprintf("SET threads=%d", e.threads)); err != nil {
		db.Close()
		return nil, bferrors.Wrap(err, bferrors.CodeQueryInit, "configure DuckDB")
	}
	return e, nil
}

// NewEngineWithDB creates an engine with an existing connection.
func NewEngineWithDB(db *sql.DB) *Engine {
	return &Engine{db: db, threads: runtime.NumCPU()}
}

// Close closes the engine.
func (e *Engine) Close() error {
	return e.db.Close()
}

// RegisterEvents exposes an events CSV (optionally gzipped) as a view with
// every column read as text.
func (e *Engine) RegisterEvents(ctx context.Context, name, path string) error {
	query := fmt.Sprintf(
		"CREATE OR REPLACE VIEW %s AS SELECT * FROM read_csv_auto('%s', header=true, all_varchar=true)",
		quoteIdent(name), strings.ReplaceAll(path, "'", "''"))
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return bferrors.Wrap(err, bferrors.CodeQuery, "register events").With("path", path)
	}
	return nil
}

// transitFilter renders the CTEs selecting transit vehicles and their drivers.
func transitFilter(view string, transit []string) (string, []any) {
	marks := make([]string, len(transit))
	args := make([]any, len(transit))
	for i, t := range transit {
		marks[i] = "?"
		args[i] = t
	}
	cte := fmt.Sprintf(`WITH pt AS (
	SELECT vehicle, driver FROM %s
	WHERE "type" = 'PathTraversal' AND "vehicleType" IN (%s)
),
vehicles AS (SELECT DISTINCT vehicle FROM pt),
drivers AS (SELECT DISTINCT driver FROM pt WHERE driver IS NOT NULL)
`, quoteIdent(view), strings.Join(marks, ", "))
	return cte, args
}

// PersonSequences returns every non-driver's transit boardings, ordered
// by time with file order breaking ties.
func (e *Engine) PersonSequences(ctx context.Context, view string, transit []string) ([]trips.Sequence, error) {
	cte, args := transitFilter(view, transit)
	query := cte + fmt.Sprintf(`SELECT person,
	string_agg("type", '%[2]s' ORDER BY t, rn),
	string_agg("time", '%[2]s' ORDER BY t, rn),
	string_agg(vehicle, '%[2]s' ORDER BY t, rn)
FROM (
	SELECT person, "type", "time", TRY_CAST("time" AS DOUBLE) AS t, vehicle, row_number() OVER () AS rn
	FROM %[1]s
	WHERE "type" IN ('PersonEntersVehicle', 'PersonLeavesVehicle')
	  AND vehicle IN (SELECT vehicle FROM vehicles)
	  AND person NOT IN (SELECT driver FROM drivers)
)
GROUP BY person
ORDER BY person`, quoteIdent(view), sep)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeQuery, "query person sequences")
	}
	defer rows.Close()

	var seqs []trips.Sequence
	for rows.Next() {
		var person, kinds, times, vehicles sql.NullString
		if err := rows.Scan(&person, &kinds, &times, &vehicles); err != nil {
			return nil, bferrors.Wrap(err, bferrors.CodeQuery, "scan person sequence")
		}
		seqs = append(seqs, sequence(person.String, kinds.String, times.String, vehicles.String))
	}
	if err := rows.Err(); err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeQuery, "read person sequences")
	}
	return seqs, nil
}

// sequence splits aggregated columns. Aggregation skips NULL cells, so an
// empty cell shows up as a column length mismatch.
func sequence(person, kinds, times, vehicles string) trips.Sequence {
	rawTimes := split(times)
	parsed := make([]float64, len(rawTimes))
	for i, s := range rawTimes {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return trips.Sequence{Person: person, Err: bferrors.InvalidNumber("time", s, 0).With("person", person)}
		}
		parsed[i] = v
	}
	return trips.SequenceFromColumns(person, split(kinds), parsed, split(vehicles))
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

// PathTraversals returns the path traversal rows of transit vehicles.
func (e *Engine) PathTraversals(ctx context.Context, view string, transit []string) ([]model.Event, error) {
	marks := make([]string, len(transit))
	args := make([]any, len(transit))
	for i, t := range transit {
		marks[i] = "?"
		args[i] = t
	}
	query := fmt.Sprintf(`SELECT vehicle, "vehicleType", driver, "time", length, "departureTime", "arrivalTime"
FROM %s
WHERE "type" = 'PathTraversal' AND "vehicleType" IN (%s)`, quoteIdent(view), strings.Join(marks, ", "))

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeQuery, "query path traversals")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var vehicle, vehicleType, driver, tm, length, dep, arr sql.NullString
		if err := rows.Scan(&vehicle, &vehicleType, &driver, &tm, &length, &dep, &arr); err != nil {
			return nil, bferrors.Wrap(err, bferrors.CodeQuery, "scan path traversal")
		}
		out = append(out, model.Event{
			Kind:          model.KindPathTraversal,
			Vehicle:       vehicle.String,
			VehicleType:   vehicleType.String,
			Driver:        driver.String,
			Time:          number(tm),
			Length:        number(length),
			DepartureTime: number(dep),
			ArrivalTime:   number(arr),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeQuery, "read path traversals")
	}
	return out, nil
}

// number parses a text cell; NULL and unparsable cells are absent.
func number(s sql.NullString) float64 {
	if !s.Valid {
		return model.Missing()
	}
	v, err := strconv.ParseFloat(s.String, 64)
	if err != nil {
		return model.Missing()
	}
	return v
}

// Stats describes one Reconstruct call.
type Stats struct {
	PathTraversals int
	Persons        int
	Duration       time.Duration
}

// Reconstruct runs the whole batch over the events file at path.
func (e *Engine) Reconstruct(ctx context.Context, path string, transit trips.TransitSet, opts ...trips.Option) (*trips.Result, Stats, error) {
	start := time.Now()
	const view = "events"
	if err := e.RegisterEvents(ctx, view, path); err != nil {
		return nil, Stats{}, err
	}
	modes := transit.Modes()

	pts, err := e.PathTraversals(ctx, view, modes)
	if err != nil {
		return nil, Stats{}, err
	}
	seqs, err := e.PersonSequences(ctx, view, modes)
	if err != nil {
		return nil, Stats{}, err
	}

	res := trips.ReconstructSequences(trips.BuildSchedules(pts), modes, seqs, opts...)
	return res, Stats{PathTraversals: len(pts), Persons: len(seqs), Duration: time.Since(start)}, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
