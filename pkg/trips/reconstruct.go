package trips

import (
	"log/slog"
	"sort"

	"github.com/beamflow/beamflow/internal/logging"
	"github.com/beamflow/beamflow/internal/model"
)

// ModeDistances holds one distance per known mode, in a fixed mode order.
type ModeDistances struct {
	Modes  []string
	Values []float64
}

// Get returns the distance for mode, or 0 if mode is unknown.
func (d ModeDistances) Get(mode string) float64 {
	for i, m := range d.Modes {
		if m == mode {
			return d.Values[i]
		}
	}
	return 0
}

// Total sums all modes.
func (d ModeDistances) Total() float64 {
	var sum float64
	for _, v := range d.Values {
		sum += v
	}
	return sum
}

// Map returns the distances keyed by mode.
func (d ModeDistances) Map() map[string]float64 {
	out := make(map[string]float64, len(d.Modes))
	for i, m := range d.Modes {
		out[m] = d.Values[i]
	}
	return out
}

// Reconstructor turns a person's boarding events into ride distances.
// It holds only read-only data and is safe to reuse.
type Reconstructor struct {
	schedules Schedules
	modes     []string
	modeIndex map[string]int
	logger    *slog.Logger
}

// NewReconstructor creates a reconstructor over schedules. modes fixes the
// output order; distances for other vehicle types are dropped.
func NewReconstructor(schedules Schedules, modes []string, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = logging.Discard()
	}
	idx := make(map[string]int, len(modes))
	for i, m := range modes {
		idx[m] = i
	}
	return &Reconstructor{
		schedules: schedules,
		modes:     append([]string(nil), modes...),
		modeIndex: idx,
		logger:    logger,
	}
}

// Modes returns the output mode order.
func (r *Reconstructor) Modes() []string {
	return r.modes
}

func (r *Reconstructor) zero() ModeDistances {
	return ModeDistances{Modes: r.modes, Values: make([]float64, len(r.modes))}
}

// Person scans one person's events in order and accumulates ride distances.
// Events other than enters and leaves are ignored. Problems are logged and
// recorded in diag; they never stop the scan.
func (r *Reconstructor) Person(person string, events []model.Event, diag *Diagnostics) ModeDistances {
	out := r.zero()
	var state RideState

	for i := range events {
		e := &events[i]
		switch e.Kind {
		case model.KindEntersVehicle:
			if prev, overwritten := state.Board(e.Vehicle, e.Time); overwritten {
				r.report(diag, Issue{
					Kind:    IssueOverlappingBoarding,
					Person:  person,
					Vehicle: prev.Vehicle,
					Time:    e.Time,
					Detail:  "entered " + e.Vehicle + " while aboard; keeping the newer ride",
				})
			}

		case model.KindLeavesVehicle:
			if state.Status == Idle {
				r.report(diag, Issue{
					Kind:    IssueUnmatchedLeave,
					Person:  person,
					Vehicle: e.Vehicle,
					Time:    e.Time,
					Detail:  "unmatched leave",
				})
				continue
			}

			ride := state.Alight()
			if ride.Vehicle != e.Vehicle {
				r.report(diag, Issue{
					Kind:    IssueMismatchedVehicle,
					Person:  person,
					Vehicle: e.Vehicle,
					Time:    e.Time,
					Detail:  "mismatched vehicle: aboard " + ride.Vehicle,
				})
				continue
			}

			r.accumulate(out, person, ride, e.Time, diag)
		}
	}
	return out
}

func (r *Reconstructor) accumulate(out ModeDistances, person string, ride RideState, exit float64, diag *Diagnostics) {
	schedule, ok := r.schedules[ride.Vehicle]
	if !ok {
		r.report(diag, Issue{
			Kind:    IssueMissingSchedule,
			Person:  person,
			Vehicle: ride.Vehicle,
			Time:    ride.Entry,
			Detail:  "no path traversals for vehicle",
		})
		return
	}

	from, ok := schedule.IndexOf(ride.Entry)
	if !ok {
		r.report(diag, Issue{
			Kind:    IssueMissingSchedule,
			Person:  person,
			Vehicle: ride.Vehicle,
			Time:    ride.Entry,
			Detail:  "no segment departs at entry time",
		})
		return
	}

	mode, known := r.modeIndex[schedule.VehicleType()]
	if !known {
		return
	}
	out.Values[mode] += schedule.RideLength(from, exit)
}

func (r *Reconstructor) report(diag *Diagnostics, issue Issue) {
	diag.Record(issue)
	r.logger.Warn(issue.Detail,
		slog.String("kind", issue.Kind.String()),
		slog.String("person", issue.Person),
		slog.String("vehicle", issue.Vehicle),
		slog.Float64("time", issue.Time),
	)
}

// Sequence is the ordered boarding history of one person. Err is set when
// the sequence could not be assembled; the person then reports zero distances.
type Sequence struct {
	Person string
	Events []model.Event
	Err    error
}

// Result is the outcome of a batch reconstruction.
type Result struct {
	Modes       []string
	Persons     []string
	Distances   map[string]ModeDistances
	Diagnostics *Diagnostics
}

// Totals sums distances over all persons.
func (res *Result) Totals() ModeDistances {
	out := ModeDistances{Modes: res.Modes, Values: make([]float64, len(res.Modes))}
	for _, d := range res.Distances {
		for i, v := range d.Values {
			out.Values[i] += v
		}
	}
	return out
}

// Sequences runs the reconstructor over prepared person sequences.
func (r *Reconstructor) Sequences(seqs []Sequence) *Result {
	res := &Result{
		Modes:       r.modes,
		Persons:     make([]string, 0, len(seqs)),
		Distances:   make(map[string]ModeDistances, len(seqs)),
		Diagnostics: NewDiagnostics(),
	}

	for _, seq := range seqs {
		if _, dup := res.Distances[seq.Person]; !dup {
			res.Persons = append(res.Persons, seq.Person)
		}
		if seq.Err != nil {
			r.report(res.Diagnostics, Issue{
				Kind:   IssueStructural,
				Person: seq.Person,
				Detail: seq.Err.Error(),
			})
			res.Distances[seq.Person] = r.zero()
			continue
		}
		res.Distances[seq.Person] = r.Person(seq.Person, seq.Events, res.Diagnostics)
	}

	sort.Strings(res.Persons)
	return res
}

// GroupByPerson splits boarding events into per-person sequences ordered by
// time. Events with equal times keep their input order.
func GroupByPerson(events []model.Event) []Sequence {
	index := make(map[string]int)
	var seqs []Sequence
	for i := range events {
		e := &events[i]
		if !e.IsBoarding() || e.Person == "" {
			continue
		}
		j, ok := index[e.Person]
		if !ok {
			j = len(seqs)
			index[e.Person] = j
			seqs = append(seqs, Sequence{Person: e.Person})
		}
		seqs[j].Events = append(seqs[j].Events, *e)
	}

	for i := range seqs {
		evs := seqs[i].Events
		sort.SliceStable(evs, func(a, b int) bool { return evs[a].Time < evs[b].Time })
	}
	return seqs
}
