package trips

import (
	"fmt"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// IssueKind classifies a non-fatal problem found during reconstruction.
type IssueKind uint8

const (
	IssueUnmatchedLeave IssueKind = iota
	IssueMismatchedVehicle
	IssueMissingSchedule
	IssueStructural
	IssueOverlappingBoarding
	numIssueKinds
)

func (k IssueKind) String() string {
	switch k {
	case IssueUnmatchedLeave:
		return "unmatched_leave"
	case IssueMismatchedVehicle:
		return "mismatched_vehicle"
	case IssueMissingSchedule:
		return "missing_schedule_lookup"
	case IssueStructural:
		return "structural_inconsistency"
	case IssueOverlappingBoarding:
		return "overlapping_boarding"
	default:
		return "unknown"
	}
}

func (k IssueKind) code() bferrors.Code {
	switch k {
	case IssueUnmatchedLeave, IssueMismatchedVehicle:
		return bferrors.CodeMalformedPairing
	case IssueMissingSchedule:
		return bferrors.CodeMissingScheduleLookup
	case IssueStructural:
		return bferrors.CodeStructuralInconsistency
	case IssueOverlappingBoarding:
		return bferrors.CodeOverlappingBoarding
	default:
		return bferrors.CodeUnknown
	}
}

// Issue is one recorded problem.
type Issue struct {
	Kind    IssueKind
	Person  string
	Vehicle string
	Time    float64
	Detail  string
}

// Err converts the issue to a coded error.
func (i Issue) Err() error {
	return bferrors.New(i.Kind.code(), i.Detail).
		With("kind", i.Kind.String()).
		With("person", i.Person).
		With("vehicle", i.Vehicle).
		With("time", i.Time)
}

func (i Issue) String() string {
	return fmt.Sprintf("%s person=%s vehicle=%s time=%g: %s", i.Kind, i.Person, i.Vehicle, i.Time, i.Detail)
}

// DefaultMaxSamples bounds the issues kept verbatim.
const DefaultMaxSamples = 100

// Diagnostics counts issues by kind and keeps the first few verbatim.
type Diagnostics struct {
	counts     [numIssueKinds]int
	Samples    []Issue
	MaxSamples int
}

// NewDiagnostics returns an empty collector.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{MaxSamples: DefaultMaxSamples}
}

// Record counts an issue.
func (d *Diagnostics) Record(issue Issue) {
	if d == nil {
		return
	}
	if issue.Kind < numIssueKinds {
		d.counts[issue.Kind]++
	}
	if len(d.Samples) < d.MaxSamples {
		d.Samples = append(d.Samples, issue)
	}
}

// Count returns how many issues of kind were recorded.
func (d *Diagnostics) Count(kind IssueKind) int {
	if d == nil || kind >= numIssueKinds {
		return 0
	}
	return d.counts[kind]
}

// Total returns the number of recorded issues.
func (d *Diagnostics) Total() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.counts {
		n += c
	}
	return n
}

// Counts returns non-zero counts keyed by kind name.
func (d *Diagnostics) Counts() map[string]int {
	out := make(map[string]int)
	if d == nil {
		return out
	}
	for k, c := range d.counts {
		if c > 0 {
			out[IssueKind(k).String()] = c
		}
	}
	return out
}

// Merge adds other into d.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if d == nil || other == nil {
		return
	}
	for k, c := range other.counts {
		d.counts[k] += c
	}
	for _, s := range other.Samples {
		if len(d.Samples) >= d.MaxSamples {
			break
		}
		d.Samples = append(d.Samples, s)
	}
}
