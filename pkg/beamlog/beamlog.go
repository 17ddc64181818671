// Package beamlog scans a run's beamLog.out, separating warnings every run
// produces from unexpected ones.
package beamlog

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

// File is the log file at the top of a run folder.
const File = "beamLog.out"

// DefaultExpected match messages that are known noise in simulation logs.
var DefaultExpected = []string{
	`.*StreetLayer - .* [0-9]*.*, skipping.*`,
	`.*OsmToMATSim - Could not.*. Ignoring it.`,
	`.*GeoUtilsImpl - .* Coordinate does not appear to be in WGS. No conversion will happen:.*`,
	`.*InfluxDbSimulationMetricCollector - There are enabled metrics, but InfluxDB is unavailable at.*`,
	`.*ClusterSystem-akka.*WARN.*PersonAgent.*didn't get nextActivity.*`,
	`.*ClusterSystem-akka.*WARN.*Person Actor.*attempted to reserve ride with agent Actor.*that was not found, message sent to dead letters.`,
	`.*ClusterSystem-akka.*ERROR.*PersonAgent - State:FinishingModeChoice PersonAgent:[0-9]*[ ]*Current tour vehicle is the same as the one being removed: [0-9]* - [0-9]*.*`,
}

// DefaultLevels mark a line as a warning or error.
var DefaultLevels = []string{"ERROR", "WARN"}

// DefaultKeywords are informational lines worth counting.
var DefaultKeywords = []string{"Total number of links", "Number of persons:"}

// Options configures a Scanner.
type Options struct {
	// Expected patterns are matched at the start of each line.
	Expected []string
	Levels   []string
	Keywords []string
	// MaxUnexpected caps the unexpected lines kept; 0 keeps none.
	MaxUnexpected int
}

// DefaultOptions returns the built-in patterns, keeping 200 unexpected lines.
func DefaultOptions() Options {
	return Options{
		Expected:      DefaultExpected,
		Levels:        DefaultLevels,
		Keywords:      DefaultKeywords,
		MaxUnexpected: 200,
	}
}

// Scanner classifies log lines.
type Scanner struct {
	opts     Options
	expected []*regexp.Regexp
}

// New compiles the expected patterns.
func New(opts Options) (*Scanner, error) {
	s := &Scanner{opts: opts}
	for _, p := range opts.Expected {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, bferrors.Wrap(err, bferrors.CodeValidationFailed, "invalid log pattern").With("pattern", p)
		}
		s.expected = append(s.expected, re)
	}
	return s, nil
}

// Count is the number of lines matching a pattern or keyword.
type Count struct {
	Pattern string
	Count   int
}

// Report is the result of scanning one log.
type Report struct {
	Lines    int
	Expected []Count
	Keywords []Count
	// Unexpected holds the first warning and error lines no expected
	// pattern matched; UnexpectedTotal counts all of them.
	Unexpected      []string
	UnexpectedTotal int
}

// Scan reads r line by line. A line matching any expected pattern is
// counted for each pattern it matches and is never unexpected.
func (s *Scanner) Scan(ctx context.Context, r io.Reader) (*Report, error) {
	rep := &Report{
		Expected: make([]Count, len(s.expected)),
		Keywords: make([]Count, len(s.opts.Keywords)),
	}
	for i, p := range s.opts.Expected {
		rep.Expected[i].Pattern = p
	}
	for i, k := range s.opts.Keywords {
		rep.Keywords[i].Pattern = k
	}

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			rep.Lines++
			if rep.Lines%4096 == 0 && ctx.Err() != nil {
				return nil, bferrors.Canceled("scan log", ctx.Err())
			}
			s.classify(rep, strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bferrors.Wrap(err, bferrors.CodeReadFailed, "read log")
		}
	}
	return rep, nil
}

func (s *Scanner) classify(rep *Report, line string) {
	for i, k := range s.opts.Keywords {
		if strings.Contains(line, k) {
			rep.Keywords[i].Count++
		}
	}

	found := false
	for i, re := range s.expected {
		if re.MatchString(line) {
			rep.Expected[i].Count++
			found = true
		}
	}
	if found {
		return
	}
	for _, level := range s.opts.Levels {
		if strings.Contains(line, level) {
			rep.UnexpectedTotal++
			if len(rep.Unexpected) < s.opts.MaxUnexpected {
				rep.Unexpected = append(rep.Unexpected, line)
			}
			return
		}
	}
}

// Tables renders the expected counts, the unexpected lines and, when
// keywords are configured, the keyword counts.
func (r *Report) Tables() []*table.Table {
	expected := table.New("beamlog_expected", "pattern", "count")
	for _, c := range r.Expected {
		expected.Append(c.Pattern, strconv.Itoa(c.Count))
	}
	unexpected := table.New("beamlog_unexpected", "line")
	for _, l := range r.Unexpected {
		unexpected.Append(l)
	}
	out := []*table.Table{expected, unexpected}
	if len(r.Keywords) > 0 {
		keywords := table.New("beamlog_keywords", "keyword", "count")
		for _, c := range r.Keywords {
			keywords.Append(c.Pattern, strconv.Itoa(c.Count))
		}
		out = append(out, keywords)
	}
	return out
}
