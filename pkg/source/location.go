// Package source resolves and opens simulation run artifacts on local disk,
// over HTTP and in S3.
package source

import (
	"fmt"
	"strings"
)

const (
	consoleHost = "s3.us-east-2.amazonaws.com/beam-outputs/index.html#"
	bucketHost  = "beam-outputs.s3.amazonaws.com/"

	// ScriptsOutputDir holds derived tables next to a run's outputs.
	ScriptsOutputDir = "scripts_output"
)

// OutputPath turns a run URL as copied from the S3 console into a base
// path artifacts can be read from.
func OutputPath(url string) string {
	return strings.ReplaceAll(strings.TrimSpace(url), consoleHost, bucketHost)
}

// RunPrefix returns the run folder of a console URL, the key prefix inside
// the outputs bucket. ok is false for URLs without a console fragment.
func RunPrefix(url string) (prefix string, ok bool) {
	_, frag, found := strings.Cut(url, "#")
	if !found {
		return "", false
	}
	prefix = strings.Trim(strings.TrimSpace(frag), "/")
	return prefix, prefix != ""
}

// IterationFile returns base/ITERS/it.N/N.name.
func IterationFile(base string, iteration int, name string) string {
	return fmt.Sprintf("%s/ITERS/it.%d/%d.%s", strings.TrimRight(base, "/"), iteration, iteration, name)
}

// EventsPath returns the events file of an iteration.
func EventsPath(base string, iteration int) string {
	return IterationFile(base, iteration, "events.csv.gz")
}

// RunFile returns a file at the top of the run output folder.
func RunFile(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}

// Kind is the storage kind of a location.
type Kind int

const (
	KindLocal Kind = iota
	KindHTTP
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindS3:
		return "s3"
	default:
		return "local"
	}
}

// Classify reports where location lives. Scheme-less bucket hosts are
// treated as HTTPS.
func Classify(location string) Kind {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return KindS3
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return KindHTTP
	case strings.Contains(location, ".s3.amazonaws.com/"), strings.Contains(location, "s3.us-east-2.amazonaws.com/"):
		return KindHTTP
	default:
		return KindLocal
	}
}

// normalize adds the https scheme to bare bucket hosts.
func normalize(location string) string {
	if Classify(location) == KindHTTP && !strings.Contains(location, "://") {
		return "https://" + location
	}
	return location
}
