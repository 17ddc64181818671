package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/resilience"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"  https://s3.us-east-2.amazonaws.com/beam-outputs/index.html#output/sfbay/run1 \n",
			"https://beam-outputs.s3.amazonaws.com/output/sfbay/run1",
		},
		{"/data/run1", "/data/run1"},
	}

	for _, tt := range tests {
		if got := OutputPath(tt.in); got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunPrefix(t *testing.T) {
	prefix, ok := RunPrefix("https://s3.us-east-2.amazonaws.com/beam-outputs/index.html#output/sfbay/run1/")
	if !ok || prefix != "output/sfbay/run1" {
		t.Errorf("RunPrefix = %q, %v; want output/sfbay/run1, true", prefix, ok)
	}
	if _, ok := RunPrefix("/data/run1"); ok {
		t.Error("expected no prefix for a local path")
	}
}

func TestEventsPath(t *testing.T) {
	if got := EventsPath("/data/run1/", 10); got != "/data/run1/ITERS/it.10/10.events.csv.gz" {
		t.Errorf("EventsPath = %q", got)
	}
	if got := IterationFile("s3://b/run", 0, "linkstats.csv.gz"); got != "s3://b/run/ITERS/it.0/0.linkstats.csv.gz" {
		t.Errorf("IterationFile = %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		location string
		want     Kind
	}{
		{"s3://bucket/key", KindS3},
		{"https://example.com/a.csv", KindHTTP},
		{"beam-outputs.s3.amazonaws.com/output/run", KindHTTP},
		{"./run/a.csv", KindLocal},
	}
	for _, tt := range tests {
		if got := Classify(tt.location); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.location, got, tt.want)
		}
	}
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpener_LocalGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.events.csv.gz")
	if err := os.WriteFile(path, gzipBytes(t, "type,time\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rc, err := NewOpener(Options{}).Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "type,time\n" {
		t.Errorf("got %q", data)
	}
}

func TestOpener_LocalMissing(t *testing.T) {
	_, err := NewOpener(Options{}).Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	if !bferrors.IsCode(err, bferrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file not found", err)
	}
}

func TestOpener_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/run/realizedModeChoice.csv":
			io.WriteString(w, "0.1,0.9\n")
		case "/run/ITERS/it.0/0.events.csv.gz":
			w.Write(gzipBytes(t, "type,time\nactend,1\n"))
		default:
			http.Error(w, "denied", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	o := NewOpener(Options{HTTPClient: srv.Client()})
	ctx := context.Background()

	rc, err := o.Open(ctx, srv.URL+"/run/realizedModeChoice.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "0.1,0.9\n" {
		t.Errorf("got %q", data)
	}

	rc, err = o.Open(ctx, EventsPath(srv.URL+"/run", 0))
	if err != nil {
		t.Fatalf("Open events: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if !strings.HasPrefix(string(data), "type,time") {
		t.Errorf("events not decompressed: %q", data)
	}

	if _, err := o.Open(ctx, srv.URL+"/missing.csv"); !bferrors.IsCode(err, bferrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file not found", err)
	}
}

func TestOpener_Fetch(t *testing.T) {
	payload := gzipBytes(t, "type,time\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	var seen int
	o := NewOpener(Options{
		HTTPClient: srv.Client(),
		Progress: func(total int64, desc string) io.Writer {
			return writerFunc(func(p []byte) (int, error) {
				seen += len(p)
				return len(p), nil
			})
		},
	})

	dir := t.TempDir()
	path, err := o.Fetch(context.Background(), srv.URL+"/run/ITERS/it.0/0.events.csv.gz", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != filepath.Join(dir, "0.events.csv.gz") {
		t.Errorf("path = %q", path)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, payload) {
		t.Error("downloaded bytes differ from payload")
	}
	if seen != len(payload) {
		t.Errorf("progress saw %d bytes, want %d", seen, len(payload))
	}
}

func TestOpener_S3NotConfigured(t *testing.T) {
	_, err := NewOpener(Options{}).Open(context.Background(), "s3://bucket/key")
	if !bferrors.IsCode(err, bferrors.CodeUnsupportedLocation) {
		t.Errorf("err = %v, want unsupported location", err)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestOpener_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	o := NewOpener(Options{
		HTTPClient: srv.Client(),
		Retry:      resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	rc, err := o.Open(context.Background(), srv.URL+"/run/realizedModeChoice.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "ok" || calls != 3 {
		t.Errorf("data = %q after %d calls", data, calls)
	}
}

func TestOpener_BreakerSettings(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewOpener(Options{
		HTTPClient:      srv.Client(),
		Retry:           resilience.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := o.Open(ctx, srv.URL+"/run/beamLog.out"); !bferrors.IsCode(err, bferrors.CodeReadFailed) {
			t.Fatalf("open %d: err = %v, want read failure", i, err)
		}
	}
	_, err := o.Open(ctx, srv.URL+"/run/beamLog.out")
	if !bferrors.IsCode(err, bferrors.CodeUnavailable) {
		t.Errorf("err = %v, want unavailable after the breaker opens", err)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
}
