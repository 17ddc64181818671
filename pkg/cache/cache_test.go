package cache

import (
	"context"
	"errors"
	"os"
	"testing"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/table"
)

func TestKey(t *testing.T) {
	if got := Key("output/sfbay/run1", 10, "trips"); got != "output/sfbay/run1/scripts_output/10.trips.csv.gz" {
		t.Errorf("Key = %q", got)
	}
}

func TestRunKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://s3.us-east-2.amazonaws.com/beam-outputs/index.html#output/sfbay/run1", "output/sfbay/run1"},
		{"https://beam-outputs.s3.amazonaws.com/output/run2/", "beam-outputs.s3.amazonaws.com/output/run2"},
		{"/data/run3", "data/run3"},
	}
	for _, tt := range tests {
		if got := RunKey(tt.in); got != tt.want {
			t.Errorf("RunKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sample() *table.Table {
	tb := table.New("", "person", "BUS-DEFAULT")
	tb.Append("p1", "1200")
	return tb
}

func TestCache_GetOrCompute(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := New(backend, WithRunID("run-1"))
	ctx := context.Background()

	if _, err := c.Get(ctx, "run", 0, "trips"); !bferrors.IsCode(err, bferrors.CodeCacheMiss) {
		t.Fatalf("Get err = %v, want cache miss", err)
	}

	calls := 0
	compute := func(context.Context) (*table.Table, error) {
		calls++
		return sample(), nil
	}

	tb, hit, err := c.GetOrCompute(ctx, "run", 0, "trips", false, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	if tb.Name != "trips" {
		t.Errorf("Name = %q, want trips", tb.Name)
	}

	tb, hit, err = c.GetOrCompute(ctx, "run", 0, "trips", false, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if tb.Rows[0][1] != "1200" {
		t.Errorf("cached row = %v", tb.Rows[0])
	}
	if calls != 1 {
		t.Errorf("compute calls = %d, want 1", calls)
	}

	if _, hit, _ = c.GetOrCompute(ctx, "run", 0, "trips", true, compute); hit {
		t.Error("force should bypass the cache")
	}
	if calls != 2 {
		t.Errorf("compute calls = %d, want 2", calls)
	}
}

func TestCache_ComputeError(t *testing.T) {
	backend, _ := NewLocalBackend(t.TempDir())
	c := New(backend)
	want := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), "run", 0, "x", false, func(context.Context) (*table.Table, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestMultiBackend(t *testing.T) {
	ctx := context.Background()
	primary, _ := NewLocalBackend(t.TempDir())
	secondary, _ := NewLocalBackend(t.TempDir())
	m := NewMultiBackend(primary, secondary)

	if m.Name() != "local+local" {
		t.Errorf("Name = %q", m.Name())
	}

	if err := secondary.Put(ctx, "a/b", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}
	data, err := m.Get(ctx, "a/b")
	if err != nil || string(data) != "x" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if _, err := primary.Get(ctx, "a/b"); err != nil {
		t.Errorf("primary not refilled: %v", err)
	}

	if err := m.Delete(ctx, "a/b"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "a/b"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}

func TestCache_EntriesAndClear(t *testing.T) {
	ctx := context.Background()
	backend, _ := NewLocalBackend(t.TempDir())
	c := New(backend)

	for _, it := range []int{0, 1} {
		for _, name := range []string{"person_distances", "ridership"} {
			if err := c.Put(ctx, "output/nyc/run", it, name, sample()); err != nil {
				t.Fatal(err)
			}
		}
	}
	c.Put(ctx, "output/nyc/other", 0, "ridership", sample())

	entries, err := c.Entries(ctx, "output/nyc/run")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %+v, want 4", entries)
	}
	if e := entries[0]; e.Iteration != 0 || e.Name != "person_distances" {
		t.Errorf("first entry = %+v", e)
	}

	n, err := c.Clear(ctx, "output/nyc/run", 1)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v; want 2", n, err)
	}
	if _, err := c.Get(ctx, "output/nyc/run", 0, "ridership"); err != nil {
		t.Errorf("iteration 0 removed: %v", err)
	}
	if n, _ := c.Clear(ctx, "output/nyc/run", -1); n != 2 {
		t.Errorf("Clear all = %d, want 2", n)
	}
	if entries, _ := c.Entries(ctx, "output/nyc/other"); len(entries) != 1 {
		t.Errorf("other run touched: %+v", entries)
	}
}

func TestMultiBackend_List(t *testing.T) {
	ctx := context.Background()
	primary, _ := NewLocalBackend(t.TempDir())
	secondary, _ := NewLocalBackend(t.TempDir())
	primary.Put(ctx, "r/a", []byte("1"), nil)
	secondary.Put(ctx, "r/a", []byte("1"), nil)
	secondary.Put(ctx, "r/b", []byte("2"), nil)

	keys, err := NewMultiBackend(primary, secondary).List(ctx, "r/")
	if err != nil || len(keys) != 2 || keys[0] != "r/a" || keys[1] != "r/b" {
		t.Errorf("List = %v, %v", keys, err)
	}
}

// failingDelete refuses to delete the keys in fail.
type failingDelete struct {
	Backend
	fail map[string]bool
}

func (f failingDelete) Delete(ctx context.Context, key string) error {
	if f.fail[key] {
		return errors.New("permission denied")
	}
	return f.Backend.Delete(ctx, key)
}

func TestCache_ClearContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	local, _ := NewLocalBackend(t.TempDir())

	tests := []struct {
		name    string
		fail    []string
		removed int
		multi   bool
	}{
		{"one failure", []string{"a"}, 2, false},
		{"two failures", []string{"a", "b"}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fail := make(map[string]bool)
			for _, name := range tt.fail {
				fail[Key("run", 0, name)] = true
			}
			c := New(failingDelete{Backend: local, fail: fail})
			for _, name := range []string{"a", "b", "c"} {
				if err := c.Put(ctx, "run", 0, name, sample()); err != nil {
					t.Fatal(err)
				}
			}

			n, err := c.Clear(ctx, "run", -1)
			if n != tt.removed {
				t.Errorf("removed = %d, want %d", n, tt.removed)
			}
			if !bferrors.IsCode(err, bferrors.CodeWriteFailed) && !tt.multi {
				t.Errorf("err = %v, want CodeWriteFailed", err)
			}
			var multi *bferrors.MultiError
			if got := errors.As(err, &multi); got != tt.multi {
				t.Errorf("MultiError = %v, want %v (%v)", got, tt.multi, err)
			}
			entries, _ := c.Entries(ctx, "run")
			if len(entries) != len(tt.fail) {
				t.Errorf("left = %+v, want %d", entries, len(tt.fail))
			}
		})
	}
}
