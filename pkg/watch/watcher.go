// Package watch follows a running simulation's output directory and reports
// each iteration's events file once it stops growing.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beamflow/beamflow/internal/logging"
)

// DefaultDebounce is how long an events file must stay quiet before it is
// reported.
const DefaultDebounce = 5 * time.Second

var (
	iterDirPattern    = regexp.MustCompile(`^it\.(\d+)$`)
	eventsFilePattern = regexp.MustCompile(`^(\d+)\.events\.csv(\.gz)?$`)
)

// Iteration is one finished events file.
type Iteration struct {
	Number int
	Path   string
}

// ParseEventsFile reports the iteration of a path shaped like
// ITERS/it.N/N.events.csv[.gz].
func ParseEventsFile(path string) (int, bool) {
	m := eventsFilePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	d := iterDirPattern.FindStringSubmatch(filepath.Base(filepath.Dir(path)))
	if d == nil || d[1] != m[1] {
		return 0, false
	}
	if filepath.Base(filepath.Dir(filepath.Dir(path))) != "ITERS" {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Watcher monitors a run directory for new iteration events files.
type Watcher struct {
	runDir   string
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	mu       sync.Mutex
	wg       sync.WaitGroup
	closed   bool
	debounce time.Duration
	logger   *slog.Logger

	// OnIteration is called once per events file, after it stops changing.
	OnIteration func(ctx context.Context, it Iteration) error
	OnError     func(path string, err error)

	// ScanExisting reports events files already present at start.
	ScanExisting bool
}

type fileState struct {
	lastModified time.Time
	size         int64
	timer        *time.Timer
	processing   bool
	pending      bool
	done         bool
}

// NewWatcher creates a watcher for runDir.
func NewWatcher(runDir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(runDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("failed to stat run directory: %w", err)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		runDir:   abs,
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Run watches until ctx is canceled. The ITERS directory may appear after
// Run starts. Run returns only after running OnIteration calls finish.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.shutdown()

	if err := w.watcher.Add(w.runDir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	iters := filepath.Join(w.runDir, "ITERS")
	if _, err := os.Stat(iters); err == nil {
		if err := w.addDir(ctx, iters, w.ScanExisting); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	path := event.Name
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			base := filepath.Base(path)
			if (base == "ITERS" && filepath.Dir(path) == w.runDir) || iterDirPattern.MatchString(base) {
				if err := w.addDir(ctx, path, true); err != nil {
					w.reportError(path, err)
				}
			}
			return
		}
	}
	if _, ok := ParseEventsFile(path); ok {
		w.schedule(ctx, path)
	}
}

// addDir watches dir and its iteration subdirectories. With scan set, events
// files already inside are scheduled, covering files written before the
// watch was in place.
func (w *Watcher) addDir(ctx context.Context, dir string, scan bool) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list directory: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() && iterDirPattern.MatchString(e.Name()) {
			if err := w.addDir(ctx, path, scan); err != nil {
				return err
			}
			continue
		}
		if _, ok := ParseEventsFile(path); ok && scan {
			w.schedule(ctx, path)
		}
	}
	return nil
}

// schedule restarts the quiet-period timer of path. Every pending timer
// holds one count of wg until it is stopped or its callback returns.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.timer != nil && state.timer.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	state.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.handleChange(ctx, path, state)
	})
}

func (w *Watcher) handleChange(ctx context.Context, path string, state *fileState) {
	if ctx.Err() != nil {
		return
	}
	stat, err := os.Stat(path)
	if err != nil {
		w.reportError(path, err)
		return
	}

	w.mu.Lock()
	if state.processing {
		// written to while being analysed; look again once done
		state.pending = true
		w.mu.Unlock()
		return
	}
	if state.done && stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		state.done = true
		again := state.pending
		state.pending = false
		w.mu.Unlock()
		if again && ctx.Err() == nil {
			w.schedule(ctx, path)
		}
	}()

	n, _ := ParseEventsFile(path)
	w.logger.Info("iteration events ready", "iteration", n, "path", path, "bytes", stat.Size())
	if w.OnIteration != nil {
		if err := w.OnIteration(ctx, Iteration{Number: n, Path: path}); err != nil {
			w.reportError(path, err)
		}
	}
}

// shutdown stops pending timers and waits for running callbacks.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for _, s := range w.files {
		if s.timer != nil && s.timer.Stop() {
			w.wg.Done()
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) reportError(path string, err error) {
	w.logger.Warn("watch error", "path", path, "error", err)
	if w.OnError != nil {
		w.OnError(path, err)
	}
}
