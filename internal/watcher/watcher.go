// Package watcher observes a source directory for Markdown changes, feeding
// debounced event batches to the watch loop.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docdex/docdex/internal/errors"
)

// Operation is the kind of file change observed.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the display form of an Operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change to a Markdown document.
type FileEvent struct {
	// Path is the file name relative to the watched directory.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// DefaultDebounceWindow coalesces editor save bursts into one batch.
const DefaultDebounceWindow = 200 * time.Millisecond

// DefaultPollInterval is the polling fallback's scan interval.
const DefaultPollInterval = 2 * time.Second

// Options configures a Watcher.
type Options struct {
	// Dir is the source directory to watch, non-recursively.
	Dir            string
	DebounceWindow time.Duration
	PollInterval   time.Duration
	// ForcePolling skips fsnotify, e.g. on network filesystems.
	ForcePolling bool
	Logger       *slog.Logger
}

// Watcher observes one directory using fsnotify, falling back to polling when
// the platform watcher cannot start.
type Watcher struct {
	dir       string
	debouncer *Debouncer
	poll      time.Duration
	forcePoll bool
	logger    *slog.Logger

	mu      sync.Mutex
	mode    string
	fsw     *fsnotify.Watcher
	errs    chan error
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.ValidationError("watch directory is empty", nil)
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		dir:       opts.Dir,
		debouncer: NewDebouncer(opts.DebounceWindow),
		poll:      opts.PollInterval,
		forcePoll: opts.ForcePolling,
		logger:    opts.Logger,
		errs:      make(chan error, 4),
		stop:      make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is established.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.InternalError("watcher already started", nil)
	}

	if !w.forcePoll {
		if err := w.startFsnotify(ctx); err == nil {
			w.mode = "fsnotify"
			w.started = true
			w.logger.Info("watch_started",
				slog.String("dir", w.dir), slog.String("mode", w.mode))
			return nil
		} else {
			w.logger.Warn("fsnotify_unavailable",
				slog.String("dir", w.dir), slog.String("error", err.Error()))
		}
	}

	w.startPolling(ctx)
	w.mode = "polling"
	w.started = true
	w.logger.Info("watch_started",
		slog.String("dir", w.dir), slog.String("mode", w.mode))
	return nil
}

func (w *Watcher) startFsnotify(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.handleFsnotifyEvent(event)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	return nil
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !relevantFile(name) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: name, Operation: op, Timestamp: time.Now()})
}

// Events delivers debounced event batches.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors delivers watch errors. The watch keeps running after an error.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Mode reports "fsnotify" or "polling" once started.
func (w *Watcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Stop shuts the watch down and closes the event channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stop)
	fsw := w.fsw
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	w.debouncer.Stop()
	return nil
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errs <- fmt.Errorf("watch %s: %w", w.dir, err):
	default:
		// Slow consumer; drop rather than block the watch loop.
	}
}

// relevantFile reports whether a file name is an indexable Markdown document.
func relevantFile(name string) bool {
	if !strings.HasSuffix(strings.ToLower(name), ".md") {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.EqualFold(name, "index.md") {
		return false
	}
	return true
}
