package watcher

import (
	"context"
	"os"
	"time"
)

// fileSnapshot is what polling compares between scans.
type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// startPolling runs the fallback scan loop. An initial snapshot is taken
// synchronously so the first tick only reports real changes.
func (w *Watcher) startPolling(ctx context.Context) {
	previous := w.snapshot()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				current := w.snapshot()
				w.diff(previous, current)
				previous = current
			}
		}
	}()
}

func (w *Watcher) snapshot() map[string]fileSnapshot {
	snap := make(map[string]fileSnapshot)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.emitError(err)
		return snap
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !relevantFile(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snap[name] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return snap
}

func (w *Watcher) diff(previous, current map[string]fileSnapshot) {
	now := time.Now()
	for name, cur := range current {
		prev, existed := previous[name]
		switch {
		case !existed:
			w.debouncer.Add(FileEvent{Path: name, Operation: OpCreate, Timestamp: now})
		case !cur.modTime.Equal(prev.modTime) || cur.size != prev.size:
			w.debouncer.Add(FileEvent{Path: name, Operation: OpModify, Timestamp: now})
		}
	}
	for name := range previous {
		if _, exists := current[name]; !exists {
			w.debouncer.Add(FileEvent{Path: name, Operation: OpDelete, Timestamp: now})
		}
	}
}
