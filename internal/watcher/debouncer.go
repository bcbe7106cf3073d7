package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so one editor save burst produces
// one reindex. Events for the same path within the window merge:
//   - CREATE + MODIFY = CREATE
//   - CREATE + DELETE = dropped
//   - MODIFY + DELETE = DELETE
//   - DELETE + CREATE = MODIFY
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingEvent
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add queues an event, coalescing with any pending event for the same path.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing.firstOp, event.Operation)
		if !keep {
			delete(d.pending, event.Path)
			return
		}
		existing.event.Operation = merged
		existing.event.Timestamp = event.Timestamp
		existing.firstOp = merged
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
	} else {
		d.timer.Reset(d.window)
	}
}

// coalesce merges a new operation into the pending one. keep=false drops the
// pending event entirely.
func coalesce(pending, next Operation) (merged Operation, keep bool) {
	switch {
	case pending == OpCreate && next == OpModify:
		return OpCreate, true
	case pending == OpCreate && next == OpDelete:
		return 0, false
	case pending == OpModify && next == OpDelete:
		return OpDelete, true
	case pending == OpDelete && next == OpCreate:
		return OpModify, true
	default:
		return next, true
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]FileEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.timer = nil
	d.mu.Unlock()

	select {
	case d.output <- batch:
	default:
		// Slow consumer; drop the batch. The next change re-triggers.
	}
}

// Output delivers coalesced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop drops pending events and closes the output channel.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	close(d.output)
}
