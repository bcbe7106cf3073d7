package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("no batch within 2s")
		return nil
	}
}

func TestDebouncer_CoalescesSamePath(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	now := time.Now()
	d.Add(FileEvent{Path: "guide.md", Operation: OpCreate, Timestamp: now})
	d.Add(FileEvent{Path: "guide.md", Operation: OpModify, Timestamp: now})
	d.Add(FileEvent{Path: "guide.md", Operation: OpModify, Timestamp: now})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "guide.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation, "create followed by modify stays create")
}

func TestDebouncer_CreateThenDeleteDropped(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	now := time.Now()
	d.Add(FileEvent{Path: "temp.md", Operation: OpCreate, Timestamp: now})
	d.Add(FileEvent{Path: "temp.md", Operation: OpDelete, Timestamp: now})
	d.Add(FileEvent{Path: "kept.md", Operation: OpModify, Timestamp: now})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "kept.md", batch[0].Path)
}

func TestDebouncer_DeleteThenCreateIsModify(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	now := time.Now()
	d.Add(FileEvent{Path: "guide.md", Operation: OpDelete, Timestamp: now})
	d.Add(FileEvent{Path: "guide.md", Operation: OpCreate, Timestamp: now})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation, "atomic editor replace looks like a modify")
}

func TestDebouncer_ModifyThenDeleteIsDelete(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	now := time.Now()
	d.Add(FileEvent{Path: "guide.md", Operation: OpModify, Timestamp: now})
	d.Add(FileEvent{Path: "guide.md", Operation: OpDelete, Timestamp: now})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Operation)
}

func TestDebouncer_SeparatePathsSeparateEvents(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	now := time.Now()
	d.Add(FileEvent{Path: "a.md", Operation: OpModify, Timestamp: now})
	d.Add(FileEvent{Path: "b.md", Operation: OpModify, Timestamp: now})

	batch := collectBatch(t, d)
	assert.Len(t, batch, 2)
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	d.Add(FileEvent{Path: "a.md", Operation: OpModify, Timestamp: time.Now()})
	d.Stop()

	_, open := <-d.Output()
	assert.False(t, open)

	// Add after Stop is a no-op, not a panic.
	d.Add(FileEvent{Path: "b.md", Operation: OpModify, Timestamp: time.Now()})
}
