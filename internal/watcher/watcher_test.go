package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no event batch within 5s")
		return nil
	}
}

func startWatcher(t *testing.T, dir string, forcePolling bool) *Watcher {
	t.Helper()
	w, err := New(Options{
		Dir:            dir,
		DebounceWindow: 50 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
		ForcePolling:   forcePolling,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_FsnotifyDetectsMarkdownChanges(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, false)
	require.Equal(t, "fsnotify", w.Mode())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("# Guide"), 0o644))

	batch := waitForBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, "guide.md", batch[0].Path)
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.md"), []byte("toc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".draft.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.md"), []byte("# Real"), 0o644))

	batch := waitForBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, "real.md", batch[0].Path)
}

func TestWatcher_PollingDetectsLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.md")
	w := startWatcher(t, dir, true)
	require.Equal(t, "polling", w.Mode())

	require.NoError(t, os.WriteFile(path, []byte("# Guide"), 0o644))
	batch := waitForBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Operation)

	// Size change guarantees the diff fires even with coarse mtimes.
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nMore."), 0o644))
	batch = waitForBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)

	require.NoError(t, os.Remove(path))
	batch = waitForBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Operation)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := startWatcher(t, t.TempDir(), true)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRelevantFile(t *testing.T) {
	assert.True(t, relevantFile("guide.md"))
	assert.True(t, relevantFile("01-overview.MD"))
	assert.False(t, relevantFile("index.md"))
	assert.False(t, relevantFile("INDEX.md"))
	assert.False(t, relevantFile(".draft.md"))
	assert.False(t, relevantFile("notes.txt"))
}
