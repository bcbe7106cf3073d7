package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/store"
)

func TestStatusCmd_IndexNotBuilt(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not built yet")
	assert.Contains(t, out, "docdex index")
}

func TestStatusCmd_ShowsIndexDetails(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	st, err := store.Open(context.Background(), store.Config{
		Path:                filepath.Join(tmpDir, ".docdex", "index.db"),
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 768,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "nomic-embed-text")
	assert.Contains(t, out, "768")
}

func TestStatusCmd_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	st, err := store.Open(context.Background(), store.Config{
		Path:                filepath.Join(tmpDir, ".docdex", "index.db"),
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 768,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "status", "--json")
	require.NoError(t, err)

	var status indexStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "nomic-embed-text", status.Model)
	assert.Equal(t, 768, status.Dimensions)
	assert.Equal(t, 0, status.Documents)
	assert.Positive(t, status.SizeBytes)
}

func TestStatusCmd_JSONNotBuilt(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "status", "--json")
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "not built", payload["state"])
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "4.0 KiB", formatBytes(4096))
	assert.Equal(t, "1.5 MiB", formatBytes(3*1024*1024/2))
}
