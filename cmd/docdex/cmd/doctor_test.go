package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/preflight"
)

func setupDoctorProject(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, "docs", "overview.md"),
		[]byte("# Overview\n\nContent."), 0o644))
	return tmpDir
}

func TestDoctorCmd_JSON(t *testing.T) {
	setupDoctorProject(t)

	// Local backend and remote credential may fail in this environment, but
	// neither is required in the default local-preferred mode.
	out, err := execute(t, "doctor", "--json")
	require.NoError(t, err)

	var results []preflight.CheckResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 6)

	byName := map[string]preflight.CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, preflight.StatusPass, byName["config"].Status)
	assert.Equal(t, preflight.StatusPass, byName["source directory"].Status)
	assert.Equal(t, preflight.StatusPass, byName["data directory"].Status)
	assert.Equal(t, preflight.StatusWarn, byName["index database"].Status)
}

func TestDoctorCmd_MissingSourceDirIsCritical(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "does not exist")
}

func TestDoctorCmd_VerboseNamesLogFile(t *testing.T) {
	setupDoctorProject(t)

	out, err := execute(t, "doctor", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "log file")
}

func TestDoctorCmd_TextOutput(t *testing.T) {
	setupDoctorProject(t)

	out, err := execute(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "config")
	assert.Contains(t, out, "index database")
	assert.Contains(t, out, "not built yet")
}
