package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/config"
)

func TestConfigInitCmd_WritesProjectTemplate(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, config.ProjectConfigName)

	data, err := os.ReadFile(filepath.Join(tmpDir, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode: local-preferred")
	assert.Contains(t, string(data), "source:")

	// The written template must load cleanly.
	cfg, err := config.Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, config.ModeLocalPreferred, cfg.Embedding.Mode)
}

func TestConfigInitCmd_RefusesOverwriteWithoutForce(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	_, err := execute(t, "config", "init")
	require.NoError(t, err)

	_, err = execute(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigInitCmd_UserConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Chdir(t.TempDir())

	_, err := execute(t, "config", "init", "--user")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(xdg, "docdex", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "embedding:")
}

func TestConfigShowCmd_PrintsEffectiveConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: local-preferred")
	assert.Contains(t, out, "dir: docs")
}

func TestConfigShowCmd_ReflectsEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DOCDEX_MODE", "remote-only")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: remote-only")
}
