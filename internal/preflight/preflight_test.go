package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/store"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig()
	require.NoError(t, os.MkdirAll(filepath.Join(base, cfg.Source.Dir), 0o755))
	return cfg, base
}

func findResult(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no check named %q", name)
	return CheckResult{}
}

func TestChecker_RunAll(t *testing.T) {
	cfg, base := testConfig(t)
	cfg.Embedding.Mode = config.ModeRemoteOnly

	results := New(WithProbeTimeout(time.Second)).RunAll(context.Background(), cfg, base)
	require.Len(t, results, 6)

	assert.Equal(t, StatusPass, findResult(t, results, "config").Status)
	assert.Equal(t, StatusWarn, findResult(t, results, "source directory").Status, "empty source dir warns")
	assert.Equal(t, StatusPass, findResult(t, results, "data directory").Status)
	assert.Equal(t, StatusPass, findResult(t, results, "local backend").Status, "skipped under remote-only")
	assert.Equal(t, StatusWarn, findResult(t, results, "index database").Status, "not built yet")
}

func TestChecker_CheckConfig_Invalid(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Embedding.Mode = "sometimes"

	result := New().CheckConfig(cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckSourceDir(t *testing.T) {
	cfg, base := testConfig(t)
	dir := cfg.ResolveSourceDir(base)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "overview.md"), []byte("# O"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.md"), []byte("toc"), 0o644))

	result := New().CheckSourceDir(cfg, base)
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "1 documents")

	cfg.Source.Dir = "absent"
	result = New().CheckSourceDir(cfg, base)
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.Required)
}

func TestChecker_CheckLocalBackend(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.5.1"})
		case "/api/show":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer healthy.Close()

	cfg, _ := testConfig(t)
	cfg.Embedding.Mode = config.ModeLocalOnly
	cfg.Embedding.Local.BaseURL = healthy.URL

	result := New(WithProbeTimeout(time.Second)).CheckLocalBackend(context.Background(), cfg)
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required, "local-only requires the local backend")

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	cfg.Embedding.Local.BaseURL = dead.URL

	result = New(WithProbeTimeout(time.Second)).CheckLocalBackend(context.Background(), cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Details, "ollama serve")

	cfg.Embedding.Mode = config.ModeLocalPreferred
	result = New(WithProbeTimeout(time.Second)).CheckLocalBackend(context.Background(), cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.False(t, result.Required, "local-preferred can fall back")
	assert.False(t, result.IsCritical())
}

func TestChecker_CheckRemoteCredential(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Embedding.Mode = config.ModeRemoteOnly
	cfg.Embedding.Remote.APIKeyEnv = "DOCDEX_TEST_API_KEY"

	result := New().CheckRemoteCredential(cfg)
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())

	t.Setenv("DOCDEX_TEST_API_KEY", "sk-test")
	result = New().CheckRemoteCredential(cfg)
	assert.Equal(t, StatusPass, result.Status)

	cfg.Embedding.Mode = config.ModeLocalOnly
	result = New().CheckRemoteCredential(cfg)
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "skipped")
}

func TestChecker_CheckDatabase(t *testing.T) {
	cfg, base := testConfig(t)
	ctx := context.Background()

	result := New().CheckDatabase(ctx, cfg, base)
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Details, "docdex index")

	st, err := store.Open(ctx, store.Config{
		Path:                cfg.ResolveDatabasePath(base),
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	result = New().CheckDatabase(ctx, cfg, base)
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "nomic-embed-text")
	assert.Contains(t, result.Message, "4 dimensions")
}

func TestCheckResult_JSON(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "config", Status: StatusWarn, Message: "m"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"WARN"`)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	c := New()
	assert.False(t, c.HasCriticalFailures([]CheckResult{
		{Status: StatusFail, Required: false},
		{Status: StatusWarn, Required: true},
	}))
	assert.True(t, c.HasCriticalFailures([]CheckResult{
		{Status: StatusFail, Required: true},
	}))
}
