// Package preflight runs the environment checks behind `docdex doctor`.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/store"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the display form of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the status as its display string.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the display string form.
func (s *CheckStatus) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "PASS":
		*s = StatusPass
	case "WARN":
		*s = StatusWarn
	case "FAIL":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %s", data)
	}
	return nil
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
	// Required marks checks whose failure should fail the doctor run.
	Required bool `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs preflight checks against a loaded configuration.
type Checker struct {
	health       *embed.HealthChecker
	probeTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithProbeTimeout bounds the local backend probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) { c.probeTimeout = d }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		health:       embed.NewHealthChecker(),
		probeTimeout: embed.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check. baseDir anchors relative config paths.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config, baseDir string) []CheckResult {
	return []CheckResult{
		c.CheckConfig(cfg),
		c.CheckSourceDir(cfg, baseDir),
		c.CheckDataDir(cfg, baseDir),
		c.CheckLocalBackend(ctx, cfg),
		c.CheckRemoteCredential(cfg),
		c.CheckDatabase(ctx, cfg, baseDir),
	}
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckConfig validates the loaded configuration.
func (c *Checker) CheckConfig(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "config", Required: true}
	if err := cfg.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = "configuration is invalid"
		result.Details = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("valid (mode %s)", cfg.Embedding.Mode)
	return result
}

// CheckSourceDir verifies the source directory exists and holds Markdown.
func (c *Checker) CheckSourceDir(cfg *config.Config, baseDir string) CheckResult {
	result := CheckResult{Name: "source directory", Required: true}
	dir := cfg.ResolveSourceDir(baseDir)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s does not exist", dir)
		result.Details = "Set source.dir in .docdex.yaml, or create the directory"
		return result
	}

	docs := 0
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			if strings.HasSuffix(strings.ToLower(name), ".md") && !strings.EqualFold(name, "index.md") {
				docs++
			}
		}
	}
	if docs == 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s holds no Markdown documents", dir)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d documents)", dir, docs)
	return result
}

// CheckDataDir verifies the database directory is writable.
func (c *Checker) CheckDataDir(cfg *config.Config, baseDir string) CheckResult {
	result := CheckResult{Name: "data directory", Required: true}
	dir := filepath.Dir(cfg.ResolveDatabasePath(baseDir))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s", dir)
		result.Details = err.Error()
		return result
	}
	probe := filepath.Join(dir, ".docdex-write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable", dir)
		result.Details = err.Error()
		return result
	}
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is writable", dir)
	return result
}

// CheckLocalBackend probes the local embedding server. Required only when the
// mode cannot fall back to remote.
func (c *Checker) CheckLocalBackend(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "local backend",
		Required: cfg.Embedding.Mode == config.ModeLocalOnly,
	}
	if cfg.Embedding.Mode == config.ModeRemoteOnly {
		result.Status = StatusPass
		result.Message = "skipped (mode is remote-only)"
		return result
	}
	if !cfg.HasLocal() {
		result.Status = StatusFail
		result.Message = "no local backend configured"
		result.Details = "Set embedding.local.base_url and embedding.local.model"
		return result
	}

	report := c.health.Check(ctx, embed.Probe{
		BaseURL: cfg.Embedding.Local.BaseURL,
		Model:   cfg.Embedding.Local.Model,
		Timeout: c.probeTimeout,
	})
	if !report.OK {
		result.Status = StatusFail
		result.Message = report.FailureDetail()
		result.Details = report.Fix
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s, model %s ready",
		report.Connectivity.Detail, cfg.Embedding.Local.Model)
	return result
}

// CheckRemoteCredential verifies the remote API key is present for modes that
// can reach the remote backend.
func (c *Checker) CheckRemoteCredential(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "remote credential",
		Required: cfg.Embedding.Mode == config.ModeRemoteOnly,
	}
	if cfg.Embedding.Mode == config.ModeLocalOnly {
		result.Status = StatusPass
		result.Message = "skipped (mode is local-only)"
		return result
	}
	if cfg.RemoteAPIKey() == "" {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("$%s is not set", cfg.Embedding.Remote.APIKeyEnv)
		result.Details = fmt.Sprintf("Export the credential: export %s=sk-...", cfg.Embedding.Remote.APIKeyEnv)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("$%s is set", cfg.Embedding.Remote.APIKeyEnv)
	return result
}

// CheckDatabase reads the index schema metadata. A missing database is a
// warning: the index simply has not been built yet.
func (c *Checker) CheckDatabase(ctx context.Context, cfg *config.Config, baseDir string) CheckResult {
	result := CheckResult{Name: "index database"}
	path := cfg.ResolveDatabasePath(baseDir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusWarn
		result.Message = "not built yet"
		result.Details = "Run: docdex index"
		return result
	}

	meta, err := store.ReadMetadata(ctx, path)
	if err != nil {
		result.Status = StatusFail
		result.Message = "database is unreadable"
		result.Details = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("model %s, %d dimensions, created %s",
		meta.EmbeddingModel, meta.EmbeddingDimensions, meta.CreatedAt.Format("2006-01-02"))
	return result
}
