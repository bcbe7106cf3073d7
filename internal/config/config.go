// Package config loads docdex configuration with layered precedence:
// built-in defaults, user config, project config, then DOCDEX_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docdex/docdex/internal/errors"
)

// Locality modes for embedding backend selection.
const (
	ModeLocalOnly      = "local-only"
	ModeLocalPreferred = "local-preferred"
	ModeRemoteOnly     = "remote-only"
)

// ProjectConfigName is the per-project configuration file.
const ProjectConfigName = ".docdex.yaml"

// Config is the complete docdex configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Source    SourceConfig    `yaml:"source" json:"source"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Query     QueryConfig     `yaml:"query" json:"query"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// SourceConfig locates the Markdown documents to index.
type SourceConfig struct {
	// Dir is the directory scanned for *.md documents (non-recursive).
	Dir string `yaml:"dir" json:"dir"`
}

// DatabaseConfig locates the vector index database.
type DatabaseConfig struct {
	// Path to the SQLite database file. Relative paths resolve against the
	// project directory.
	Path string `yaml:"path" json:"path"`
}

// EmbeddingConfig configures backend selection and both backends.
type EmbeddingConfig struct {
	// Mode is the locality policy: local-only, local-preferred, remote-only.
	Mode string `yaml:"mode" json:"mode"`
	// BatchSize is the number of texts per embedding API call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	Local  LocalConfig  `yaml:"local" json:"local"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`
}

// LocalConfig configures the local (Ollama-compatible) embedding server.
type LocalConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	// Timeout is a duration string, e.g. "60s".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// RemoteConfig configures the remote (OpenAI-compatible) embedding API.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// RequestsPerMinute caps the request rate against the remote API.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
	// CacheSize is the query-embedding LRU capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Source: SourceConfig{
			Dir: "docs",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(".docdex", "index.db"),
		},
		Embedding: EmbeddingConfig{
			Mode:      ModeLocalPreferred,
			BatchSize: 100,
			Local: LocalConfig{
				BaseURL: "http://localhost:11434",
				Model:   "nomic-embed-text",
				Timeout: "60s",
			},
			Remote: RemoteConfig{
				BaseURL:           "https://api.openai.com/v1",
				Model:             "text-embedding-3-small",
				APIKeyEnv:         "OPENAI_API_KEY",
				RequestsPerMinute: 500,
			},
		},
		Query: QueryConfig{
			TopK:      10,
			CacheSize: 128,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file path following the
// XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docdex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docdex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docdex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docdex", "config.yaml")
	}
	return filepath.Join(home, ".config", "docdex", "config.yaml")
}

// Load loads configuration for a project directory, applying layers in order
// of increasing precedence:
//  1. Built-in defaults
//  2. User config (~/.config/docdex/config.yaml)
//  3. Project config (.docdex.yaml in the project directory)
//  4. Environment variables (DOCDEX_*)
//
// The merged result is validated before being returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads a single explicit config file over the defaults (--config).
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, errors.New(errors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file not found: %s", path), nil).
			WithSuggestion("Check the path passed to --config")
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadProjectFile merges .docdex.yaml or .docdex.yml from dir, if present.
func (c *Config) loadProjectFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".docdex.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	// No project config is fine, defaults apply.
	return nil
}

// loadYAML parses a YAML file and merges its non-zero values into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.IOError(
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err).
			WithSuggestion("Fix the YAML syntax or regenerate with: docdex config init")
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Source.Dir != "" {
		c.Source.Dir = other.Source.Dir
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}

	if other.Embedding.Mode != "" {
		c.Embedding.Mode = other.Embedding.Mode
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Local.BaseURL != "" {
		c.Embedding.Local.BaseURL = other.Embedding.Local.BaseURL
	}
	if other.Embedding.Local.Model != "" {
		c.Embedding.Local.Model = other.Embedding.Local.Model
	}
	if other.Embedding.Local.Timeout != "" {
		c.Embedding.Local.Timeout = other.Embedding.Local.Timeout
	}
	if other.Embedding.Remote.BaseURL != "" {
		c.Embedding.Remote.BaseURL = other.Embedding.Remote.BaseURL
	}
	if other.Embedding.Remote.Model != "" {
		c.Embedding.Remote.Model = other.Embedding.Remote.Model
	}
	if other.Embedding.Remote.APIKeyEnv != "" {
		c.Embedding.Remote.APIKeyEnv = other.Embedding.Remote.APIKeyEnv
	}
	if other.Embedding.Remote.RequestsPerMinute != 0 {
		c.Embedding.Remote.RequestsPerMinute = other.Embedding.Remote.RequestsPerMinute
	}

	if other.Query.TopK != 0 {
		c.Query.TopK = other.Query.TopK
	}
	if other.Query.CacheSize != 0 {
		c.Query.CacheSize = other.Query.CacheSize
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies DOCDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCDEX_SOURCE_DIR"); v != "" {
		c.Source.Dir = v
	}
	if v := os.Getenv("DOCDEX_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DOCDEX_MODE"); v != "" {
		c.Embedding.Mode = v
	}
	if v := os.Getenv("DOCDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSize = n
		}
	}
	if v := os.Getenv("DOCDEX_LOCAL_BASE_URL"); v != "" {
		c.Embedding.Local.BaseURL = v
	}
	if v := os.Getenv("DOCDEX_LOCAL_MODEL"); v != "" {
		c.Embedding.Local.Model = v
	}
	if v := os.Getenv("DOCDEX_REMOTE_BASE_URL"); v != "" {
		c.Embedding.Remote.BaseURL = v
	}
	if v := os.Getenv("DOCDEX_REMOTE_MODEL"); v != "" {
		c.Embedding.Remote.Model = v
	}
	if v := os.Getenv("DOCDEX_REMOTE_API_KEY_ENV"); v != "" {
		c.Embedding.Remote.APIKeyEnv = v
	}
	if v := os.Getenv("DOCDEX_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.TopK = n
		}
	}
	if v := os.Getenv("DOCDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	validModes := map[string]bool{
		ModeLocalOnly:      true,
		ModeLocalPreferred: true,
		ModeRemoteOnly:     true,
	}
	if !validModes[c.Embedding.Mode] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("embedding.mode must be %q, %q, or %q, got %q",
				ModeLocalOnly, ModeLocalPreferred, ModeRemoteOnly, c.Embedding.Mode), nil).
			WithSuggestion("Set embedding.mode in .docdex.yaml or DOCDEX_MODE")
	}

	if c.Embedding.BatchSize <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize), nil)
	}
	if c.Embedding.Local.Timeout != "" {
		if d, err := time.ParseDuration(c.Embedding.Local.Timeout); err != nil || d <= 0 {
			return errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("embedding.local.timeout is not a valid duration: %q", c.Embedding.Local.Timeout), err).
				WithSuggestion(`Use a Go duration string such as "60s" or "2m"`)
		}
	}
	if c.Embedding.Remote.RequestsPerMinute < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("embedding.remote.requests_per_minute must be non-negative, got %d",
				c.Embedding.Remote.RequestsPerMinute), nil)
	}

	if c.Query.TopK <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("query.top_k must be positive, got %d", c.Query.TopK), nil)
	}
	if c.Query.CacheSize < 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("query.cache_size must be non-negative, got %d", c.Query.CacheSize), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level), nil)
	}

	return nil
}

// HasLocal reports whether a local backend is configured.
func (c *Config) HasLocal() bool {
	return c.Embedding.Local.BaseURL != "" && c.Embedding.Local.Model != ""
}

// LocalTimeout returns the parsed local backend timeout, defaulting to 60s.
func (c *Config) LocalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Local.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// RemoteAPIKey resolves the remote credential from the configured env var.
// Returns the empty string when unset.
func (c *Config) RemoteAPIKey() string {
	if c.Embedding.Remote.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedding.Remote.APIKeyEnv)
}

// ResolveDatabasePath resolves the database path against a project directory.
func (c *Config) ResolveDatabasePath(projectDir string) string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(projectDir, c.Database.Path)
}

// ResolveSourceDir resolves the source directory against a project directory.
func (c *Config) ResolveSourceDir(projectDir string) string {
	if filepath.IsAbs(c.Source.Dir) {
		return c.Source.Dir
	}
	return filepath.Join(projectDir, c.Source.Dir)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.InternalError("failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IOError(fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .docdex.yaml file or a
// .git directory. Falls back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.IOError("failed to resolve project directory", err)
	}

	current := absDir
	for {
		if fileExists(filepath.Join(current, ProjectConfigName)) ||
			fileExists(filepath.Join(current, ".docdex.yml")) {
			return current, nil
		}
		if dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
