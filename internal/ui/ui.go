// Package ui renders reindex progress, either as a live TUI on interactive
// terminals or as plain log lines for CI and pipes.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a reindex pipeline stage.
type Stage int

const (
	// StageScanning is the document discovery stage.
	StageScanning Stage = iota
	// StageChunking is the Markdown chunking stage.
	StageChunking
	// StageEmbedding is the embedding generation stage.
	StageEmbedding
	// StageStoring is the database write stage.
	StageStoring
	// StageComplete indicates the run is finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageStoring:
		return "Storing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageStoring:
		return "STORE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is emitted by the reindex orchestrator at phase boundaries
// and per-document steps.
type ProgressEvent struct {
	Stage           Stage
	DocsTotal       int
	DocsProcessed   int
	DocsSkipped     int
	DocsFailed      int
	ChunksTotal     int
	ChunksProcessed int
	CurrentDoc      string
	Message         string
}

// ErrorEvent reports a per-document failure or warning.
type ErrorEvent struct {
	Doc    string
	Err    error
	IsWarn bool
}

// StageTimings tracks duration per reindex stage.
type StageTimings struct {
	Scan  time.Duration
	Chunk time.Duration
	Embed time.Duration
	Store time.Duration
}

// BackendInfo describes the embedding backend used for a run.
type BackendInfo struct {
	Provider   string // "local" or "remote"
	Model      string
	Dimensions int
}

// CompletionStats is the final run summary.
type CompletionStats struct {
	Documents int // processed
	Skipped   int
	Failed    int
	Chunks    int
	Tokens    int
	Warnings  int
	Duration  time.Duration
	Stages    StageTimings
	Backend   BackendInfo
}

// Renderer is the progress display contract.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds a warning or error to the display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with a summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	SourceDir  string // shown in the TUI header
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output (--no-tui).
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithSourceDir sets the source directory shown in the header.
func WithSourceDir(dir string) ConfigOption {
	return func(c *Config) { c.SourceDir = dir }
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks a renderer for the environment: TUI for interactive
// terminals, plain text for CI, pipes, or --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// IsInteractive reports whether both stdin and stdout are terminals.
// Governs whether fallback confirmation prompts may be shown.
func IsInteractive() bool {
	return IsTTY(os.Stdout) &&
		(isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))
}

// DetectNoColor checks the NO_COLOR convention.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks for common CI environment markers.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
