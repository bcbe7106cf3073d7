package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress lines (for CI/pipes).
type PlainRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	lastStage Stage
	started   bool
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Stage transitions always print; within
// a stage, only events carrying a document or message print, so CI logs stay
// one line per unit of work.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && event.Stage == r.lastStage && event.CurrentDoc == "" && event.Message == "" {
		return
	}
	r.lastStage = event.Stage
	r.started = true

	msg := event.Message
	if msg == "" {
		msg = event.CurrentDoc
	}

	switch {
	case event.Stage == StageStoring && event.DocsTotal > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n",
			event.Stage.Icon(), event.DocsProcessed, event.DocsTotal, msg)
	case event.Stage == StageEmbedding && event.ChunksTotal > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d chunks%s\n",
			event.Stage.Icon(), event.ChunksTotal, suffix(msg))
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s]\n", event.Stage.Icon())
	}
}

func suffix(msg string) string {
	if msg == "" {
		return ""
	}
	return " - " + msg
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.Doc != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Doc, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d chunks indexed in %s",
		stats.Documents, stats.Chunks, stats.Duration.Round(100*time.Millisecond))
	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d unchanged)", stats.Skipped)
	}
	if stats.Failed > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d failed, %d warnings)", stats.Failed, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Scan > 0 || stats.Stages.Embed > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:  %s\n", stats.Stages.Scan.Round(100*time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Chunk: %s\n", stats.Stages.Chunk.Round(100*time.Millisecond))
		if stats.Stages.Embed > 0 && stats.Chunks > 0 {
			perSec := float64(stats.Chunks) / stats.Stages.Embed.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Embed: %s (%d chunks @ %.1f/sec)\n",
				stats.Stages.Embed.Round(100*time.Millisecond), stats.Chunks, perSec)
		}
		_, _ = fmt.Fprintf(r.out, "  Store: %s\n", stats.Stages.Store.Round(100*time.Millisecond))
	}

	if stats.Backend.Provider != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n",
			stats.Backend.Provider, stats.Backend.Model, stats.Backend.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
