// Package embed provides the embedding backends (remote OpenAI-compatible,
// local Ollama-compatible), the health checker for the local server, and the
// router that selects a backend per operation under the configured locality
// mode.
package embed

import (
	"context"
	"math"

	"github.com/docdex/docdex/internal/errors"
)

// Provider identifies which backend produced an embedding.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderRemote Provider = "remote"
)

// Mode is the locality policy for backend selection.
type Mode string

const (
	ModeLocalOnly      Mode = "local-only"
	ModeLocalPreferred Mode = "local-preferred"
	ModeRemoteOnly     Mode = "remote-only"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocalOnly, ModeLocalPreferred, ModeRemoteOnly:
		return Mode(s), nil
	default:
		return "", errors.New(errors.ErrCodeConfigInvalid,
			"unknown embedding mode: "+s, nil).
			WithSuggestion("Valid modes: local-only, local-preferred, remote-only")
	}
}

// BatchResult is the outcome of one logical batch embedding call.
type BatchResult struct {
	// Embeddings are in input order, one per input text.
	Embeddings [][]float32
	// TotalTokens as reported by the API, estimated from characters when the
	// API omits usage.
	TotalTokens int
	// Dimensions of the returned vectors.
	Dimensions int
}

// Backend is the closed embedding interface with exactly two implementations.
type Backend interface {
	Provider() Provider
	ModelName() string
	// Dimensions returns 0 until discovered from the first call for models
	// without a known width.
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
	Close() error
}

// estimateTokens approximates token usage as ceil(len/4).
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// normalizeVector L2-normalizes in place so cosine distance is stable across
// backends. Zero vectors pass through unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
