package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docdex/docdex/internal/errors"
)

// Local backend defaults.
const (
	DefaultLocalBaseURL   = "http://localhost:11434"
	DefaultLocalBatchSize = 100
	DefaultLocalTimeout   = 60 * time.Second
)

// LocalEmbedderConfig configures the Ollama-compatible backend.
type LocalEmbedderConfig struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// LocalEmbedder generates embeddings through an Ollama-compatible /api/embed
// endpoint.
type LocalEmbedder struct {
	client *http.Client
	cfg    LocalEmbedderConfig
	retry  errors.RetryConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Backend = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates the local backend.
func NewLocalEmbedder(cfg LocalEmbedderConfig) (*LocalEmbedder, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, errors.New(errors.ErrCodeLocalNotConfigured,
			"local embedding backend is not configured", nil).
			WithSuggestion("Set embedding.local.base_url and embedding.local.model in .docdex.yaml")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultLocalBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLocalTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &LocalEmbedder{
		client: client,
		cfg:    cfg,
		retry: errors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 2 * time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}, nil
}

// Provider implements Backend.
func (e *LocalEmbedder) Provider() Provider { return ProviderLocal }

// ModelName implements Backend.
func (e *LocalEmbedder) ModelName() string { return e.cfg.Model }

// Dimensions implements Backend. Always 0 until the first call; local models
// report their width only through responses.
func (e *LocalEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// Close implements Backend.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// Embed generates an embedding for a single text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != 1 {
		return nil, errors.New(errors.ErrCodeMalformedResponse,
			fmt.Sprintf("expected 1 embedding, got %d", len(res.Embeddings)), nil)
	}
	return res.Embeddings[0], nil
}

// EmbedBatch runs sub-batches sequentially; a local inference server gains
// nothing from concurrent requests against one model.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.InternalError("local embedder is closed", nil)
	}
	e.mu.RUnlock()

	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return &BatchResult{Embeddings: results, Dimensions: e.Dimensions()}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	totalTokens := 0
	for start := 0; start < len(nonEmpty); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + e.cfg.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]

		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		type subResult struct {
			embeddings [][]float32
			tokens     int
		}
		res, err := errors.RetryWithResult(ctx, e.retry, func() (subResult, error) {
			embeddings, tokens, err := e.doEmbed(ctx, batchTexts)
			return subResult{embeddings, tokens}, err
		})
		if err != nil {
			return nil, err
		}

		for i, emb := range res.embeddings {
			results[batch[i].idx] = normalizeVector(emb)
		}
		totalTokens += res.tokens
	}

	dims := e.Dimensions()
	if dims == 0 && len(nonEmpty) > 0 {
		dims = len(results[nonEmpty[0].idx])
		e.mu.Lock()
		e.dims = dims
		e.mu.Unlock()
	}

	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}

	return &BatchResult{
		Embeddings:  results,
		TotalTokens: totalTokens,
		Dimensions:  dims,
	}, nil
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// doEmbed issues a single /api/embed request.
func (e *LocalEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, int, error) {
	body, err := json.Marshal(localEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, 0, errors.InternalError("failed to marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	url := strings.TrimSuffix(e.cfg.BaseURL, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, errors.InternalError("failed to create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, 0, errors.New(errors.ErrCodeNetworkTimeout,
				fmt.Sprintf("local embedding request timed out after %s", e.cfg.Timeout), err).
				WithSuggestion("Increase embedding.local.timeout, or check the server with: docdex doctor")
		}
		return nil, 0, errors.NetworkError("local embedding request failed", err).
			WithSuggestion("Start the local embedding server: ollama serve")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, classifyLocalStatus(resp.StatusCode, string(respBody), e.cfg.Model)
	}

	var parsed localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
			"failed to decode local embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
			fmt.Sprintf("local embedding response has %d vectors, expected %d",
				len(parsed.Embeddings), len(texts)), nil)
	}
	for i, emb := range parsed.Embeddings {
		if len(emb) == 0 {
			return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
				fmt.Sprintf("local embedding response vector %d is empty", i), nil)
		}
	}

	tokens := parsed.PromptEvalCount
	if tokens == 0 {
		for _, t := range texts {
			tokens += estimateTokens(t)
		}
	}

	return parsed.Embeddings, tokens, nil
}

// classifyLocalStatus maps HTTP failures: 404 means the model is not pulled,
// 5xx is transient, everything else fails fast.
func classifyLocalStatus(status int, body, model string) error {
	switch {
	case status >= 500:
		return errors.New(errors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("local embedding server returned status %d", status), nil).
			WithDetail("body", truncateBody(body))
	case status == http.StatusNotFound:
		return errors.New(errors.ErrCodeBackendUnavailable,
			fmt.Sprintf("local embedding model %q is not available", model), nil).
			WithSuggestion(fmt.Sprintf("Pull the model: ollama pull %s", model))
	default:
		return errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("local embedding server returned status %d", status), nil).
			WithDetail("body", truncateBody(body))
	}
}
