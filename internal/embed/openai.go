package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/docdex/docdex/internal/errors"
)

// Remote backend defaults.
const (
	DefaultRemoteBaseURL   = "https://api.openai.com/v1"
	DefaultRemoteBatchSize = 100
	DefaultRemoteTimeout   = 60 * time.Second

	// remoteSubBatchConcurrency bounds in-flight sub-batch requests.
	remoteSubBatchConcurrency = 4
)

// knownModelDimensions lets dimension validation run before the first API call
// for the common models. Unknown models discover their width lazily.
var knownModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// RemoteEmbedderConfig configures the OpenAI-compatible backend.
type RemoteEmbedderConfig struct {
	BaseURL string
	Model   string
	// APIKey is the resolved credential (never a file path or env var name).
	APIKey            string
	BatchSize         int
	RequestsPerMinute int
	Timeout           time.Duration
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// RemoteEmbedder generates embeddings through an OpenAI-compatible
// /embeddings endpoint.
type RemoteEmbedder struct {
	client  *http.Client
	cfg     RemoteEmbedderConfig
	limiter *rate.Limiter
	retry   errors.RetryConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Backend = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates the remote backend. A missing API key is a
// configuration error surfaced immediately, never at request time.
func NewRemoteEmbedder(cfg RemoteEmbedderConfig) (*RemoteEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrCodeCredentialMissing,
			"remote embedding API key is not set", nil).
			WithSuggestion("Export the API key, e.g.: export OPENAI_API_KEY=sk-...")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRemoteBaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRemoteBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &RemoteEmbedder{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, remoteSubBatchConcurrency),
		retry: errors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 10 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		dims: knownModelDimensions[cfg.Model],
	}, nil
}

// Provider implements Backend.
func (e *RemoteEmbedder) Provider() Provider { return ProviderRemote }

// ModelName implements Backend.
func (e *RemoteEmbedder) ModelName() string { return e.cfg.Model }

// Dimensions implements Backend.
func (e *RemoteEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// Close implements Backend.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// Embed generates an embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
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

// EmbedBatch splits texts into sub-batches, runs them with bounded
// concurrency, and reassembles results in input order. Empty texts
// short-circuit to zero vectors without an API call.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.InternalError("remote embedder is closed", nil)
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

	var tokenMu sync.Mutex
	totalTokens := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteSubBatchConcurrency)

	for start := 0; start < len(nonEmpty); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]

		g.Go(func() error {
			if err := e.limiter.Wait(gctx); err != nil {
				return err
			}

			batchTexts := make([]string, len(batch))
			for i, it := range batch {
				batchTexts[i] = it.text
			}

			embeddings, tokens, err := e.embedSubBatch(gctx, batchTexts)
			if err != nil {
				return err
			}

			// Sub-batches write disjoint indices; no lock needed for results.
			for i, emb := range embeddings {
				results[batch[i].idx] = normalizeVector(emb)
			}

			tokenMu.Lock()
			totalTokens += tokens
			tokenMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dims := e.Dimensions()
	if dims == 0 && len(nonEmpty) > 0 {
		dims = len(results[nonEmpty[0].idx])
		e.mu.Lock()
		e.dims = dims
		e.mu.Unlock()
	}

	// Fill zero vectors for empty inputs now that the width is known.
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

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type remoteEmbedResponse struct {
	Data  []remoteEmbedData `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// embedSubBatch issues one API call with retry on transient failures.
func (e *RemoteEmbedder) embedSubBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	type subResult struct {
		embeddings [][]float32
		tokens     int
	}

	res, err := errors.RetryWithResult(ctx, e.retry, func() (subResult, error) {
		embeddings, tokens, err := e.doEmbed(ctx, texts)
		return subResult{embeddings, tokens}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.embeddings, res.tokens, nil
}

// doEmbed issues a single /embeddings request.
func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, int, error) {
	body, err := json.Marshal(remoteEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, 0, errors.InternalError("failed to marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	url := strings.TrimSuffix(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, errors.InternalError("failed to create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, 0, errors.New(errors.ErrCodeNetworkTimeout,
				fmt.Sprintf("embedding request timed out after %s", e.cfg.Timeout), err)
		}
		return nil, 0, errors.NetworkError("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, classifyRemoteStatus(resp.StatusCode, string(respBody))
	}

	var parsed remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
			"failed to decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
			fmt.Sprintf("embedding response has %d items, expected %d", len(parsed.Data), len(texts)), nil)
	}

	// The API may return items out of order; the index field is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	embeddings := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			return nil, 0, errors.New(errors.ErrCodeMalformedResponse,
				fmt.Sprintf("embedding response item %d is invalid", i), nil)
		}
		embeddings[i] = d.Embedding
	}

	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		for _, t := range texts {
			tokens += estimateTokens(t)
		}
	}

	return embeddings, tokens, nil
}

// classifyRemoteStatus maps HTTP failures onto the retry taxonomy:
// 429 and 5xx are transient, auth failures are config errors, everything
// else fails fast.
func classifyRemoteStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.New(errors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("embedding API returned status %d", status), nil).
			WithDetail("body", truncateBody(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrCodeCredentialMissing,
			fmt.Sprintf("embedding API rejected the credential (status %d)", status), nil).
			WithSuggestion("Check that the configured API key is valid and not expired")
	default:
		return errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding API returned status %d", status), nil).
			WithDetail("body", truncateBody(body))
	}
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
