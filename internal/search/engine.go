// Package search answers semantic queries against the vector index.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/scanner"
	"github.com/docdex/docdex/internal/store"
)

const (
	// DefaultTopK applies when the caller leaves TopK at zero.
	DefaultTopK = 10
	// defaultCacheSize bounds the query-embedding cache.
	defaultCacheSize = 128
)

// Options constrain one search.
type Options struct {
	// TopK is the number of matches to return; 0 means DefaultTopK.
	TopK int
	// DocTypes filters matches to these types.
	DocTypes []string
	// Interactive indicates a human can answer the remote-fallback prompt.
	Interactive bool
	Confirm     embed.ConfirmFunc
}

// Match is one scored search hit.
type Match struct {
	SourceFile     string  `json:"source_file"`
	SectionPath    string  `json:"section_path"`
	DocType        string  `json:"doc_type"`
	ChunkIndex     int     `json:"chunk_index"`
	ContentPreview string  `json:"content_preview"`
	Content        string  `json:"content"`
	Distance       float64 `json:"distance"`
	// Relevance is clamp(1 - distance/2, 0, 1) * 100.
	Relevance float64 `json:"relevance"`
}

// Result is the outcome of one search.
type Result struct {
	Query        string        `json:"query"`
	TopK         int           `json:"top_k"`
	TotalMatches int           `json:"total_matches"`
	Matches      []Match       `json:"matches"`
	Filters      []string      `json:"filters,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// EngineDependencies are the injected collaborators of an Engine.
type EngineDependencies struct {
	Config *config.Config
	Router *embed.Router
	// OpenStore defaults to store.Open.
	OpenStore func(ctx context.Context, cfg store.Config) (*store.Store, error)
	Logger    *slog.Logger
}

// Engine resolves a backend, embeds the query, and runs KNN search.
type Engine struct {
	config    *config.Config
	router    *embed.Router
	openStore func(ctx context.Context, cfg store.Config) (*store.Store, error)
	logger    *slog.Logger
	// cache holds query embeddings keyed by model and query text.
	cache *lru.Cache[string, []float32]
}

// NewEngine validates dependencies and creates an Engine.
func NewEngine(deps EngineDependencies) (*Engine, error) {
	if deps.Config == nil {
		return nil, errors.InternalError("engine requires a config", nil)
	}
	if deps.Router == nil {
		return nil, errors.InternalError("engine requires a router", nil)
	}
	if deps.OpenStore == nil {
		deps.OpenStore = store.Open
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	size := deps.Config.Query.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, errors.InternalError("failed to create query cache", err)
	}

	return &Engine{
		config:    deps.Config,
		router:    deps.Router,
		openStore: deps.OpenStore,
		logger:    deps.Logger,
		cache:     cache,
	}, nil
}

// Search runs one semantic query against the database at dbPath.
func (e *Engine) Search(ctx context.Context, dbPath, query string, opts Options) (*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide a query: docdex search \"how does authentication work\"")
	}

	topK := opts.TopK
	if topK == 0 {
		topK = e.defaultTopK()
	}
	if topK < 0 {
		return nil, errors.New(errors.ErrCodeInvalidTopK,
			fmt.Sprintf("top-k must be positive, got %d", topK), nil)
	}

	if err := validateDocTypes(opts.DocTypes); err != nil {
		return nil, err
	}

	meta, err := store.ReadMetadata(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	route, err := e.router.Resolve(ctx, embed.OperationRetrieval, embed.ResolveOptions{
		Interactive: opts.Interactive,
		Confirm:     opts.Confirm,
	})
	if err != nil {
		return nil, err
	}
	backend := route.Backend
	defer func() { _ = backend.Close() }()

	if err := checkCompatibility(meta, backend); err != nil {
		return nil, err
	}

	st, err := e.openStore(ctx, store.Config{
		Path:                dbPath,
		EmbeddingModel:      meta.EmbeddingModel,
		EmbeddingDimensions: meta.EmbeddingDimensions,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	chunks, err := st.ChunkCount(ctx)
	if err != nil {
		return nil, err
	}
	if chunks == 0 {
		return nil, errors.New(errors.ErrCodeEmptyIndex, "the index holds no chunks", nil).
			WithSuggestion("Index the documents first: docdex index")
	}

	queryEmbedding, err := e.embedQuery(ctx, backend, query)
	if err != nil {
		return nil, err
	}

	matches, err := st.Search(ctx, queryEmbedding, store.SearchOptions{
		TopK:     topK,
		DocTypes: opts.DocTypes,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Query:    query,
		TopK:     topK,
		Filters:  opts.DocTypes,
		Matches:  make([]Match, 0, len(matches)),
		Duration: time.Since(start),
	}
	for _, m := range matches {
		result.Matches = append(result.Matches, Match{
			SourceFile:     m.SourceFile,
			SectionPath:    m.SectionPath,
			DocType:        m.DocType,
			ChunkIndex:     m.ChunkIndex,
			ContentPreview: m.ContentPreview,
			Content:        m.Content,
			Distance:       m.Distance,
			Relevance:      relevance(m.Distance),
		})
	}
	result.TotalMatches = len(result.Matches)

	e.logger.Info("search_completed",
		slog.String("query", query),
		slog.Int("matches", result.TotalMatches),
		slog.String("provider", route.Metadata.Provider),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Engine) defaultTopK() int {
	if e.config.Query.TopK > 0 {
		return e.config.Query.TopK
	}
	return DefaultTopK
}

// embedQuery embeds the query text through the per-model LRU cache.
func (e *Engine) embedQuery(ctx context.Context, backend embed.Backend, query string) ([]float32, error) {
	key := backend.ModelName() + "\x00" + query
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := backend.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// checkCompatibility asserts the index was built by the active backend's
// model at the active width.
func checkCompatibility(meta *store.SchemaMetadata, backend embed.Backend) error {
	if meta.EmbeddingModel != backend.ModelName() {
		return errors.New(errors.ErrCodeIndexIncompatible,
			fmt.Sprintf("index was built with model %s, the active backend is %s",
				meta.EmbeddingModel, backend.ModelName()), nil).
			WithSuggestion("Rebuild the index with the active model: docdex index --force")
	}
	if dims := backend.Dimensions(); dims > 0 && dims != meta.EmbeddingDimensions {
		return errors.New(errors.ErrCodeIndexIncompatible,
			fmt.Sprintf("index holds %d-dimensional embeddings, the active backend produces %d",
				meta.EmbeddingDimensions, dims), nil).
			WithSuggestion("Rebuild the index with the active model: docdex index --force")
	}
	return nil
}

func validateDocTypes(docTypes []string) error {
	for _, t := range docTypes {
		if scanner.IsKnownDocType(t) {
			continue
		}
		err := errors.New(errors.ErrCodeUnknownDocType,
			fmt.Sprintf("unknown doc type %q", t), nil)
		if suggestions := suggestDocTypes(t); len(suggestions) > 0 {
			err = err.WithSuggestion("Did you mean: " + strings.Join(suggestions, ", "))
		} else {
			err = err.WithSuggestion("Known doc types: " + strings.Join(scanner.KnownDocTypes(), ", "))
		}
		return err
	}
	return nil
}

// relevance maps cosine distance in [0, 2] to a 0-100 score.
func relevance(distance float64) float64 {
	score := 1 - distance/2
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score * 100
}
