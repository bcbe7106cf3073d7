package search

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/chunk"
	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/embed"
	"github.com/docdex/docdex/internal/errors"
	"github.com/docdex/docdex/internal/store"
)

// stubBackend answers every Embed with a fixed query vector.
type stubBackend struct {
	mu         sync.Mutex
	model      string
	dims       int
	queryVec   []float32
	embedCalls int
}

var _ embed.Backend = (*stubBackend)(nil)

func (b *stubBackend) Provider() embed.Provider { return embed.ProviderRemote }
func (b *stubBackend) ModelName() string        { return b.model }
func (b *stubBackend) Dimensions() int          { return b.dims }
func (b *stubBackend) Close() error             { return nil }

func (b *stubBackend) Embed(_ context.Context, _ string) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.embedCalls++
	return b.queryVec, nil
}

func (b *stubBackend) EmbedBatch(ctx context.Context, texts []string) (*embed.BatchResult, error) {
	res := &embed.BatchResult{Dimensions: b.dims}
	for range texts {
		vec, _ := b.Embed(ctx, "")
		res.Embeddings = append(res.Embeddings, vec)
	}
	return res, nil
}

func (b *stubBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.embedCalls
}

func newTestEngine(t *testing.T, backend *stubBackend) *Engine {
	t.Helper()
	router, err := embed.NewRouter(embed.RouterConfig{
		Mode:   embed.ModeRemoteOnly,
		Remote: func() (embed.Backend, error) { return backend, nil },
	})
	require.NoError(t, err)

	engine, err := NewEngine(EngineDependencies{
		Config: config.NewConfig(),
		Router: router,
	})
	require.NoError(t, err)
	return engine
}

func testChunk(docID, docType string, idx int, content string) chunk.Chunk {
	return chunk.Chunk{
		Content: content,
		Metadata: chunk.Metadata{
			SourceFile:     docID + ".md",
			DocID:          docID,
			DocType:        docType,
			SectionPath:    "Root",
			ChunkIndex:     idx,
			ContentPreview: content,
		},
	}
}

// buildIndex creates a 4-dim database for model "stub-model" with three
// chunks at known positions relative to the query vector [1,0,0,0].
func buildIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	st, err := store.Open(context.Background(), store.Config{
		Path:                path,
		EmbeddingModel:      "stub-model",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	chunks := []chunk.Chunk{
		testChunk("guide", "guide", 0, "exact match"),
		testChunk("api", "api", 0, "orthogonal"),
		testChunk("overview", "overview", 0, "close match"),
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.8, 0.6, 0, 0},
	}
	require.NoError(t, st.InsertChunks(context.Background(), chunks, embeddings))

	fp := store.DocumentFingerprint{Fingerprint: "x", IndexedAt: time.Now(), ChunkCount: 1}
	for _, docID := range []string{"guide", "api", "overview"} {
		fp.DocID = docID
		require.NoError(t, st.UpsertFingerprint(context.Background(), fp))
	}
	return path
}

func newQueryBackend() *stubBackend {
	return &stubBackend{model: "stub-model", dims: 4, queryVec: []float32{1, 0, 0, 0}}
}

func TestEngine_Search(t *testing.T) {
	dbPath := buildIndex(t)
	engine := newTestEngine(t, newQueryBackend())

	result, err := engine.Search(context.Background(), dbPath, "  how does it work  ", Options{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, "how does it work", result.Query, "query is trimmed")
	assert.Equal(t, 3, result.TopK)
	assert.Equal(t, 3, result.TotalMatches)

	require.Len(t, result.Matches, 3)
	assert.Equal(t, "guide.md", result.Matches[0].SourceFile)
	assert.InDelta(t, 100.0, result.Matches[0].Relevance, 0.01, "distance 0 scores 100")

	assert.Equal(t, "overview.md", result.Matches[1].SourceFile)
	// cosine similarity 0.8 -> distance 0.2 -> relevance 90
	assert.InDelta(t, 90.0, result.Matches[1].Relevance, 0.5)

	assert.Equal(t, "api.md", result.Matches[2].SourceFile)
	assert.InDelta(t, 50.0, result.Matches[2].Relevance, 0.5, "orthogonal scores 50")

	for i := 1; i < len(result.Matches); i++ {
		assert.GreaterOrEqual(t, result.Matches[i].Distance, result.Matches[i-1].Distance)
	}
}

func TestEngine_Search_DocTypeFilter(t *testing.T) {
	dbPath := buildIndex(t)
	engine := newTestEngine(t, newQueryBackend())

	result, err := engine.Search(context.Background(), dbPath, "query", Options{
		TopK:     5,
		DocTypes: []string{"api"},
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "api", result.Matches[0].DocType)
	assert.Equal(t, []string{"api"}, result.Filters)
}

func TestEngine_Search_DefaultTopK(t *testing.T) {
	dbPath := buildIndex(t)
	engine := newTestEngine(t, newQueryBackend())

	result, err := engine.Search(context.Background(), dbPath, "query", Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, result.TopK)
	assert.Equal(t, 3, result.TotalMatches, "fewer matches than top-k is fine")
}

func TestEngine_Search_EmptyQuery(t *testing.T) {
	engine := newTestEngine(t, newQueryBackend())

	_, err := engine.Search(context.Background(), "unused.db", "   ", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryEmpty, errors.GetCode(err))
}

func TestEngine_Search_NegativeTopK(t *testing.T) {
	engine := newTestEngine(t, newQueryBackend())

	_, err := engine.Search(context.Background(), "unused.db", "query", Options{TopK: -1})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidTopK, errors.GetCode(err))
}

func TestEngine_Search_UnknownDocType(t *testing.T) {
	engine := newTestEngine(t, newQueryBackend())

	_, err := engine.Search(context.Background(), "unused.db", "query", Options{
		DocTypes: []string{"gide"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownDocType, errors.GetCode(err))

	var de *errors.DexError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Suggestion, "guide")
}

func TestEngine_Search_MissingDatabase(t *testing.T) {
	engine := newTestEngine(t, newQueryBackend())

	_, err := engine.Search(context.Background(),
		filepath.Join(t.TempDir(), "absent.db"), "query", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDatabaseMissing, errors.GetCode(err))

	var de *errors.DexError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Suggestion, "docdex index")
}

func TestEngine_Search_ModelMismatch(t *testing.T) {
	dbPath := buildIndex(t)
	backend := &stubBackend{model: "other-model", dims: 4, queryVec: []float32{1, 0, 0, 0}}
	engine := newTestEngine(t, backend)

	_, err := engine.Search(context.Background(), dbPath, "query", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexIncompatible, errors.GetCode(err))

	var de *errors.DexError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Suggestion, "--force")
}

func TestEngine_Search_DimensionMismatch(t *testing.T) {
	dbPath := buildIndex(t)
	backend := &stubBackend{model: "stub-model", dims: 8, queryVec: make([]float32, 8)}
	engine := newTestEngine(t, backend)

	_, err := engine.Search(context.Background(), dbPath, "query", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexIncompatible, errors.GetCode(err))
}

func TestEngine_Search_EmptyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	st, err := store.Open(context.Background(), store.Config{
		Path:                path,
		EmbeddingModel:      "stub-model",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	engine := newTestEngine(t, newQueryBackend())
	_, err = engine.Search(context.Background(), path, "query", Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyIndex, errors.GetCode(err))
}

func TestEngine_Search_QueryCacheHit(t *testing.T) {
	dbPath := buildIndex(t)
	backend := newQueryBackend()
	engine := newTestEngine(t, backend)

	_, err := engine.Search(context.Background(), dbPath, "same query", Options{})
	require.NoError(t, err)
	_, err = engine.Search(context.Background(), dbPath, "same query", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls(), "second identical query hits the cache")

	_, err = engine.Search(context.Background(), dbPath, "different query", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls())
}

func TestNewEngine_Validation(t *testing.T) {
	router, err := embed.NewRouter(embed.RouterConfig{
		Mode:   embed.ModeRemoteOnly,
		Remote: func() (embed.Backend, error) { return newQueryBackend(), nil },
	})
	require.NoError(t, err)

	_, err = NewEngine(EngineDependencies{Router: router})
	assert.Error(t, err)
	_, err = NewEngine(EngineDependencies{Config: config.NewConfig()})
	assert.Error(t, err)
}

func TestRelevance(t *testing.T) {
	assert.InDelta(t, 100.0, relevance(0), 1e-9)
	assert.InDelta(t, 50.0, relevance(1), 1e-9)
	assert.InDelta(t, 0.0, relevance(2), 1e-9)
	assert.InDelta(t, 0.0, relevance(2.5), 1e-9, "clamped below zero")
	assert.InDelta(t, 100.0, relevance(-0.1), 1e-9, "clamped above one")
}
