package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/chunk"
	"github.com/docdex/docdex/internal/errors"
)

func testChunk(docID, docType string, idx int, content string) chunk.Chunk {
	return chunk.Chunk{
		Content: content,
		Metadata: chunk.Metadata{
			SourceFile:     docID + ".md",
			DocID:          docID,
			DocType:        docType,
			SectionPath:    "Root",
			ChunkIndex:     idx,
			TokenCount:     len(content) / 4,
			ContentPreview: content,
		},
	}
}

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:                filepath.Join(dir, "index.db"),
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchemaOnce(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)

	meta := s.Metadata()
	assert.Equal(t, SchemaVersion, meta.SchemaVersion)
	assert.Equal(t, "nomic-embed-text", meta.EmbeddingModel)
	assert.Equal(t, 4, meta.EmbeddingDimensions)
	assert.False(t, meta.CreatedAt.IsZero())
	require.NoError(t, s.Close())

	// Reopen preserves the original creation metadata.
	s2 := openTestStore(t, dir)
	assert.Equal(t, meta.CreatedAt.Unix(), s2.Metadata().CreatedAt.Unix())
}

func TestOpen_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Close())

	_, err := Open(context.Background(), Config{
		Path:                filepath.Join(dir, "index.db"),
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimensions: 8,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))

	var de *errors.DexError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Suggestion, "--force")
}

func TestOpen_ModelAliasUpdatesAtEqualDims(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	require.NoError(t, s.Close())

	s2, err := Open(context.Background(), Config{
		Path:                filepath.Join(dir, "index.db"),
		EmbeddingModel:      "nomic-embed-text:v1.5",
		EmbeddingDimensions: 4,
	})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	assert.Equal(t, "nomic-embed-text:v1.5", s2.Metadata().EmbeddingModel)
}

func TestStore_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	chunks := []chunk.Chunk{
		testChunk("guide", "guide", 0, "install instructions"),
		testChunk("guide", "guide", 1, "upgrade instructions"),
		testChunk("api", "api", 0, "endpoint reference"),
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	require.NoError(t, s.InsertChunks(ctx, chunks, embeddings))

	n, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "guide", matches[0].DocID)
	assert.Equal(t, 0, matches[0].ChunkIndex)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-5)
	assert.Equal(t, "install instructions", matches[0].Content)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i].Distance, matches[i-1].Distance)
	}
}

func TestStore_SearchDocTypeFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	chunks := []chunk.Chunk{
		testChunk("guide", "guide", 0, "guide text"),
		testChunk("api", "api", 0, "api text"),
		testChunk("overview", "overview", 0, "overview text"),
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 0, 1, 0},
	}
	require.NoError(t, s.InsertChunks(ctx, chunks, embeddings))

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		TopK:     5,
		DocTypes: []string{"api", "overview"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "api", matches[0].DocType, "merged results are ordered by distance")
	assert.Equal(t, "overview", matches[1].DocType)
}

func TestStore_InsertChunks_CountMismatch(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	err := s.InsertChunks(context.Background(),
		[]chunk.Chunk{testChunk("a", "general", 0, "x")},
		nil)
	require.Error(t, err)
}

func TestStore_InsertChunks_WrongWidthRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	err := s.InsertChunks(ctx,
		[]chunk.Chunk{
			testChunk("a", "general", 0, "first"),
			testChunk("a", "general", 1, "second"),
		},
		[][]float32{
			{1, 0, 0, 0},
			{1, 0}, // wrong width
		})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))

	n, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "partial insert must roll back")
}

func TestStore_ReplaceDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.ReplaceDocument(ctx, "guide",
		[]chunk.Chunk{
			testChunk("guide", "guide", 0, "old first"),
			testChunk("guide", "guide", 1, "old second"),
		},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		DocumentFingerprint{DocID: "guide", Fingerprint: "aaa", IndexedAt: time.Now(), ChunkCount: 2}))

	require.NoError(t, s.ReplaceDocument(ctx, "guide",
		[]chunk.Chunk{testChunk("guide", "guide", 0, "new only")},
		[][]float32{{0, 0, 1, 0}},
		DocumentFingerprint{DocID: "guide", Fingerprint: "bbb", IndexedAt: time.Now(), ChunkCount: 1}))

	n, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fp, err := s.GetFingerprint(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, "bbb", fp.Fingerprint)
	assert.Equal(t, 1, fp.ChunkCount)
}

func TestStore_ReplaceDocument_FailureKeepsOldRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.ReplaceDocument(ctx, "guide",
		[]chunk.Chunk{testChunk("guide", "guide", 0, "committed")},
		[][]float32{{1, 0, 0, 0}},
		DocumentFingerprint{DocID: "guide", Fingerprint: "aaa", IndexedAt: time.Now(), ChunkCount: 1}))

	err := s.ReplaceDocument(ctx, "guide",
		[]chunk.Chunk{testChunk("guide", "guide", 0, "replacement")},
		[][]float32{{1, 0}}, // wrong width aborts the transaction
		DocumentFingerprint{DocID: "guide", Fingerprint: "bbb", IndexedAt: time.Now(), ChunkCount: 1})
	require.Error(t, err)

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "committed", matches[0].Content)

	fp, err := s.GetFingerprint(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, "aaa", fp.Fingerprint, "fingerprint must not advance past a failed replace")
}

func TestStore_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.ReplaceDocument(ctx, "guide",
		[]chunk.Chunk{
			testChunk("guide", "guide", 0, "first"),
			testChunk("guide", "guide", 1, "second"),
		},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		DocumentFingerprint{DocID: "guide", Fingerprint: "aaa", IndexedAt: time.Now(), ChunkCount: 2}))
	require.NoError(t, s.ReplaceDocument(ctx, "api",
		[]chunk.Chunk{testChunk("api", "api", 0, "kept")},
		[][]float32{{0, 0, 1, 0}},
		DocumentFingerprint{DocID: "api", Fingerprint: "bbb", IndexedAt: time.Now(), ChunkCount: 1}))

	n, err := s.RemoveDocument(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetFingerprint(ctx, "guide")
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chunks, "other documents untouched")

	// Removing an absent document is a no-op.
	n, err = s.RemoveDocument(ctx, "guide")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_Fingerprints(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	_, err := s.GetFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpsertFingerprint(ctx, DocumentFingerprint{
		DocID: "b-doc", Fingerprint: "f2", IndexedAt: now, ChunkCount: 2,
	}))
	require.NoError(t, s.UpsertFingerprint(ctx, DocumentFingerprint{
		DocID: "a-doc", Fingerprint: "f1", IndexedAt: now, ChunkCount: 1,
	}))

	fps, err := s.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, fps, 2)
	assert.Equal(t, "a-doc", fps[0].DocID, "ordered by doc ID")
	assert.Equal(t, now, fps[1].IndexedAt)

	docs, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
}

func TestStore_OperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Close())

	_, err := s.ChunkCount(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close(), "double close is a no-op")
}

func TestValidateDimensions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	// Missing database is valid: it will be created.
	require.NoError(t, ValidateDimensions(ctx, path, "nomic-embed-text", 4))

	s := openTestStore(t, dir)
	require.NoError(t, s.Close())

	require.NoError(t, ValidateDimensions(ctx, path, "nomic-embed-text", 4))

	err := ValidateDimensions(ctx, path, "nomic-embed-text", 8)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDimensionMismatch, errors.GetCode(err))
}

func TestReadMetadata_MissingDatabase(t *testing.T) {
	_, err := ReadMetadata(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDatabaseMissing, errors.GetCode(err))
}
