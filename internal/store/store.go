package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/docdex/docdex/internal/chunk"
	"github.com/docdex/docdex/internal/errors"
)

// vecOnce registers the vec0 extension for every sqlite3 connection opened in
// this process.
var vecOnce sync.Once

func registerVec() {
	vecOnce.Do(sqlite_vec.Auto)
}

// Store is the vector store. A single connection (SetMaxOpenConns(1)) keeps
// SQLite writes serialized; the struct itself is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	meta   SchemaMetadata
	closed bool
}

// Open opens or creates the database at cfg.Path, validating stored schema
// metadata against the configured embedding model and dimensions.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.ValidationError("database path is empty", nil)
	}
	if cfg.EmbeddingDimensions <= 0 {
		return nil, errors.ValidationError(
			fmt.Sprintf("invalid embedding dimensions %d", cfg.EmbeddingDimensions), nil)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.IOError("failed to create database directory", err)
	}

	db, err := openDB(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: cfg.Path}
	if err := s.initSchema(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	registerVec()

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.IOError("failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.IOError(fmt.Sprintf("failed to open database at %s", path), err)
	}

	var vecVersion string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&vecVersion); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeExtensionLoad,
			"sqlite-vec extension is not available", err).
			WithSuggestion("Rebuild docdex with CGO enabled; the vector index requires the bundled sqlite-vec extension")
	}

	return db, nil
}

func (s *Store) initSchema(ctx context.Context, cfg Config) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_meta'`).Scan(&count)
	if err != nil {
		return errors.IOError("failed to inspect database schema", err)
	}

	if count == 0 {
		return s.createSchema(ctx, cfg)
	}

	meta, err := readMetadata(ctx, s.db)
	if err != nil {
		return err
	}
	if meta.EmbeddingDimensions != cfg.EmbeddingDimensions {
		return dimensionMismatchError(meta.EmbeddingDimensions, cfg.EmbeddingDimensions)
	}
	if meta.EmbeddingModel != cfg.EmbeddingModel && cfg.EmbeddingModel != "" {
		// Same width, different name: treat as a model alias rename.
		_, err := s.db.ExecContext(ctx,
			`UPDATE schema_meta SET value = ? WHERE key = 'embedding_model'`, cfg.EmbeddingModel)
		if err != nil {
			return errors.IOError("failed to update embedding model metadata", err)
		}
		meta.EmbeddingModel = cfg.EmbeddingModel
	}

	s.meta = *meta
	return nil
}

func (s *Store) createSchema(ctx context.Context, cfg Config) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.IOError("failed to begin schema transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS doc_fingerprints (
			doc_id      TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			indexed_at  TEXT NOT NULL,
			chunk_count INTEGER NOT NULL
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS doc_chunks USING vec0(
			embedding float[%d] distance_metric=cosine,
			doc_id TEXT,
			doc_type TEXT,
			chunk_index INTEGER,
			+source_file TEXT,
			+section_path TEXT,
			+h1 TEXT,
			+h2 TEXT,
			+h3 TEXT,
			+token_count INTEGER,
			+content_preview TEXT,
			+content TEXT
		)`, cfg.EmbeddingDimensions),
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.IOError("failed to create database schema", err)
		}
	}

	meta := SchemaMetadata{
		SchemaVersion:       SchemaVersion,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		CreatedAt:           time.Now().UTC(),
	}
	pairs := map[string]string{
		"schema_version":       strconv.Itoa(meta.SchemaVersion),
		"embedding_model":      meta.EmbeddingModel,
		"embedding_dimensions": strconv.Itoa(meta.EmbeddingDimensions),
		"created_at":           meta.CreatedAt.Format(time.RFC3339),
	}
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return errors.IOError("failed to write schema metadata", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.IOError("failed to commit schema transaction", err)
	}
	s.meta = meta
	return nil
}

// Metadata returns the schema metadata captured at open.
func (s *Store) Metadata() SchemaMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Close closes the database. Subsequent operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// InsertChunks stores chunks with their embeddings. Lengths must match.
func (s *Store) InsertChunks(ctx context.Context, chunks []chunk.Chunk, embeddings [][]float32) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(chunks) != len(embeddings) {
		return errors.ValidationError(
			fmt.Sprintf("chunk/embedding count mismatch: %d chunks, %d embeddings",
				len(chunks), len(embeddings)), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.IOError("failed to begin insert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertChunksTx(ctx, tx, chunks, embeddings); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.IOError("failed to commit insert transaction", err)
	}
	return nil
}

func (s *Store) insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []chunk.Chunk, embeddings [][]float32) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO doc_chunks
		(embedding, doc_id, doc_type, chunk_index,
		 source_file, section_path, h1, h2, h3, token_count, content_preview, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.IOError("failed to prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		if len(embeddings[i]) != s.meta.EmbeddingDimensions {
			return dimensionMismatchError(s.meta.EmbeddingDimensions, len(embeddings[i]))
		}
		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return errors.InternalError("failed to serialize embedding", err)
		}
		m := c.Metadata
		if _, err := stmt.ExecContext(ctx, blob,
			m.DocID, m.DocType, m.ChunkIndex,
			m.SourceFile, m.SectionPath, m.H1, m.H2, m.H3,
			m.TokenCount, m.ContentPreview, c.Content); err != nil {
			return errors.IOError(fmt.Sprintf("failed to insert chunk %d of %s", m.ChunkIndex, m.DocID), err)
		}
	}
	return nil
}

// DeleteDocumentChunks removes all chunks of a document, returning the number
// of rows removed.
func (s *Store) DeleteDocumentChunks(ctx context.Context, docID string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.IOError("failed to begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := deleteDocumentChunksTx(ctx, tx, docID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.IOError("failed to commit delete transaction", err)
	}
	return n, nil
}

func deleteDocumentChunksTx(ctx context.Context, tx *sql.Tx, docID string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doc_chunks WHERE doc_id = ?`, docID).Scan(&n); err != nil {
		return 0, errors.IOError("failed to count document chunks", err)
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_chunks WHERE doc_id = ?`, docID); err != nil {
		return 0, errors.IOError(fmt.Sprintf("failed to delete chunks of %s", docID), err)
	}
	return n, nil
}

// RemoveDocument deletes a document's chunks and its fingerprint in one
// transaction. Returns the number of chunks removed.
func (s *Store) RemoveDocument(ctx context.Context, docID string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.IOError("failed to begin remove transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	n, err := deleteDocumentChunksTx(ctx, tx, docID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM doc_fingerprints WHERE doc_id = ?`, docID); err != nil {
		return 0, errors.IOError(fmt.Sprintf("failed to delete fingerprint of %s", docID), err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.IOError(fmt.Sprintf("failed to commit remove of %s", docID), err)
	}
	return n, nil
}

// ReplaceDocument swaps a document's chunks and updates its fingerprint in
// one transaction. A failure leaves the previously indexed rows intact.
func (s *Store) ReplaceDocument(ctx context.Context, docID string, chunks []chunk.Chunk, embeddings [][]float32, fp DocumentFingerprint) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(chunks) != len(embeddings) {
		return errors.ValidationError(
			fmt.Sprintf("chunk/embedding count mismatch: %d chunks, %d embeddings",
				len(chunks), len(embeddings)), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.IOError("failed to begin replace transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := deleteDocumentChunksTx(ctx, tx, docID); err != nil {
		return err
	}
	if err := s.insertChunksTx(ctx, tx, chunks, embeddings); err != nil {
		return err
	}
	if err := upsertFingerprintTx(ctx, tx, fp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.IOError(fmt.Sprintf("failed to commit replace of %s", docID), err)
	}
	return nil
}

// UpsertFingerprint inserts or updates a document fingerprint.
func (s *Store) UpsertFingerprint(ctx context.Context, fp DocumentFingerprint) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.IOError("failed to begin fingerprint transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertFingerprintTx(ctx, tx, fp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.IOError("failed to commit fingerprint transaction", err)
	}
	return nil
}

func upsertFingerprintTx(ctx context.Context, tx *sql.Tx, fp DocumentFingerprint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO doc_fingerprints
		(doc_id, fingerprint, indexed_at, chunk_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			indexed_at  = excluded.indexed_at,
			chunk_count = excluded.chunk_count`,
		fp.DocID, fp.Fingerprint, fp.IndexedAt.UTC().Format(time.RFC3339), fp.ChunkCount)
	if err != nil {
		return errors.IOError(fmt.Sprintf("failed to upsert fingerprint of %s", fp.DocID), err)
	}
	return nil
}

// GetFingerprint returns a document's fingerprint, or ErrNotFound.
func (s *Store) GetFingerprint(ctx context.Context, docID string) (*DocumentFingerprint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var fp DocumentFingerprint
	var indexedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, fingerprint, indexed_at, chunk_count
		 FROM doc_fingerprints WHERE doc_id = ?`, docID).
		Scan(&fp.DocID, &fp.Fingerprint, &indexedAt, &fp.ChunkCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.IOError(fmt.Sprintf("failed to read fingerprint of %s", docID), err)
	}
	fp.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	return &fp, nil
}

// ListFingerprints returns all fingerprints ordered by doc ID.
func (s *Store) ListFingerprints(ctx context.Context) ([]DocumentFingerprint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, fingerprint, indexed_at, chunk_count
		 FROM doc_fingerprints ORDER BY doc_id`)
	if err != nil {
		return nil, errors.IOError("failed to list fingerprints", err)
	}
	defer func() { _ = rows.Close() }()

	var fps []DocumentFingerprint
	for rows.Next() {
		var fp DocumentFingerprint
		var indexedAt string
		if err := rows.Scan(&fp.DocID, &fp.Fingerprint, &indexedAt, &fp.ChunkCount); err != nil {
			return nil, errors.IOError("failed to scan fingerprint row", err)
		}
		fp.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.IOError("failed to read fingerprint rows", err)
	}
	return fps, nil
}

// Search runs a KNN query ordered by ascending cosine distance. With doc-type
// filters, one equality-constrained KNN runs per type and the results are
// merged by distance.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, opts SearchOptions) ([]Match, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if len(queryEmbedding) != s.meta.EmbeddingDimensions {
		return nil, dimensionMismatchError(s.meta.EmbeddingDimensions, len(queryEmbedding))
	}
	if opts.TopK <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("invalid top-k %d", opts.TopK), nil)
	}

	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, errors.InternalError("failed to serialize query embedding", err)
	}

	if len(opts.DocTypes) == 0 {
		return s.knn(ctx, blob, opts.TopK, "")
	}

	var merged []Match
	for _, docType := range opts.DocTypes {
		matches, err := s.knn(ctx, blob, opts.TopK, docType)
		if err != nil {
			return nil, err
		}
		merged = append(merged, matches...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > opts.TopK {
		merged = merged[:opts.TopK]
	}
	return merged, nil
}

func (s *Store) knn(ctx context.Context, queryBlob []byte, k int, docType string) ([]Match, error) {
	query := `SELECT doc_id, doc_type, chunk_index,
			source_file, section_path, content_preview, content, distance
		FROM doc_chunks
		WHERE embedding MATCH ? AND k = ?`
	args := []any{queryBlob, k}
	if docType != "" {
		query += ` AND doc_type = ?`
		args = append(args, docType)
	}
	query += ` ORDER BY distance`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.IOError("vector search failed", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.DocID, &m.DocType, &m.ChunkIndex,
			&m.SourceFile, &m.SectionPath, &m.ContentPreview, &m.Content, &m.Distance); err != nil {
			return nil, errors.IOError("failed to scan search result", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.IOError("failed to read search results", err)
	}
	return matches, nil
}

// ChunkCount returns the number of indexed chunks.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM doc_chunks`).Scan(&n); err != nil {
		return 0, errors.IOError("failed to count chunks", err)
	}
	return n, nil
}

// DocumentCount returns the number of fingerprinted documents.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM doc_fingerprints`).Scan(&n); err != nil {
		return 0, errors.IOError("failed to count documents", err)
	}
	return n, nil
}

// ReadMetadata reads schema metadata without going through Open's
// dimension validation. The database must exist.
func ReadMetadata(ctx context.Context, path string) (*SchemaMetadata, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeDatabaseMissing,
			fmt.Sprintf("no index database at %s", path), nil).
			WithSuggestion("Build the index first: docdex index")
	}
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	return readMetadata(ctx, db)
}

// ValidateDimensions checks a pre-existing database against the active
// embedding configuration before opening it for writes. A missing database is
// valid: it will be created.
func ValidateDimensions(ctx context.Context, path, model string, dims int) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	meta, err := ReadMetadata(ctx, path)
	if err != nil {
		return err
	}
	if meta.EmbeddingDimensions != dims {
		return dimensionMismatchError(meta.EmbeddingDimensions, dims).
			WithDetail("stored_model", meta.EmbeddingModel).
			WithDetail("active_model", model)
	}
	return nil
}

func readMetadata(ctx context.Context, db *sql.DB) (*SchemaMetadata, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM schema_meta`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex,
			"database has no schema metadata", err).
			WithSuggestion("Delete the database and reindex: docdex index --force")
	}
	defer func() { _ = rows.Close() }()

	meta := &SchemaMetadata{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.IOError("failed to scan schema metadata", err)
		}
		switch key {
		case "schema_version":
			meta.SchemaVersion, _ = strconv.Atoi(value)
		case "embedding_model":
			meta.EmbeddingModel = value
		case "embedding_dimensions":
			meta.EmbeddingDimensions, _ = strconv.Atoi(value)
		case "created_at":
			meta.CreatedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.IOError("failed to read schema metadata", err)
	}
	if meta.EmbeddingDimensions == 0 {
		return nil, errors.New(errors.ErrCodeCorruptIndex,
			"schema metadata is incomplete", nil).
			WithSuggestion("Delete the database and reindex: docdex index --force")
	}
	return meta, nil
}

func dimensionMismatchError(stored, active int) *errors.DexError {
	return errors.New(errors.ErrCodeDimensionMismatch,
		fmt.Sprintf("index was built with %d-dimensional embeddings, the active backend produces %d", stored, active), nil).
		WithSuggestion("Delete the database and reindex: docdex index --force")
}
