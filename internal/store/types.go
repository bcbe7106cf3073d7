// Package store persists document chunks and their embeddings in a single
// SQLite database using the vec0 virtual table for KNN search.
package store

import (
	stderrors "errors"
	"time"
)

// SchemaVersion is bumped on any incompatible table change.
const SchemaVersion = 1

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = stderrors.New("store: not found")
	// ErrClosed is returned by all operations after Close.
	ErrClosed = stderrors.New("store: closed")
)

// SchemaMetadata describes the database the index was built with. Written
// once at creation; the model name may be silently updated when an alias
// rename keeps the same dimensions.
type SchemaMetadata struct {
	SchemaVersion       int
	EmbeddingModel      string
	EmbeddingDimensions int
	CreatedAt           time.Time
}

// DocumentFingerprint records what content a document was last indexed from,
// so unchanged documents can be skipped.
type DocumentFingerprint struct {
	DocID       string
	Fingerprint string
	IndexedAt   time.Time
	ChunkCount  int
}

// Match is one KNN search hit. Distance is cosine distance in [0, 2].
type Match struct {
	DocID          string
	DocType        string
	SourceFile     string
	SectionPath    string
	ChunkIndex     int
	ContentPreview string
	Content        string
	Distance       float64
}

// SearchOptions constrain a KNN search.
type SearchOptions struct {
	TopK int
	// DocTypes filters matches to these types; empty means all.
	DocTypes []string
}

// Config opens or creates a store.
type Config struct {
	Path                string
	EmbeddingModel      string
	EmbeddingDimensions int
}
