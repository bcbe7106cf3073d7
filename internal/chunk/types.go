package chunk

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, expressed in estimated tokens.
const (
	DefaultChunkSizeTokens    = 512
	DefaultChunkOverlapTokens = 75

	previewMaxChars = 200
)

// Options configures how documents are split.
type Options struct {
	ChunkSizeTokens    int // Target chunk size in estimated tokens (default: DefaultChunkSizeTokens)
	ChunkOverlapTokens int // Overlap between consecutive chunks of an oversized section (default: DefaultChunkOverlapTokens)
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{
		ChunkSizeTokens:    DefaultChunkSizeTokens,
		ChunkOverlapTokens: DefaultChunkOverlapTokens,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSizeTokens <= 0 {
		o.ChunkSizeTokens = DefaultChunkSizeTokens
	}
	if o.ChunkOverlapTokens < 0 || o.ChunkOverlapTokens >= o.ChunkSizeTokens {
		o.ChunkOverlapTokens = DefaultChunkOverlapTokens
	}
	return o
}

// DocumentInfo identifies the source document being chunked.
type DocumentInfo struct {
	SourceFile string // File name, e.g. "02-architecture.md"
	DocID      string // Derived document ID, e.g. "architecture"
	DocType    string // Derived document type, e.g. "architecture"
}

// Metadata describes where a chunk came from within its document.
type Metadata struct {
	SourceFile     string
	DocID          string
	DocType        string
	SectionPath    string // " > "-joined header chain, "Root" for headerless content
	ChunkIndex     int    // Sequential 0..n-1 within the document
	H1             string
	H2             string
	H3             string
	TokenCount     int
	ContentPreview string // First ~200 chars of content, whitespace-collapsed
}

// Chunk is one embeddable unit of a document.
type Chunk struct {
	Content  string
	Metadata Metadata
}

// estimateTokens approximates token count as ceil(len/4).
// Good enough for sizing chunks against embedding context windows.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// makePreview collapses whitespace and truncates to previewMaxChars runes.
func makePreview(content string) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(collapsed) <= previewMaxChars {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:previewMaxChars])
}
