package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "02-architecture.md", "# Architecture")
	writeDoc(t, dir, "01-overview.md", "# Overview")
	writeDoc(t, dir, "index.md", "generated TOC, never indexed")
	writeDoc(t, dir, ".draft.md", "dotfile, skipped")
	writeDoc(t, dir, "notes.txt", "not markdown")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeDoc(t, dir, filepath.Join("sub", "nested.md"), "non-recursive, skipped")

	docs, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "01-overview.md", docs[0].SourceFile, "sorted by file name")
	assert.Equal(t, "overview", docs[0].DocID)
	assert.Equal(t, "overview", docs[0].DocType)
	assert.Equal(t, "# Overview", docs[0].Content)

	assert.Equal(t, "architecture", docs[1].DocID)
	assert.Equal(t, "architecture", docs[1].DocType)
}

func TestDiscover_EmptyDirectory(t *testing.T) {
	_, err := Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDocuments)
}

func TestDeriveIdentity(t *testing.T) {
	tests := []struct {
		fileName string
		docID    string
		docType  string
	}{
		{"overview.md", "overview", "overview"},
		{"01-overview.md", "overview", "overview"},
		{"02_architecture.md", "architecture", "architecture"},
		{"10-data-model.md", "data-model", "data-model"},
		{"API.md", "api", "api"},
		{"guide-getting-started.md", "guide-getting-started", "guide"},
		{"api-reference.md", "api-reference", "api"},
		{"changelog.md", "changelog", "general"},
		{"meeting-notes.md", "meeting-notes", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			docID, docType := DeriveIdentity(tt.fileName)
			assert.Equal(t, tt.docID, docID)
			assert.Equal(t, tt.docType, docType)
		})
	}
}

func TestKnownDocTypes(t *testing.T) {
	types := KnownDocTypes()
	assert.Len(t, types, 8)
	assert.Contains(t, types, "general")
	assert.True(t, IsKnownDocType("deployment"))
	assert.False(t, IsKnownDocType("blog"))
}
