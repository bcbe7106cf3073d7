// Package scanner discovers the Markdown documents of a source directory and
// derives their document identity.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/docdex/docdex/internal/errors"
)

// SkipFile is the generated table-of-contents file, never indexed.
const SkipFile = "index.md"

// Document is one discovered Markdown file with its content loaded.
type Document struct {
	// SourceFile is the file name relative to the source directory.
	SourceFile string
	// Path is the absolute path.
	Path    string
	DocID   string
	DocType string
	Content string
}

// ErrNoDocuments is returned when the source directory holds no indexable
// Markdown files. Callers attach their own remediation.
var ErrNoDocuments = errors.New(errors.ErrCodeFileNotFound,
	"no Markdown documents found", nil)

// docTypes is the closed set of recognized document types.
var docTypes = map[string]struct{}{
	"overview":     {},
	"architecture": {},
	"api":          {},
	"components":   {},
	"data-model":   {},
	"deployment":   {},
	"guide":        {},
	"general":      {},
}

// orderingPrefix matches a numeric ordering prefix like "01-" or "02_".
var orderingPrefix = regexp.MustCompile(`^\d+[-_]`)

// KnownDocTypes returns the closed doc-type set, sorted.
func KnownDocTypes() []string {
	types := make([]string, 0, len(docTypes))
	for t := range docTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsKnownDocType reports whether t is in the closed doc-type set.
func IsKnownDocType(t string) bool {
	_, ok := docTypes[t]
	return ok
}

// Discover lists the Markdown documents of sourceDir, non-recursively,
// skipping index.md and dotfiles. Documents come back sorted by file name.
func Discover(sourceDir string) ([]Document, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("source directory %s does not exist", sourceDir), err).
			WithSuggestion("Check source.dir in .docdex.yaml, or pass --source")
	}
	if !info.IsDir() {
		return nil, errors.ValidationError(
			fmt.Sprintf("source path %s is not a directory", sourceDir), nil)
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, errors.IOError(fmt.Sprintf("failed to read source directory %s", sourceDir), err)
	}

	var docs []Document
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".md") {
			continue
		}
		if strings.EqualFold(name, SkipFile) || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(sourceDir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.IOError(fmt.Sprintf("failed to read %s", name), err)
		}

		docID, docType := DeriveIdentity(name)
		docs = append(docs, Document{
			SourceFile: name,
			Path:       path,
			DocID:      docID,
			DocType:    docType,
			Content:    string(content),
		})
	}

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceFile < docs[j].SourceFile })
	return docs, nil
}

// DeriveIdentity maps a file name to its docId and docType: strip the .md
// extension, lowercase, strip a numeric ordering prefix; the remaining stem
// is the docId. The docType is the stem when it is a known type, else the
// stem's prefix before the first dash when that is known, else "general".
func DeriveIdentity(fileName string) (docID, docType string) {
	stem := strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	stem = orderingPrefix.ReplaceAllString(stem, "")
	docID = stem

	if IsKnownDocType(stem) {
		return docID, stem
	}
	if prefix, _, found := strings.Cut(stem, "-"); found && IsKnownDocType(prefix) {
		return docID, prefix
	}
	return docID, "general"
}
