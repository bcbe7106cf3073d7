// Package index orchestrates the reindex pipeline: discover, route, chunk,
// embed, store.
package index

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies the indexed content of a document. The source file
// name is part of the hash so a rename reindexes even identical content.
func Fingerprint(sourceFile, content string) string {
	h := sha256.New()
	h.Write([]byte(sourceFile))
	h.Write([]byte("\n"))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
