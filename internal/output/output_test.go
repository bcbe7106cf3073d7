package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_StatusWithIcon(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Status("🔎", "searching")
	assert.Equal(t, "🔎 searching\n", buf.String())
}

func TestWriter_StatusWithoutIcon(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Status("", "indented detail")
	assert.Equal(t, "   indented detail\n", buf.String())
}

func TestWriter_SuccessWarningError(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Successf("indexed %d documents", 12)
	w.Warningf("%d documents failed", 1)
	w.Error("index not found")

	out := buf.String()
	assert.Contains(t, out, "✅ indexed 12 documents")
	assert.Contains(t, out, "1 documents failed")
	assert.Contains(t, out, "❌ index not found")
}

func TestWriter_Field(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Field("Documents", 42)
	assert.Contains(t, buf.String(), "Documents:")
	assert.Contains(t, buf.String(), "42")
}
