// Package chunk splits Markdown documents into header-scoped, size-bounded
// chunks suitable for embedding.
package chunk

import (
	"regexp"
	"strings"
)

var (
	// Matches section headers up to level 3: # Title, ## Title, ### Title
	headerPattern = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)

	// Matches YAML frontmatter at the start of a document
	frontmatterPattern = regexp.MustCompile(`(?s)^---\r?\n.*?\r?\n---[ \t]*\r?\n?`)
)

// ChunkDocument splits a Markdown document into chunks. Sections are delimited
// by level 1-3 headers; a section that fits within opts.ChunkSizeTokens becomes
// one chunk, larger sections are split by a sliding character window with
// overlap. Fenced code blocks and tables are never split across chunks.
// Empty or whitespace-only content yields nil.
func ChunkDocument(content string, doc DocumentInfo, opts Options) []Chunk {
	opts = opts.withDefaults()

	if strings.TrimSpace(content) == "" {
		return nil
	}

	// Strip frontmatter; it is metadata, not prose worth embedding.
	if m := frontmatterPattern.FindString(content); m != "" {
		content = content[len(m):]
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	sections := parseSections(content)

	var chunks []Chunk
	index := 0
	for _, sec := range sections {
		body := strings.TrimSpace(sec.content)
		if body == "" {
			continue
		}
		for _, piece := range splitSection(body, opts) {
			chunks = append(chunks, Chunk{
				Content: piece,
				Metadata: Metadata{
					SourceFile:     doc.SourceFile,
					DocID:          doc.DocID,
					DocType:        doc.DocType,
					SectionPath:    sec.path,
					ChunkIndex:     index,
					H1:             sec.h1,
					H2:             sec.h2,
					H3:             sec.h3,
					TokenCount:     estimateTokens(piece),
					ContentPreview: makePreview(piece),
				},
			})
			index++
		}
	}

	return chunks
}

// section is a contiguous run of content under one header chain.
type section struct {
	path    string // " > "-joined chain, "Root" when headerless
	h1      string
	h2      string
	h3      string
	content string
}

// parseSections splits content at level 1-3 headers, carrying the header
// stack so each section knows its full chain. A new ## clears any tracked
// ###, a new # clears both. Content before the first header becomes a
// "Root" section.
func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")

	var sections []*section
	var stack [3]string // current h1, h2, h3
	var builder strings.Builder
	current := &section{path: "Root"}

	flush := func() {
		current.content = builder.String()
		builder.Reset()
		if strings.TrimSpace(current.content) != "" {
			sections = append(sections, current)
		}
	}

	for _, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			flush()

			level := len(match[1])
			title := strings.TrimSpace(match[2])

			stack[level-1] = title
			for i := level; i < len(stack); i++ {
				stack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}

			current = &section{
				path: strings.Join(parts, " > "),
				h1:   stack[0],
				h2:   stack[1],
				h3:   stack[2],
			}
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	flush()

	return sections
}

// splitSection splits an oversized section body into window-sized pieces.
// Sections within the token budget pass through as a single piece.
func splitSection(body string, opts Options) []string {
	if estimateTokens(body) <= opts.ChunkSizeTokens {
		return []string{body}
	}

	windowChars := opts.ChunkSizeTokens * 4
	overlapChars := opts.ChunkOverlapTokens * 4
	blocks := findAtomicBlocks(body)

	var pieces []string
	start := 0
	for start < len(body) {
		end := start + windowChars
		if end >= len(body) {
			if piece := strings.TrimSpace(body[start:]); piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		// Atomic blocks win over the size budget: a window that would cut
		// a fence or table grows to the block's full extent.
		grown := false
		if b, ok := blockContaining(blocks, end); ok {
			end = b.end
			grown = true
		} else {
			end = preferBoundary(body, start, end)
			if b, ok := blockContaining(blocks, end); ok {
				end = b.end
				grown = true
			}
		}
		if end > len(body) {
			end = len(body)
		}

		if piece := strings.TrimSpace(body[start:end]); piece != "" {
			pieces = append(pieces, piece)
		}
		if end >= len(body) {
			break
		}

		// Overlap carries context into the next chunk, but never reaches
		// back into an atomic block and always makes forward progress. A
		// rewind landing inside a block snaps to the block start so the
		// next chunk repeats the whole block instead of opening mid-fence.
		next := end - overlapChars
		if b, ok := blockContaining(blocks, next); ok {
			next = b.start
		}
		if grown || next <= start {
			next = end
		}
		start = next
	}

	return pieces
}

// preferBoundary looks for a natural split point in the back half of the
// window: paragraph break first, then line break, then word break.
func preferBoundary(body string, start, end int) int {
	half := start + (end-start)/2
	window := body[half:end]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return half + i + 2
	}
	if i := strings.LastIndex(window, "\n"); i >= 0 {
		return half + i + 1
	}
	if i := strings.LastIndex(window, " "); i >= 0 {
		return half + i + 1
	}
	return end
}

// blockSpan is a byte range [start, end) that must not be split.
type blockSpan struct {
	start int
	end   int
}

// blockContaining reports the span that strictly contains pos, if any.
func blockContaining(blocks []blockSpan, pos int) (blockSpan, bool) {
	for _, b := range blocks {
		if pos > b.start && pos < b.end {
			return b, true
		}
	}
	return blockSpan{}, false
}

// findAtomicBlocks locates fenced code blocks (``` or ~~~) and table blocks
// (consecutive |-prefixed lines) by scanning lines once.
func findAtomicBlocks(body string) []blockSpan {
	var spans []blockSpan

	inFence := false
	fenceMarker := ""
	fenceStart := 0
	tableStart := -1

	offset := 0
	for _, line := range strings.SplitAfter(body, "\n") {
		lineStart := offset
		offset += len(line)
		trimmed := strings.TrimSpace(line)

		if inFence {
			if strings.HasPrefix(trimmed, fenceMarker) {
				spans = append(spans, blockSpan{fenceStart, offset})
				inFence = false
			}
			continue
		}

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if tableStart >= 0 {
				spans = append(spans, blockSpan{tableStart, lineStart})
				tableStart = -1
			}
			inFence = true
			fenceMarker = trimmed[:3]
			fenceStart = lineStart
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			if tableStart < 0 {
				tableStart = lineStart
			}
			continue
		}
		if tableStart >= 0 {
			spans = append(spans, blockSpan{tableStart, lineStart})
			tableStart = -1
		}
	}

	// Unclosed fence or trailing table runs to end of section.
	if inFence {
		spans = append(spans, blockSpan{fenceStart, len(body)})
	}
	if tableStart >= 0 {
		spans = append(spans, blockSpan{tableStart, len(body)})
	}

	return spans
}
