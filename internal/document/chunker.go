package document

import (
	"strings"
	"unicode/utf8"
)

// Chunker splits document text into overlapping retrieval chunks.
// Sizes are rune counts so multibyte text chunks evenly.
type Chunker struct {
	// Size is the maximum chunk length in runes.
	Size int
	// Overlap is how many runes consecutive chunks share.
	Overlap int
}

// NewChunker creates a Chunker, applying defaults for zero values.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk splits text into chunks. Whitespace-only input yields no chunks.
// Returns ErrNotText for content that is not valid UTF-8, which is how
// binary uploads are rejected from the index.
func (c *Chunker) Chunk(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, ErrNotText
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= c.Size {
		return []string{text}, nil
	}

	step := c.Size - c.Overlap
	chunks := make([]string, 0, len(runes)/step+1)

	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			chunk := strings.TrimSpace(string(runes[start:]))
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Prefer breaking at a paragraph or sentence boundary in the back
		// half of the window so chunks stay semantically whole.
		cut := boundaryBefore(runes, start+c.Size/2, end)
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Advance past the cut, keeping the overlap. The step floor
		// guarantees forward progress whatever boundaryBefore returned.
		next := cut - c.Overlap
		if next <= start {
			next = start + step
		}
		start = next
	}

	return chunks, nil
}

// boundaryBefore finds the best split point in runes[min:max], looking for a
// blank line first, then a newline, then a sentence end. Falls back to max.
func boundaryBefore(runes []rune, min, max int) int {
	window := string(runes[min:max])

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return min + len([]rune(window[:i]))
	}
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return min + len([]rune(window[:i]))
	}
	for i := max - 1; i > min; i-- {
		switch runes[i] {
		case '.', '!', '?', '。', '！', '？':
			return i + 1
		}
	}
	return max
}
