package knowledge

import "strings"

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is how many characters consecutive chunks share.
	DefaultChunkOverlap = 50
)

// ChunkText splits text into overlapping windows of at most size characters,
// preferring to cut at a sentence terminator past the window midpoint, then
// at a space past the midpoint. Each window starts overlap characters before
// the previous window's end. Empty trimmed windows are dropped.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end < len(runes) {
			if dot := lastIndexBetween(runes, '.', start, end); dot > start+size/2 {
				end = dot + 1
			} else if sp := lastIndexBetween(runes, ' ', start, end); sp > start+size/2 {
				end = sp
			}
		}

		cut := end
		if cut > len(runes) {
			cut = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Advance from the unclamped end so the loop terminates once the
		// window walks past the text.
		start = end - overlap
	}
	return chunks
}

// Chunk splits text with the default window and overlap.
func Chunk(text string) []string {
	return ChunkText(text, DefaultChunkSize, DefaultChunkOverlap)
}

// lastIndexBetween finds the highest index of r in runes[start:end), or -1.
func lastIndexBetween(runes []rune, r rune, start, end int) int {
	if end > len(runes) {
		end = len(runes)
	}
	for i := end - 1; i >= start; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
