// Package vectorstore implements the embedded/external vector index
// over Chunks, grounded on the teacher's pkg/vector package: same
// provider-interface shape (Upsert/Search/SearchWithFilter/Delete),
// same chromem-go embedded backend, same qdrant external backend.
package vectorstore

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Chunk is a unit of indexed text with an embedding and metadata.
// metadata always carries source, chunk_index, total_chunks, and the
// skills/tags sets used by the post-filter in Search.
type Chunk struct {
	ID           string
	Text         string
	Embedding    []float32
	Source       string
	ChunkIndex   int
	TotalChunks  int
	Skills       []string
	Tags         []string
}

// chunkTargetSize and chunkOverlap implement the fixed chunking policy:
// roughly 1KB chunks with a small overlap, tie-breaking boundaries on
// sentence or paragraph ends when one falls near the target size.
const (
	chunkTargetSize = 1024
	chunkOverlap    = 128
	chunkSearchBack = 200
)

// splitIntoChunks breaks text into overlapping chunks of roughly
// chunkTargetSize runes, preferring to end a chunk at a paragraph or
// sentence boundary within chunkSearchBack runes of the target size.
func splitIntoChunks(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= chunkTargetSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkTargetSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := bestBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:cut]))

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// bestBoundary looks backward from end (up to chunkSearchBack runes)
// for a paragraph break, then a sentence-ending punctuation mark, and
// falls back to the raw target size if neither is found.
func bestBoundary(runes []rune, start, end int) int {
	searchFloor := end - chunkSearchBack
	if searchFloor < start {
		searchFloor = start
	}

	window := runes[searchFloor:end]
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '\n' && window[i+1] == '\n' {
			return searchFloor + i + 2
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if r := window[i]; r == '.' || r == '!' || r == '?' {
			return searchFloor + i + 1
		}
	}
	return end
}

// chunkID always mints a fresh id, so re-ingesting the same (source,
// chunk_index) pair produces distinct chunks rather than colliding.
func chunkID(source string, index int) string {
	return source + "#" + strconv.Itoa(index) + "#" + uuid.NewString()
}

// joinSet/splitSet encode a string set into chromem's flat
// string-valued metadata (chromem has no native array metadata type).
func joinSet(set []string) string {
	return strings.Join(set, ",")
}

func splitSet(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
