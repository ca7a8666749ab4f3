package vectorstore

import (
	"context"
	"strings"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/embedder"
)

// Embedder turns text into a dense vector. Implemented by
// internal/embedder; declared here as a narrow interface to keep
// vectorstore independent of the embedder package's configuration types.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Preview is a truncated listing entry returned by List, per spec: the
// first 200 characters of a chunk's text, unranked.
type Preview struct {
	ID         string
	Source     string
	ChunkIndex int
	Skills     []string
	Tags       []string
	Preview    string
}

// SearchResult pairs a Chunk with its similarity score, highest first.
type SearchResult struct {
	Chunk Chunk
	Score float32
}

// VectorStore is the embedded or external vector index over Chunks.
type VectorStore interface {
	// Ingest splits text into chunks, embeds each, and inserts them
	// into collection. Returns the number of chunks inserted.
	Ingest(ctx context.Context, source, text, collection string, skills, tags []string) (int, error)

	// Search embeds query, retrieves the nearest neighbours from
	// collection, then applies the skill+tag post-filter. Returns at
	// most k results ordered by descending similarity.
	Search(ctx context.Context, query, collection string, skills, tags []string, k int) ([]SearchResult, error)

	// List returns unranked chunk previews from collection, optionally
	// narrowed by skills and a substring match against source.
	List(ctx context.Context, collection string, skills []string, sourceSubstring string, limit int) ([]Preview, error)

	// Delete removes a single chunk by id.
	Delete(ctx context.Context, collection, id string) error

	// DeleteBySource removes every chunk in collection whose source
	// metadata equals source.
	DeleteBySource(ctx context.Context, collection, source string) (int, error)

	Close() error
}

// matchesSkills implements the skill filter shared by Search and List:
// a chunk passes iff the filter is empty, or the chunk's own skills set
// is empty (universal), or the two sets intersect.
func matchesSkills(chunkSkills, filter []string) bool {
	if len(filter) == 0 || len(chunkSkills) == 0 {
		return true
	}
	return intersects(chunkSkills, filter)
}

// matchesTags implements the tag filter: passes iff the filter is
// empty or the two sets intersect.
func matchesTags(chunkTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return intersects(chunkTags, filter)
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(haystack, needle)
}

// New builds the configured VectorStore backend (chromem or qdrant)
// wired to emb for embedding queries and ingested text.
func New(cfg config.VectorStoreConfig, emb Embedder) (VectorStore, error) {
	switch cfg.Type {
	case "qdrant":
		return newQdrantStore(cfg, emb)
	case "chromem", "":
		return newChromemStore(cfg, emb)
	default:
		return nil, &agentgwerr.ConfigError{Section: "vector", Message: "unknown vector store type " + cfg.Type}
	}
}

// NewEmbedderFromConfig is a thin indirection so Service doesn't need
// to import internal/embedder directly for the common case of
// building a VectorStore from config alone.
func NewEmbedderFromConfig(cfg config.EmbedderConfig) (Embedder, error) {
	return embedder.New(cfg)
}
