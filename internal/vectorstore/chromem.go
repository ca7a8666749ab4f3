package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
)

// chromemStore implements VectorStore over an embedded chromem-go
// database, grounded on the teacher's pkg/vector.ChromemProvider:
// identity embedding function (vectors are always pre-computed by our
// own Embedder, never by chromem itself), per-collection lazy
// creation, optional gzip file persistence.
type chromemStore struct {
	db          *chromem.DB
	emb         Embedder
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func newChromemStore(cfg config.VectorStoreConfig, emb Embedder) (*chromemStore, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, &agentgwerr.ConfigError{Section: "vector", Message: "failed to create persist dir", Err: err}
		}
		dbPath := cfg.PersistPath + "/vectors.gob"
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			loaded, loadErr := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if loadErr != nil {
				slog.Warn("failed to load persisted vector database, starting fresh", "path", dbPath, "error", loadErr)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &chromemStore{
		db:          db,
		emb:         emb,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *chromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if c, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem embedding function invoked; vectors must be pre-computed")
	}
	c, err := s.db.GetOrCreateCollection(name, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("get/create collection %q: %w", name, err)
	}
	s.collections[name] = c
	return c, nil
}

func (s *chromemStore) Ingest(ctx context.Context, source, text, collection string, skills, tags []string) (int, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "ingest", Err: err}
	}

	pieces := splitIntoChunks(text)
	docs := make([]chromem.Document, 0, len(pieces))
	for i, piece := range pieces {
		vec, err := s.emb.Embed(ctx, piece)
		if err != nil {
			return 0, &agentgwerr.PersistenceError{Op: "embed", Err: err}
		}
		docs = append(docs, chromem.Document{
			ID:      chunkID(source, i),
			Content: piece,
			Metadata: map[string]string{
				"source":       source,
				"chunk_index":  fmt.Sprint(i),
				"total_chunks": fmt.Sprint(len(pieces)),
				"skills":       joinSet(skills),
				"tags":         joinSet(tags),
			},
			Embedding: vec,
		})
	}

	if len(docs) == 0 {
		return 0, nil
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "ingest", Err: err}
	}
	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after ingest", "error", err)
	}
	return len(docs), nil
}

// chromemOverfetch requests more candidates than requested so the
// application-level skill+tag filter (which chromem's single metadata
// equality filter cannot express, since "empty set" must also match)
// still has enough to choose from.
const chromemOverfetch = 3

func (s *chromemStore) Search(ctx context.Context, query, collection string, skills, tags []string, k int) ([]SearchResult, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "search", Err: err}
	}

	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "embed", Err: err}
	}

	fetchN := k * chromemOverfetch
	if fetchN <= 0 {
		fetchN = k
	}
	if fetchN > col.Count() {
		fetchN = col.Count()
	}
	if fetchN == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, fetchN, nil, nil)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "search", Err: err}
	}

	out := make([]SearchResult, 0, k)
	for _, r := range results {
		chunk := chunkFromMetadata(r.ID, r.Content, r.Metadata)
		if !matchesSkills(chunk.Skills, skills) || !matchesTags(chunk.Tags, tags) {
			continue
		}
		out = append(out, SearchResult{Chunk: chunk, Score: r.Similarity})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (s *chromemStore) List(ctx context.Context, collection string, skills []string, sourceSubstring string, limit int) ([]Preview, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list", Err: err}
	}

	// chromem has no native "list all" API; a broad nil-vector query
	// over the full collection size approximates it, same trick the
	// teacher's keyword index falls back to when no filter is narrow
	// enough to page through directly.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	zero := make([]float32, 0)
	results, err := col.QueryEmbedding(ctx, zero, count, nil, nil)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list", Err: err}
	}

	var out []Preview
	for _, r := range results {
		chunk := chunkFromMetadata(r.ID, r.Content, r.Metadata)
		if !matchesSkills(chunk.Skills, skills) || !containsSubstring(chunk.Source, sourceSubstring) {
			continue
		}
		out = append(out, Preview{
			ID:         chunk.ID,
			Source:     chunk.Source,
			ChunkIndex: chunk.ChunkIndex,
			Skills:     chunk.Skills,
			Tags:       chunk.Tags,
			Preview:    truncate(chunk.Text, 200),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *chromemStore) Delete(ctx context.Context, collection, id string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return &agentgwerr.PersistenceError{Op: "delete", Err: err}
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return &agentgwerr.PersistenceError{Op: "delete", Err: err}
	}
	return s.persist()
}

func (s *chromemStore) DeleteBySource(ctx context.Context, collection, source string) (int, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "delete_by_source", Err: err}
	}

	// chromem's Delete(where) reports no count, so the matching set is
	// counted the same way List enumerates the collection, before the
	// delete removes it.
	count := col.Count()
	if count == 0 {
		return 0, nil
	}
	zero := make([]float32, 0)
	results, err := col.QueryEmbedding(ctx, zero, count, nil, nil)
	if err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "delete_by_source", Err: err}
	}
	matched := 0
	for _, r := range results {
		chunk := chunkFromMetadata(r.ID, r.Content, r.Metadata)
		if chunk.Source == source {
			matched++
		}
	}
	if matched == 0 {
		return 0, nil
	}

	if err := col.Delete(ctx, map[string]string{"source": source}, nil); err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "delete_by_source", Err: err}
	}
	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after delete", "error", err)
	}
	return matched, nil
}

func (s *chromemStore) Close() error { return s.persist() }

func (s *chromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}
	dbPath := s.persistPath + "/vectors.gob"
	if s.compress {
		dbPath += ".gz"
	}
	return s.db.Export(dbPath, s.compress, "")
}

func chunkFromMetadata(id, content string, md map[string]string) Chunk {
	return Chunk{
		ID:          id,
		Text:        content,
		Source:      md["source"],
		ChunkIndex:  atoiSafe(md["chunk_index"]),
		TotalChunks: atoiSafe(md["total_chunks"]),
		Skills:      splitSet(md["skills"]),
		Tags:        splitSet(md["tags"]),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
