package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
)

// qdrantStore implements VectorStore against an external Qdrant
// server, grounded on the teacher's pkg/vector.QdrantProvider: same
// lazy collection creation on first upsert, same payload-as-metadata
// convention, same keyword-match filter construction.
type qdrantStore struct {
	client *qdrant.Client
	emb    Embedder
}

func newQdrantStore(cfg config.VectorStoreConfig, emb Embedder) (*qdrantStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, &agentgwerr.ConfigError{Section: "vector", Message: fmt.Sprintf("failed to create qdrant client for %s:%d", host, cfg.Port), Err: err}
	}
	return &qdrantStore{client: client, emb: emb}, nil
}

func (s *qdrantStore) ensureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (s *qdrantStore) Ingest(ctx context.Context, source, text, collection string, skills, tags []string) (int, error) {
	pieces := splitIntoChunks(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	points := make([]*qdrant.PointStruct, 0, len(pieces))
	var dim int
	for i, piece := range pieces {
		vec, err := s.emb.Embed(ctx, piece)
		if err != nil {
			return 0, &agentgwerr.PersistenceError{Op: "embed", Err: err}
		}
		dim = len(vec)

		payload := map[string]*qdrant.Value{
			"content":      mustQdrantValue(piece),
			"source":       mustQdrantValue(source),
			"chunk_index":  mustQdrantValue(strconv.Itoa(i)),
			"total_chunks": mustQdrantValue(strconv.Itoa(len(pieces))),
			"skills":       mustQdrantValue(joinSet(skills)),
			"tags":         mustQdrantValue(joinSet(tags)),
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunkID(source, i)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		})
	}

	if err := s.ensureCollection(ctx, collection, dim); err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "ingest", Err: err}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points}); err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "ingest", Err: err}
	}
	return len(points), nil
}

func (s *qdrantStore) Search(ctx context.Context, query, collection string, skills, tags []string, k int) ([]SearchResult, error) {
	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "embed", Err: err}
	}

	fetchN := k * chromemOverfetch
	if fetchN <= 0 {
		fetchN = k
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(fetchN)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "search", Err: err}
	}

	out := make([]SearchResult, 0, k)
	for _, p := range points {
		chunk := chunkFromPayload(pointIDString(p.Id), p.Payload)
		if !matchesSkills(chunk.Skills, skills) || !matchesTags(chunk.Tags, tags) {
			continue
		}
		out = append(out, SearchResult{Chunk: chunk, Score: p.Score})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (s *qdrantStore) List(ctx context.Context, collection string, skills []string, sourceSubstring string, limit int) ([]Preview, error) {
	fetchLimit := uint32(1000)
	if limit > 0 && uint32(limit) < fetchLimit {
		fetchLimit = uint32(limit) * 10
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(fetchLimit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list", Err: err}
	}

	var out []Preview
	for _, p := range points {
		chunk := chunkFromPayload(pointIDString(p.Id), p.Payload)
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

func (s *qdrantStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)}},
			},
		},
	})
	if err != nil {
		return &agentgwerr.PersistenceError{Op: "delete", Err: err}
	}
	return nil
}

func (s *qdrantStore) DeleteBySource(ctx context.Context, collection, source string) (int, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("source", source)}}

	// Delete-by-filter reports no count, so the matching set is scrolled
	// and counted first, the same way List pages through a collection.
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(10000)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "delete_by_source", Err: err}
	}
	if len(points) == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, &agentgwerr.PersistenceError{Op: "delete_by_source", Err: err}
	}
	return len(points), nil
}

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

func mustQdrantValue(s string) *qdrant.Value {
	v, _ := qdrant.NewValue(s)
	return v
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	}
	return ""
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return Chunk{
		ID:          id,
		Text:        get("content"),
		Source:      get("source"),
		ChunkIndex:  atoiSafe(get("chunk_index")),
		TotalChunks: atoiSafe(get("total_chunks")),
		Skills:      splitSet(get("skills")),
		Tags:        splitSet(get("tags")),
	}
}
