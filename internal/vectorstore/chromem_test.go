package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/embedder"
	"github.com/kadirpekel/agentgw/internal/vectorstore"
)

func newTestStore(t *testing.T) vectorstore.VectorStore {
	t.Helper()
	embCfg := config.EmbedderConfig{Provider: "hash", Dimensions: 32}
	embCfg.SetDefaults()
	emb, err := embedder.New(embCfg)
	require.NoError(t, err)

	vecCfg := config.VectorStoreConfig{Type: "chromem"}
	vecCfg.SetDefaults()
	s, err := vectorstore.New(vecCfg, emb)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVectorStore_IngestProducesDistinctChunkIDsOnRepeat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n1, err := s.Ingest(ctx, "doc-1", "hello world, this is a test document.", "default", nil, nil)
	require.NoError(t, err)
	n2, err := s.Ingest(ctx, "doc-1", "hello world, this is a test document.", "default", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 1, n2)

	previews, err := s.List(ctx, "default", nil, "", 0)
	require.NoError(t, err)
	assert.Len(t, previews, 2)
	assert.NotEqual(t, previews[0].ID, previews[1].ID)
}

func TestVectorStore_SearchAppliesSkillFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, "alpha-doc", "alpha specific content about rockets", "default", []string{"alpha"}, nil)
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "universal-doc", "universal content about rockets", "default", nil, nil)
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "beta-doc", "beta specific content about rockets", "default", []string{"beta"}, nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "rockets", "default", []string{"alpha"}, nil, 10)
	require.NoError(t, err)

	sources := make(map[string]bool)
	for _, r := range results {
		sources[r.Chunk.Source] = true
	}
	assert.True(t, sources["alpha-doc"])
	assert.True(t, sources["universal-doc"])
	assert.False(t, sources["beta-doc"])
}

func TestVectorStore_DeleteBySourceRemovesMatchingChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Ingest(ctx, "doc-a", "content a", "default", nil, nil)
	require.NoError(t, err)
	_, err = s.Ingest(ctx, "doc-b", "content b", "default", nil, nil)
	require.NoError(t, err)

	deleted, err := s.DeleteBySource(ctx, "default", "doc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	previews, err := s.List(ctx, "default", nil, "", 0)
	require.NoError(t, err)
	for _, p := range previews {
		assert.NotEqual(t, "doc-a", p.Source)
	}
}
