package embedder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/embedder"
)

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	cfg := config.EmbedderConfig{Provider: "hash", Dimensions: 64}
	cfg.SetDefaults()
	e, err := embedder.New(cfg)
	require.NoError(t, err)

	v1, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v3, err := e.Embed(context.Background(), "something else")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.NotEqual(t, v1, v3)
	assert.Len(t, v1, 64)

	var sumSq float64
	for _, f := range v1 {
		sumSq += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-3)
}
