// Package embedder turns text into dense vectors for the VectorStore,
// grounded on the teacher's pkg/embedders.OpenAIEmbedder (request
// shape, retry/backoff).
package embedder

import (
	"context"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// New builds the configured Embedder.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIEmbedder(cfg)
	case "hash", "":
		return newHashEmbedder(cfg), nil
	default:
		return nil, &agentgwerr.ConfigError{Section: "embedder", Message: "unknown embedder provider " + cfg.Provider}
	}
}
