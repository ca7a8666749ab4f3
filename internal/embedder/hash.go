package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/kadirpekel/agentgw/internal/config"
)

// hashEmbedder is a deterministic local fallback used when no API key
// is configured (tests, offline development). It has no semantic
// meaning beyond giving identical text identical vectors and distinct
// text near-orthogonal ones; it is not a substitute for a real model.
type hashEmbedder struct {
	dim int
}

func newHashEmbedder(cfg config.EmbedderConfig) *hashEmbedder {
	return &hashEmbedder{dim: cfg.Dimensions}
}

func (e *hashEmbedder) Dimensions() int { return e.dim }

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	seed := []byte(text)
	block := seed
	var sumSq float64

	for i := 0; i < e.dim; i++ {
		if i%8 == 0 {
			h := sha256.Sum256(block)
			block = h[:]
		}
		offset := (i % 8) * 4
		bits := binary.BigEndian.Uint32(block[offset : offset+4])
		v := float32(int32(bits)) / float32(math.MaxInt32)
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}

	norm := float32(math.Sqrt(sumSq))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
