package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/httpclient"
)

// openAIEmbedder calls the OpenAI embeddings endpoint, grounded on the
// teacher's pkg/embedders.OpenAIEmbedder (request/response shapes).
// The reported dimension is taken from EmbedderConfig.Dimensions; it
// does not vary with the model.
type openAIEmbedder struct {
	client  *httpclient.Client
	apiKey  string
	baseURL string
	model   string
	dim     int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int        `json:"index"`
	} `json:"data"`
}

type openAIEmbedErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newOpenAIEmbedder(cfg config.EmbedderConfig) (*openAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, &agentgwerr.ConfigError{Section: "embedder", Message: "api_key is required for provider openai"}
	}
	return &openAIEmbedder{
		client:  httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second})),
		apiKey:  cfg.APIKey,
		baseURL: cfg.Host,
		model:   cfg.Model,
		dim:     cfg.Dimensions,
	}, nil
}

func (e *openAIEmbedder) Dimensions() int { return e.dim }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIEmbedErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: errResp.Error.Message}
		}
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var decoded openAIEmbedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "decode response", Err: err}
	}
	if len(decoded.Data) == 0 {
		return nil, &agentgwerr.ProviderError{Provider: "openai-embed", Message: "empty embedding response"}
	}
	return decoded.Data[0].Embedding, nil
}
