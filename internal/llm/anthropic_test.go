package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/llm"
)

func TestAnthropicProvider_StreamTextThenStop(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi there"}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":2}}`,
		``,
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "anthropic", Model: "claude-3-5-sonnet", APIKey: "k", Host: srv.URL, Timeout: 5, MaxTokens: 100}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var text string
	var finished bool
	for chunk := range ch {
		switch chunk.Kind {
		case llm.ChunkText:
			text += chunk.Text
		case llm.ChunkFinish:
			finished = true
			assert.Equal(t, llm.FinishStop, chunk.Reason)
			require.NotNil(t, chunk.Usage)
			assert.Equal(t, 3, chunk.Usage.InputTokens)
		}
	}
	assert.Equal(t, "Hi there", text)
	assert.True(t, finished)
}

func TestAnthropicProvider_StreamToolUse(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"web_request"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"url\":\"http://x\"}"}}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":3,"output_tokens":4}}`,
		``,
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "anthropic", Model: "claude-3-5-sonnet", APIKey: "k", Host: srv.URL, Timeout: 5, MaxTokens: 100}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "call it"}}})
	require.NoError(t, err)

	var fragment string
	var toolName string
	for chunk := range ch {
		switch chunk.Kind {
		case llm.ChunkToolCallDelta:
			if chunk.Name != "" {
				toolName = chunk.Name
			}
			fragment += chunk.ArgsFragment
		case llm.ChunkFinish:
			assert.Equal(t, llm.FinishToolCalls, chunk.Reason)
			require.Len(t, chunk.ToolCalls, 1)
			assert.Equal(t, "toolu_1", chunk.ToolCalls[0].ID)
		}
	}
	assert.Equal(t, "web_request", toolName)
	assert.Equal(t, `{"url":"http://x"}`, fragment)
}

func TestAnthropicProvider_NonOKStatusIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "anthropic", Model: "claude-3-5-sonnet", APIKey: "k", Host: srv.URL, Timeout: 5, MaxTokens: 100, MaxRetries: 0}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	assert.Error(t, err)
}
