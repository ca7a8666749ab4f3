package llm_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/llm"
)

func sseHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestOpenAIProvider_StreamTextOnly(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		``,
		`data: [DONE]`,
		``,
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini", APIKey: "k", Host: srv.URL, Timeout: 5, MaxRetries: 0}
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
		}
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, finished)
}

func TestOpenAIProvider_StreamToolCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_request","arguments":""}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"url\""}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"http://x\"}"}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini", APIKey: "k", Host: srv.URL, Timeout: 5}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "call it"}}})
	require.NoError(t, err)

	var fragments string
	var finishedWithToolCalls bool
	for chunk := range ch {
		switch chunk.Kind {
		case llm.ChunkToolCallDelta:
			fragments += chunk.ArgsFragment
		case llm.ChunkFinish:
			assert.Equal(t, llm.FinishToolCalls, chunk.Reason)
			require.Len(t, chunk.ToolCalls, 1)
			assert.Equal(t, "web_request", chunk.ToolCalls[0].Name)
			finishedWithToolCalls = true
		}
	}
	assert.Equal(t, `{"url":"http://x"}`, fragments)
	assert.True(t, finishedWithToolCalls)
}

func TestOpenAIProvider_NonOKStatusIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "openai", Model: "gpt-4o-mini", APIKey: "bad", Host: srv.URL, Timeout: 5}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	assert.Error(t, err)
}

func TestXAIProvider_UsesOpenAICompatibleWireFormat(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}))
	defer srv.Close()

	cfg := config.LLMProviderConfig{Type: "xai", Model: "grok-beta", APIKey: "k", Host: srv.URL, Timeout: 5}
	p, err := llm.New(cfg)
	require.NoError(t, err)

	ch, err := p.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		if chunk.Kind == llm.ChunkText {
			text += chunk.Text
		}
	}
	assert.Equal(t, "ok", text)
}
