package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/httpclient"
)

type openAIProvider struct {
	cfg    config.LLMProviderConfig
	client *httpclient.Client
	name   string
}

func newOpenAIProvider(cfg config.LLMProviderConfig) (*openAIProvider, error) {
	return newOpenAICompatibleProvider(cfg, "openai")
}

func newXAIProvider(cfg config.LLMProviderConfig) (*openAIProvider, error) {
	// xAI's API is OpenAI-compatible: same Chat Completions wire
	// format, different base URL and model list.
	return newOpenAICompatibleProvider(cfg, "xai")
}

func newOpenAICompatibleProvider(cfg config.LLMProviderConfig, name string) (*openAIProvider, error) {
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
	)
	return &openAIProvider{cfg: cfg, client: client, name: name}, nil
}

func (p *openAIProvider) ModelName() string { return p.cfg.Model }
func (p *openAIProvider) Close() error      { return nil }

type openAIChatMessage struct {
	Role       string               `json:"role"`
	Content    string               `json:"content,omitempty"`
	ToolCalls  []openAIChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

type openAIChatToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openAIChatFunctionCall `json:"function"`
}

type openAIChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIChatTool struct {
	Type     string              `json:"type"`
	Function openAIChatFunctionDef `json:"function"`
}

type openAIChatFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIChatRequest struct {
	Model       string               `json:"model"`
	Messages    []openAIChatMessage  `json:"messages"`
	Tools       []openAIChatTool     `json:"tools,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
}

type openAIChatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (p *openAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if body.Model == "" {
		body.Model = p.cfg.Model
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: p.name, Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: p.name, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: p.name, Message: "request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &agentgwerr.ProviderError{Provider: p.name, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(b))}
	}

	out := make(chan StreamChunk, 16)
	go p.pump(resp.Body, out)
	return out, nil
}

type openAIToolAccum struct {
	id   string
	name string
}

func (p *openAIProvider) pump(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	tools := make(map[int]*openAIToolAccum)
	var usage *Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			out <- StreamChunk{Kind: ChunkFinish, Reason: FinishStop, Usage: usage}
			return
		}

		var chunk openAIChatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- StreamChunk{Kind: ChunkFinish, Reason: FinishError, Err: fmt.Errorf("decode stream chunk: %w", err)}
			return
		}
		if chunk.Usage != nil {
			usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			out <- StreamChunk{Kind: ChunkText, Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := tools[tc.Index]
			if !ok {
				acc = &openAIToolAccum{id: tc.ID, name: tc.Function.Name}
				tools[tc.Index] = acc
			}
			out <- StreamChunk{
				Kind:         ChunkToolCallDelta,
				Index:        tc.Index,
				Name:         tc.Function.Name,
				ArgsFragment: tc.Function.Arguments,
			}
		}

		if choice.FinishReason != nil {
			reason := mapOpenAIFinishReason(*choice.FinishReason)
			var calls []ToolCall
			if reason == FinishToolCalls {
				calls = p.finalizeToolCalls(tools)
			}
			out <- StreamChunk{Kind: ChunkFinish, Reason: reason, ToolCalls: calls, Usage: usage}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Kind: ChunkFinish, Reason: FinishError, Err: fmt.Errorf("read stream: %w", err)}
	}
}

// finalizeToolCalls hands back identifying metadata only; argument
// JSON is accumulated by the AgentLoop from ArgsFragment deltas keyed
// by Index, not reassembled here.
func (p *openAIProvider) finalizeToolCalls(tools map[int]*openAIToolAccum) []ToolCall {
	indices := make([]int, 0, len(tools))
	for idx := range tools {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(tools))
	for _, idx := range indices {
		acc := tools[idx]
		calls = append(calls, ToolCall{ID: acc.id, Name: acc.name})
	}
	return calls
}

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishError
	}
}

func toOpenAIMessages(msgs []Message) []openAIChatMessage {
	out := make([]openAIChatMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openAIChatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openAIChatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIChatFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openAIChatTool {
	out := make([]openAIChatTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openAIChatTool{
			Type: "function",
			Function: openAIChatFunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}
