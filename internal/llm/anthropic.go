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

type anthropicProvider struct {
	cfg    config.LLMProviderConfig
	client *httpclient.Client
}

func newAnthropicProvider(cfg config.LLMProviderConfig) (*anthropicProvider, error) {
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
	)
	return &anthropicProvider{cfg: cfg, client: client}, nil
}

func (p *anthropicProvider) ModelName() string { return p.cfg.Model }
func (p *anthropicProvider) Close() error      { return nil }

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Usage        *anthropicUsage   `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (p *anthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	system, messages := toAnthropicMessages(req.Messages)

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := anthropicRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		System:      system,
		Tools:       toAnthropicTools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "anthropic", Message: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "anthropic", Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &agentgwerr.ProviderError{Provider: "anthropic", Message: "request failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &agentgwerr.ProviderError{Provider: "anthropic", Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(b))}
	}

	out := make(chan StreamChunk, 16)
	go p.pump(resp.Body, out)
	return out, nil
}

type anthropicToolAccum struct {
	id   string
	name string
}

func (p *anthropicProvider) pump(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	tools := make(map[int]*anthropicToolAccum)
	var usage *Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out <- StreamChunk{Kind: ChunkFinish, Reason: FinishError, Err: fmt.Errorf("decode stream event: %w", err)}
			return
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				tools[ev.Index] = &anthropicToolAccum{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				out <- StreamChunk{Kind: ChunkToolCallDelta, Index: ev.Index, Name: ev.ContentBlock.Name}
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Text != "" {
				out <- StreamChunk{Kind: ChunkText, Text: ev.Delta.Text}
			}
			if ev.Delta.Type == "input_json_delta" && ev.Delta.PartialJSON != "" {
				out <- StreamChunk{Kind: ChunkToolCallDelta, Index: ev.Index, ArgsFragment: ev.Delta.PartialJSON}
			}

		case "message_delta":
			if ev.Usage != nil {
				usage = &Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
			}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				reason := mapAnthropicStopReason(ev.Delta.StopReason)
				var calls []ToolCall
				if reason == FinishToolCalls {
					calls = finalizeAnthropicToolCalls(tools)
				}
				out <- StreamChunk{Kind: ChunkFinish, Reason: reason, ToolCalls: calls, Usage: usage}
				return
			}

		case "message_stop":
			reason := FinishStop
			var calls []ToolCall
			if len(tools) > 0 {
				reason = FinishToolCalls
				calls = finalizeAnthropicToolCalls(tools)
			}
			out <- StreamChunk{Kind: ChunkFinish, Reason: reason, ToolCalls: calls, Usage: usage}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Kind: ChunkFinish, Reason: FinishError, Err: fmt.Errorf("read stream: %w", err)}
	}
}

func finalizeAnthropicToolCalls(tools map[int]*anthropicToolAccum) []ToolCall {
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

func mapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	default:
		return FinishError
	}
}

func toAnthropicMessages(msgs []Message) (system string, out []anthropicMessage) {
	var systemParts []string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleUser:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContent{{Type: "text", Text: m.Content}}})
		case RoleAssistant:
			content := []anthropicContent{}
			if m.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: content})
		case RoleTool:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContent{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}}})
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func toAnthropicTools(defs []ToolDefinition) []anthropicTool {
	out := make([]anthropicTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropicTool{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
	}
	return out
}
