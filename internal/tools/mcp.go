package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/agentgw/internal/tool"
)

// MCPServerConfig configures one external MCP tool server, launched as a
// stdio subprocess, grounded on the teacher's
// pkg/tool/mcptoolset.Config (stdio branch only; this daemon has no
// need for the teacher's sse/streamable-http HTTP transports since
// every MCP server it talks to runs as a local subprocess).
type MCPServerConfig struct {
	Name    string            `yaml:"name" koanf:"name"`
	Command string            `yaml:"command" koanf:"command"`
	Args    []string          `yaml:"args" koanf:"args"`
	Env     map[string]string `yaml:"env" koanf:"env"`
	Filter  []string          `yaml:"filter,omitempty" koanf:"filter"`
}

// MCPSource lazily connects to an MCP server over stdio and exposes its
// tools as tool.Spec values for registration into a tool.Registry.
type MCPSource struct {
	cfg MCPServerConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
	filterSet map[string]bool
}

// NewMCPSource builds a lazily-connecting MCP toolset for cfg.
func NewMCPSource(cfg MCPServerConfig) (*MCPSource, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %q: command is required", cfg.Name)
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, n := range cfg.Filter {
			filterSet[n] = true
		}
	}
	return &MCPSource{cfg: cfg, filterSet: filterSet}, nil
}

// Specs connects (if not already connected) and returns the remote
// server's tools as tool.Spec values, each namespaced with the server
// name to avoid collisions across multiple MCP sources.
func (s *MCPSource) Specs(ctx context.Context) ([]tool.Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcp server %q: connect: %w", s.cfg.Name, err)
		}
	}

	listResp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: list tools: %w", s.cfg.Name, err)
	}

	specs := make([]tool.Spec, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		if s.filterSet != nil && !s.filterSet[mt.Name] {
			continue
		}
		name := mt.Name
		specs = append(specs, tool.Spec{
			Name:        s.cfg.Name + "." + name,
			Description: mt.Description,
			Schema:      convertMCPSchema(mt.InputSchema),
			Handler:     s.callHandler(name),
		})
	}
	return specs, nil
}

func (s *MCPSource) callHandler(remoteName string) tool.Handler {
	return func(ctx context.Context, args map[string]any) (tool.Result, error) {
		s.mu.Lock()
		c := s.client
		s.mu.Unlock()
		if c == nil {
			return tool.Result{}, fmt.Errorf("mcp server %q: not connected", s.cfg.Name)
		}

		req := mcp.CallToolRequest{}
		req.Params.Name = remoteName
		req.Params.Arguments = args

		resp, err := c.CallTool(ctx, req)
		if err != nil {
			return tool.Result{}, fmt.Errorf("mcp call %s: %w", remoteName, err)
		}
		return parseMCPResult(resp), nil
	}
}

func (s *MCPSource) connect(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, envSlice(s.cfg.Env), s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentgw", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	s.client = mcpClient
	s.connected = true
	return nil
}

// Close shuts down the underlying subprocess, if connected.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func convertMCPSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func parseMCPResult(resp *mcp.CallToolResult) tool.Result {
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	content := ""
	if len(texts) > 0 {
		content = texts[0]
		for _, t := range texts[1:] {
			content += "\n" + t
		}
	}
	if resp.IsError {
		errMsg := content
		if errMsg == "" {
			errMsg = "unknown MCP tool error"
		}
		return tool.Result{Error: errMsg}
	}
	return tool.Result{Content: content}
}
