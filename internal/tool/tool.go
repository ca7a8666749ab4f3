// Package tool defines the ToolRegistry and tool contract the
// AgentLoop dispatches against, grounded on the teacher's
// pkg/tools.Tool/ToolSource interfaces and
// pkg/tool/functiontool's invopop/jsonschema schema derivation.
package tool

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
)

// Result is what a Tool handler returns. Content is what gets fed
// back to the model as the tool message's text.
type Result struct {
	Content string
	Error   string
}

// Handler executes one tool invocation. args is the JSON object the
// model supplied, decoded into a map; the registry does not check it
// against the tool's schema before calling the handler.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Spec describes one registered tool: its name, description, the JSON
// schema advertised to the LLM, and the handler that executes it.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// Registry is the set of tools available to AgentLoops, keyed by name.
// Safe for concurrent registration and invocation.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get returns a registered tool spec by name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// All returns every registered spec, unordered.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Invoke dispatches to the named tool's handler, checking that name is
// both registered and present in allowed (a skill's tool allow-list).
// Returns agentgwerr.ToolNotFoundError if either check fails, so
// callers can feed that back to the model as a tool message rather
// than aborting the loop.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, allowed []string) (Result, error) {
	if !contains(allowed, name) {
		return Result{}, &agentgwerr.ToolNotFoundError{Tool: name}
	}

	spec, ok := r.Get(name)
	if !ok {
		return Result{}, &agentgwerr.ToolNotFoundError{Tool: name}
	}

	res, err := spec.Handler(ctx, args)
	if err != nil {
		return Result{}, &agentgwerr.ToolHandlerError{Tool: name, Err: err}
	}
	return res, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SchemaFor derives a JSON Schema object for T via struct reflection,
// the same invopop/jsonschema approach as the teacher's
// pkg/tool/functiontool.generateSchema, flattened to a bare
// {type, properties, required} object for LLM tool definitions.
func SchemaFor[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	full, err := schemaToMap(schema)
	if err != nil {
		return nil, err
	}

	if full["type"] != "object" {
		return full, nil
	}

	out := map[string]any{
		"type":       "object",
		"properties": full["properties"],
	}
	if req, ok := full["required"]; ok {
		out["required"] = req
	}
	return out, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}
