package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/agentgw/internal/flowctx"
	"github.com/kadirpekel/agentgw/internal/tool"
)

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

type delegateArgs struct {
	SkillName string `json:"skill_name" jsonschema:"required,description=Name of the skill to delegate to"`
	Task      string `json:"task" jsonschema:"required,description=The task to hand to the sub-agent"`
	Context   string `json:"context,omitempty" jsonschema:"description=Extra context prefixed to the task as the sub-run's user input"`
}

// DelegateFunc runs skillName to completion with the given user input in
// a fresh session bound to that skill, returning the final assistant
// text. It is supplied by the Service, which owns skill resolution and
// AgentLoop construction; this package stays free of a dependency on
// either.
type DelegateFunc func(ctx context.Context, skillName, userInput string) (string, error)

// DelegateToAgentSpec builds the delegate_to_agent tool: the
// orchestration primitive described by the daemon's depth-tracking
// delegation model. maxDepth is max_orchestration_depth; run is called
// with the ambient depth already incremented by one.
func DelegateToAgentSpec(maxDepth int, run DelegateFunc) tool.Spec {
	schema, err := tool.SchemaFor[delegateArgs]()
	if err != nil {
		panic("delegate_to_agent: schema generation: " + err.Error())
	}

	handler := func(ctx context.Context, raw map[string]any) (tool.Result, error) {
		depth := flowctx.Depth(ctx)
		if depth+1 > maxDepth {
			return tool.Result{Content: mustJSON(map[string]any{"error": "depth_exceeded", "current_depth": depth})}, nil
		}

		skillName, _ := raw["skill_name"].(string)
		if skillName == "" {
			return tool.Result{Content: mustJSON(map[string]any{"error": "skill_name is required"})}, nil
		}
		task, _ := raw["task"].(string)
		if extra, ok := raw["context"].(string); ok && extra != "" {
			task = extra + "\n\n" + task
		}

		// A delegated sub-run does not inherit the parent's
		// cancellation: it gets a fresh session and a fresh AgentLoop,
		// and runs to completion on its own even if the parent request
		// that triggered it is cancelled (e.g. a client disconnect).
		// context.WithoutCancel keeps other ambient values (deadlines
		// are also dropped, matching "runs to completion independently")
		// while detaching from ctx.Done().
		childCtx := flowctx.WithDepth(context.WithoutCancel(ctx), depth+1)
		result, err := run(childCtx, skillName, task)
		if err != nil {
			return tool.Result{Content: mustJSON(map[string]any{"error": err.Error()})}, nil
		}

		return tool.Result{Content: mustJSON(map[string]any{
			"status": "ok",
			"skill":  skillName,
			"result": result,
			"depth":  depth + 1,
		})}, nil
	}

	return tool.Spec{
		Name:        "delegate_to_agent",
		Description: "Delegate a task to another skill's agent and return its final result. Subject to the orchestration depth limit.",
		Schema:      schema,
		Handler:     handler,
	}
}
