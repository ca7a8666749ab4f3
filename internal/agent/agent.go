// Package agent implements the AgentLoop, the per-request reason-act-
// observe controller, grounded on the teacher's pkg/agent/llmagent.Flow:
// the same outer/inner loop shape (iterate until a final response,
// stream deltas immediately, persist every event before yielding the
// next), generalized from adk-go's Content/Event/session model to
// spec.md's flatter Skill/Session/Message model.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/flowctx"
	"github.com/kadirpekel/agentgw/internal/llm"
	"github.com/kadirpekel/agentgw/internal/skill"
	"github.com/kadirpekel/agentgw/internal/store"
	"github.com/kadirpekel/agentgw/internal/tool"
	"github.com/kadirpekel/agentgw/internal/vectorstore"
)

// defaultCollection is the vector store collection skills query into
// when no collection was specified at ingest time (spec.md §4.1's
// `collection` parameter is optional and defaults here).
const defaultCollection = "default"

// EventKind tags which variant of Event is populated, mirroring
// llm.StreamChunk's kind-tagged design.
type EventKind int

const (
	EventText EventKind = iota
	EventTool
	EventDone
)

// Event is one item in the lazy sequence run() yields, per spec.md §4.5.
type Event struct {
	Kind EventKind

	// EventText
	Text string

	// EventTool
	ToolName   string
	ToolCallID string
	ToolResult string
	ToolError  string

	// EventDone
	FinalText string
	Truncated bool
	Err       error
}

// RAGSearcher is the narrow slice of VectorStore the loop needs for
// context injection, declared locally so agent doesn't need the whole
// vectorstore.VectorStore surface.
type RAGSearcher interface {
	Search(ctx context.Context, query, collection string, skills, tags []string, k int) ([]vectorstore.SearchResult, error)
}

// Deps bundles the shared, long-lived collaborators an AgentLoop reads
// from. One Deps is shared by every AgentLoop a Service constructs.
type Deps struct {
	Tools     *tool.Registry
	Messages  store.MessageStore
	Vectors   RAGSearcher
	Providers map[string]llm.Provider
	Default   string
	MaxDepth  int
}

func (d Deps) providerFor(model string) (llm.Provider, error) {
	if model != "" {
		if p, ok := d.Providers[model]; ok {
			return p, nil
		}
	}
	if p, ok := d.Providers[d.Default]; ok {
		return p, nil
	}
	return nil, &agentgwerr.ProviderError{Provider: model, Message: "no llm provider configured"}
}

// Loop is one in-flight request's reason-act-observe controller. It
// owns no persistent state across calls to Run; all durable state
// lives in the MessageStore.
type Loop struct {
	skill    *skill.Skill
	sessionID string
	depth    int
	deps     Deps
}

// New builds a Loop bound to sess, running sk at the given
// orchestration depth, per spec.md §4.5's construction inputs.
func New(sk *skill.Skill, sessionID string, depth int, deps Deps) *Loop {
	return &Loop{skill: sk, sessionID: sessionID, depth: depth, deps: deps}
}

// Run executes the reasoning loop and delivers events to yield as they
// occur, per spec.md §4.5. It returns when the loop terminates (Done
// emitted, cancellation, or a fatal persistence error).
func (l *Loop) Run(ctx context.Context, userInput string, yield func(Event) bool) error {
	ctx = flowctx.WithDepth(ctx, l.depth)

	messages, err := l.assemblePrompt(ctx, userInput)
	if err != nil {
		return err
	}

	if _, err := l.persist(ctx, store.Message{Role: store.RoleUser, Content: userInput}); err != nil {
		return err
	}

	provider, err := l.deps.providerFor(l.skill.Model)
	if err != nil {
		yield(Event{Kind: EventDone, Err: err, FinalText: err.Error()})
		return nil
	}

	toolDefs := l.toolDefinitions()

	for iteration := 1; iteration <= l.skill.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return &agentgwerr.CancelledError{SessionID: l.sessionID}
		}

		req := llm.Request{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.skill.Model,
			Temperature: l.skill.Temperature,
		}

		chunks, err := provider.Stream(ctx, req)
		if err != nil {
			return l.finishDegraded(ctx, yield, fmt.Sprintf("provider error: %v", err))
		}

		text, toolCalls, fragments, reason, usage, streamErr := l.drainStream(chunks, yield)
		_ = usage

		switch reason {
		case llm.FinishStop:
			if len(toolCalls) == 0 {
				if _, err := l.persist(ctx, store.Message{Role: store.RoleAssistant, Content: text}); err != nil {
					return err
				}
				yield(Event{Kind: EventDone, FinalText: text})
				return nil
			}
			// A stop reason with a non-empty tool-call buffer is
			// treated the same as tool_calls, per spec.md §4.5.
			if err := l.runToolTurn(ctx, text, toolCalls, fragments, messages, yield); err != nil {
				return err
			}
			messages, err = l.reload(ctx, userInput)
			if err != nil {
				return err
			}
			continue

		case llm.FinishToolCalls:
			if err := l.runToolTurn(ctx, text, toolCalls, fragments, messages, yield); err != nil {
				return err
			}
			messages, err = l.reload(ctx, userInput)
			if err != nil {
				return err
			}
			continue

		case llm.FinishLength:
			if _, err := l.persist(ctx, store.Message{Role: store.RoleAssistant, Content: text}); err != nil {
				return err
			}
			yield(Event{Kind: EventDone, FinalText: text + "[truncated]", Truncated: true})
			return nil

		case llm.FinishError:
			msg := "stream error"
			if streamErr != nil {
				msg = streamErr.Error()
			}
			// Text streamed before the error is kept, with the error
			// appended as a suffix marker.
			content := fmt.Sprintf("[error: %s]", msg)
			if text != "" {
				content = text + " " + content
			}
			return l.finishDegraded(ctx, yield, content)

		default:
			return l.finishDegraded(ctx, yield, "unknown finish reason")
		}
	}

	if _, err := l.persist(ctx, store.Message{Role: store.RoleAssistant, Content: "maximum iterations reached"}); err != nil {
		return err
	}
	yield(Event{Kind: EventDone, FinalText: "maximum iterations reached", Truncated: true})
	return nil
}

// RunToCompletion drains Run and returns only the final text, per
// spec.md §4.6 step 5 (delegation runs its sub-agent non-streaming).
func (l *Loop) RunToCompletion(ctx context.Context, userInput string) (string, error) {
	var final string
	err := l.Run(ctx, userInput, func(ev Event) bool {
		if ev.Kind == EventDone {
			final = ev.FinalText
		}
		return true
	})
	return final, err
}

func (l *Loop) finishDegraded(ctx context.Context, yield func(Event) bool, text string) error {
	if _, err := l.persist(ctx, store.Message{Role: store.RoleAssistant, Content: text}); err != nil {
		return err
	}
	yield(Event{Kind: EventDone, FinalText: text, Err: fmt.Errorf("%s", text)})
	return nil
}

// drainStream consumes chunks until Finish, forwarding text deltas to
// yield immediately and accumulating assistant text and tool-call
// argument fragments keyed by index, per spec.md §4.4/§4.5.
func (l *Loop) drainStream(chunks <-chan llm.StreamChunk, yield func(Event) bool) (text string, calls []llm.ToolCall, fragments map[int]string, reason llm.FinishReason, usage *llm.Usage, err error) {
	fragments = make(map[int]string)
	for chunk := range chunks {
		switch chunk.Kind {
		case llm.ChunkText:
			text += chunk.Text
			yield(Event{Kind: EventText, Text: chunk.Text})
		case llm.ChunkToolCallDelta:
			fragments[chunk.Index] += chunk.ArgsFragment
		case llm.ChunkFinish:
			reason = chunk.Reason
			calls = chunk.ToolCalls
			usage = chunk.Usage
			err = chunk.Err
		}
	}
	return text, calls, fragments, reason, usage, err
}

// runToolTurn persists the assistant turn (text + tool_calls) and then
// executes each tool call in provider-emitted order, persisting each
// result as a tool message and emitting a ToolEvent, per spec.md §4.5
// step 3's tie-break rule (assistant content before tool messages).
func (l *Loop) runToolTurn(ctx context.Context, text string, calls []llm.ToolCall, fragments map[int]string, _ []llm.Message, yield func(Event) bool) error {
	indices := make([]int, 0, len(fragments))
	for idx := range fragments {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	resolved := make([]llm.ToolCall, len(calls))
	copy(resolved, calls)
	for i := range resolved {
		// Providers hand back calls sorted by Index, so the i-th call's
		// fragments sit under the i-th smallest Index key.
		var args string
		if i < len(indices) {
			args = fragments[indices[i]]
		}
		var parsed map[string]any
		if args != "" {
			_ = json.Unmarshal([]byte(args), &parsed)
		}
		resolved[i].Arguments = parsed
	}

	storeCalls := make([]store.ToolCall, 0, len(resolved))
	for _, tc := range resolved {
		args, _ := json.Marshal(tc.Arguments)
		storeCalls = append(storeCalls, store.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: string(args)})
	}
	if _, err := l.persist(ctx, store.Message{Role: store.RoleAssistant, Content: text, ToolCalls: storeCalls}); err != nil {
		return err
	}

	for _, tc := range resolved {
		if ctx.Err() != nil {
			return &agentgwerr.CancelledError{SessionID: l.sessionID}
		}

		result, toolErr := l.deps.Tools.Invoke(ctx, tc.Name, tc.Arguments, l.skill.Tools)
		var content, errText string
		if toolErr != nil {
			errText = toolErr.Error()
			content = mustJSON(map[string]any{"error": errText})
		} else if result.Error != "" {
			errText = result.Error
			content = mustJSON(map[string]any{"error": result.Error})
		} else {
			content = result.Content
		}

		if _, err := l.persist(ctx, store.Message{
			Role:       store.RoleTool,
			Content:    content,
			ToolCallID: tc.ID,
		}); err != nil {
			return err
		}

		if !yield(Event{Kind: EventTool, ToolName: tc.Name, ToolCallID: tc.ID, ToolResult: content, ToolError: errText}) {
			return nil
		}
	}
	return nil
}

// persist is the loop's one suspension point for writing to durable
// storage; checking ctx.Err() here, rather than only at the top of the
// outer iteration, means a cancellation that arrives mid-turn (e.g.
// while a tool handler is running) is honored before the next message
// is recorded, per spec.md §5.
func (l *Loop) persist(ctx context.Context, msg store.Message) (store.Message, error) {
	if ctx.Err() != nil {
		return store.Message{}, &agentgwerr.CancelledError{SessionID: l.sessionID}
	}
	saved, err := l.deps.Messages.Append(ctx, l.sessionID, msg)
	if err != nil {
		return store.Message{}, &agentgwerr.PersistenceError{Op: "append", Err: err}
	}
	return saved, nil
}

// reload re-assembles the prompt from persisted history, the adk-go
// pattern the teacher's Flow follows: every iteration reads from the
// session rather than threading an in-memory message slice forward.
func (l *Loop) reload(ctx context.Context, userInput string) ([]llm.Message, error) {
	return l.assemblePrompt(ctx, "")
}

// assemblePrompt builds the message sequence sent to the provider, per
// spec.md §4.5 step 2: system prompt, optional RAG context, few-shot
// examples, stored history, then the new user message (when
// pendingUserInput is non-empty; reload passes "" since the user
// message is already persisted history by the time it re-reads).
func (l *Loop) assemblePrompt(ctx context.Context, pendingUserInput string) ([]llm.Message, error) {
	var out []llm.Message
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: l.skill.SystemPrompt})

	if l.skill.RAGContext != nil && l.skill.RAGContext.Enabled && l.deps.Vectors != nil {
		query := pendingUserInput
		if query == "" {
			query = l.lastUserMessage(ctx)
		}
		skills := l.skill.RAGContext.Skills
		if len(skills) == 0 {
			skills = []string{l.skill.Name}
		}
		topK := l.skill.RAGContext.TopK
		if topK <= 0 {
			topK = 3
		}
		results, err := l.deps.Vectors.Search(ctx, query, defaultCollection, skills, l.skill.RAGContext.Tags, topK)
		if err == nil && len(results) > 0 {
			var ctxText string
			for _, r := range results {
				ctxText += r.Chunk.Text + "\n\n"
			}
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: "Retrieved context:\n\n" + ctxText})
		}
	}

	for _, ex := range l.skill.Examples {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: ex.User})
		out = append(out, llm.Message{Role: llm.RoleAssistant, Content: ex.Assistant})
	}

	history, err := l.deps.Messages.List(ctx, l.sessionID, 0)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list", Err: err}
	}
	for _, m := range history {
		out = append(out, toLLMMessage(m))
	}

	if pendingUserInput != "" {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: pendingUserInput})
	}
	return out, nil
}

func (l *Loop) lastUserMessage(ctx context.Context) string {
	history, err := l.deps.Messages.List(ctx, l.sessionID, 0)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func (l *Loop) toolDefinitions() []llm.ToolDefinition {
	var out []llm.ToolDefinition
	for _, name := range l.skill.Tools {
		spec, ok := l.deps.Tools.Get(name)
		if !ok {
			continue
		}
		out = append(out, llm.ToolDefinition{Name: spec.Name, Description: spec.Description, Parameters: spec.Schema})
	}
	return out
}

func toLLMMessage(m store.Message) llm.Message {
	out := llm.Message{Role: llm.Role(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		if tc.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args})
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"internal marshal failure"}`
	}
	return string(b)
}
