package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/flowctx"
	"github.com/kadirpekel/agentgw/internal/tools"
)

func TestDelegateToAgentSpec_DepthExceededReturnsErrorData(t *testing.T) {
	called := false
	spec := tools.DelegateToAgentSpec(1, func(ctx context.Context, skill, input string) (string, error) {
		called = true
		return "unused", nil
	})

	ctx := flowctx.WithDepth(context.Background(), 1)
	res, err := spec.Handler(ctx, map[string]any{"skill_name": "b", "task": "do it"})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Contains(t, res.Content, "depth_exceeded")
	assert.Contains(t, res.Content, `"current_depth":1`)
}

func TestDelegateToAgentSpec_SuccessIncrementsDepthAndReturnsResult(t *testing.T) {
	var seenDepth int
	spec := tools.DelegateToAgentSpec(3, func(ctx context.Context, skill, input string) (string, error) {
		seenDepth = flowctx.Depth(ctx)
		return "done: " + input, nil
	})

	res, err := spec.Handler(context.Background(), map[string]any{"skill_name": "helper", "task": "summarize"})
	require.NoError(t, err)
	assert.Equal(t, 1, seenDepth)
	assert.Contains(t, res.Content, `"status":"ok"`)
	assert.Contains(t, res.Content, `"skill":"helper"`)
	assert.Contains(t, res.Content, `"depth":1`)
}

func TestDelegateToAgentSpec_ContextIsPrefixedToTask(t *testing.T) {
	var gotInput string
	spec := tools.DelegateToAgentSpec(3, func(ctx context.Context, skill, input string) (string, error) {
		gotInput = input
		return "ok", nil
	})

	_, err := spec.Handler(context.Background(), map[string]any{
		"skill_name": "helper",
		"task":       "do the thing",
		"context":    "background info",
	})
	require.NoError(t, err)
	assert.Equal(t, "background info\n\ndo the thing", gotInput)
}

func TestDelegateToAgentSpec_ChildContextIsDetachedFromParentCancellation(t *testing.T) {
	var childCtx context.Context
	spec := tools.DelegateToAgentSpec(3, func(ctx context.Context, skill, input string) (string, error) {
		childCtx = ctx
		return "ok", nil
	})

	parentCtx, cancel := context.WithCancel(context.Background())
	_, err := spec.Handler(parentCtx, map[string]any{"skill_name": "helper", "task": "do it"})
	require.NoError(t, err)
	cancel()

	assert.NoError(t, childCtx.Err(), "delegated sub-run's context must not observe the parent's cancellation")
}

func TestDelegateToAgentSpec_RunErrorIsReturnedAsData(t *testing.T) {
	spec := tools.DelegateToAgentSpec(3, func(ctx context.Context, skill, input string) (string, error) {
		return "", errors.New("unknown skill")
	})

	res, err := spec.Handler(context.Background(), map[string]any{"skill_name": "nope", "task": "x"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "unknown skill")
}
