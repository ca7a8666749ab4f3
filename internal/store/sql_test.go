package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/store"
)

func openTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore_AppendIsOrderedAndAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateSession(ctx, "sess-1", "assistant")
	require.NoError(t, err)

	for _, content := range []string{"hello", "world", "again"} {
		_, err := s.Append(ctx, "sess-1", store.Message{Role: store.RoleUser, Content: content})
		require.NoError(t, err)
	}

	msgs, err := s.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"hello", "world", "again"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.True(t, msgs[0].ID < msgs[1].ID)
	assert.True(t, msgs[1].ID < msgs[2].ID)
}

func TestSQLStore_ToolCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.CreateSession(ctx, "sess-1", "assistant")
	require.NoError(t, err)

	assistantMsg, err := s.Append(ctx, "sess-1", store.Message{
		Role: store.RoleAssistant,
		ToolCalls: []store.ToolCall{
			{ID: "call_1", Name: "search", Arguments: `{"query":"go"}`},
		},
	})
	require.NoError(t, err)

	_, err = s.Append(ctx, "sess-1", store.Message{
		Role:       store.RoleTool,
		Content:    "result",
		ToolCallID: "call_1",
	})
	require.NoError(t, err)

	msgs, err := s.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[0].ToolCalls[0].ID)
	assert.Equal(t, assistantMsg.ToolCalls[0].ID, msgs[0].ToolCalls[0].ID)
	assert.Equal(t, "call_1", msgs[1].ToolCallID)
}

func TestSQLStore_FeedbackIsIdempotentAndOverridable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.CreateSession(ctx, "sess-1", "assistant")
	require.NoError(t, err)
	msg, err := s.Append(ctx, "sess-1", store.Message{Role: store.RoleAssistant, Content: "answer"})
	require.NoError(t, err)

	require.NoError(t, s.SetFeedback(ctx, msg.ID, 1))
	require.NoError(t, s.SetFeedback(ctx, msg.ID, 1))
	value, ok, err := s.GetFeedback(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, value)

	require.NoError(t, s.SetFeedback(ctx, msg.ID, -1))
	value, ok, err = s.GetFeedback(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -1, value)
}

func TestSQLStore_ListSessionsFiltersBySkillAndOrdersByLastUsed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateSession(ctx, "sess-a", "researcher")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "sess-b", "writer")
	require.NoError(t, err)

	_, err = s.Append(ctx, "sess-a", store.Message{Role: store.RoleUser, Content: "hi"})
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx, store.SessionFilter{SkillName: "researcher"}, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-a", sessions[0].ID)
}

func TestSQLStore_DeleteSessionRemovesMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.CreateSession(ctx, "sess-1", "assistant")
	require.NoError(t, err)
	_, err = s.Append(ctx, "sess-1", store.Message{Role: store.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	msgs, err := s.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
