package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/agent"
	"github.com/kadirpekel/agentgw/internal/llm"
	"github.com/kadirpekel/agentgw/internal/service"
	"github.com/kadirpekel/agentgw/internal/skill"
	"github.com/kadirpekel/agentgw/internal/store"
	"github.com/kadirpekel/agentgw/internal/tool"
	"github.com/kadirpekel/agentgw/internal/webhook"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	messages map[string][]store.Message
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.Session), messages: make(map[string][]store.Message)}
}

func (f *fakeStore) CreateSession(ctx context.Context, sessionID, skillName string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.Session{ID: sessionID, SkillName: skillName, CreatedAt: time.Now(), LastUsedAt: time.Now()}
	f.sessions[sessionID] = s
	return s, nil
}
func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID], nil
}
func (f *fakeStore) Append(ctx context.Context, sessionID string, msg store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.SessionID = sessionID
	msg.CreatedAt = time.Now()
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return msg, nil
}
func (f *fakeStore) List(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.messages[sessionID]...), nil
}
func (f *fakeStore) ListSessions(ctx context.Context, filter store.SessionFilter, limit int) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}
func (f *fakeStore) SetFeedback(ctx context.Context, messageID int64, value int) error { return nil }
func (f *fakeStore) GetFeedback(ctx context.Context, messageID int64) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) DeleteSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeStore) Close() error                                             { return nil }

type scriptedProvider struct {
	turns [][]llm.StreamChunk
	call  int
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	turn := p.turns[p.call%len(p.turns)]
	p.call++
	ch := make(chan llm.StreamChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}
func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

func textTurn(text string) []llm.StreamChunk {
	return []llm.StreamChunk{
		{Kind: llm.ChunkText, Text: text},
		{Kind: llm.ChunkFinish, Reason: llm.FinishStop},
	}
}

func newLoader(t *testing.T, sk *skill.Skill) *skill.Loader {
	t.Helper()
	dir := t.TempDir()
	l := skill.NewLoader(dir, nil, nil)
	// Populate via Load's internal map is not exposed; tests instead
	// rely on skills loaded from disk. Write sk out as YAML.
	writeSkillYAML(t, dir, sk)
	require.NoError(t, l.Load())
	return l
}

func writeSkillYAML(t *testing.T, dir string, sk *skill.Skill) {
	t.Helper()
	data := "name: " + sk.Name + "\n" +
		"description: " + sk.Description + "\n" +
		"system_prompt: " + sk.SystemPrompt + "\n" +
		"max_iterations: 5\n" +
		"temperature: 0.5\n"
	path := filepath.Join(dir, sk.Name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func newTestService(t *testing.T, sk *skill.Skill, provider llm.Provider) *service.Service {
	t.Helper()
	st := newFakeStore()
	loader := newLoader(t, sk)
	deps := service.Deps{
		Tools:     tool.NewRegistry(),
		Skills:    loader,
		Messages:  st,
		Providers: map[string]llm.Provider{"default": provider},
		Default:   "default",
		MaxDepth:  3,
		Webhooks:  webhook.New(nil, nil),
	}
	return service.New(deps)
}

func TestService_ChatCreatesSessionAndPersistsExchange(t *testing.T) {
	sk := &skill.Skill{Name: "greeter", Description: "says hi", SystemPrompt: "be nice"}
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("hello!")}}
	svc := newTestService(t, sk, provider)

	var last agent.Event
	sessionID, err := svc.Chat(context.Background(), "greeter", "hi", "", func(ev agent.Event) bool {
		last = ev
		return true
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, agent.EventDone, last.Kind)
	assert.Equal(t, "hello!", last.FinalText)

	msgs, err := svc.SessionMessages(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestService_RunReturnsFinalText(t *testing.T) {
	sk := &skill.Skill{Name: "answer", Description: "answers", SystemPrompt: "be terse"}
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("42")}}
	svc := newTestService(t, sk, provider)

	_, result, err := svc.Run(context.Background(), "answer", "what is it", "")
	require.NoError(t, err)
	assert.Equal(t, "42", result)
}

func TestService_RunResumesExistingSession(t *testing.T) {
	sk := &skill.Skill{Name: "chatty", Description: "chats", SystemPrompt: "be chatty"}
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("one"), textTurn("two")}}
	svc := newTestService(t, sk, provider)

	sid, _, err := svc.Run(context.Background(), "chatty", "first", "")
	require.NoError(t, err)
	_, _, err = svc.Run(context.Background(), "chatty", "second", sid)
	require.NoError(t, err)

	msgs, err := svc.SessionMessages(context.Background(), sid)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestService_RouteParsesSkillAndReason(t *testing.T) {
	sk := &skill.Skill{Name: "billing", Description: "handles billing questions", SystemPrompt: "be precise"}
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("skill: billing\nreason: the user asked about an invoice")}}
	svc := newTestService(t, sk, provider)

	skillName, reason, err := svc.Route(context.Background(), "why was I charged twice?")
	require.NoError(t, err)
	assert.Equal(t, "billing", skillName)
	assert.Contains(t, reason, "invoice")
}

func TestService_UnknownSkillReturnsValidationError(t *testing.T) {
	sk := &skill.Skill{Name: "only", Description: "d", SystemPrompt: "p"}
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("x")}}
	svc := newTestService(t, sk, provider)

	_, _, err := svc.Run(context.Background(), "missing", "hi", "")
	assert.Error(t, err)
}
