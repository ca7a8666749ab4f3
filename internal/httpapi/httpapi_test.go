package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/httpapi"
	"github.com/kadirpekel/agentgw/internal/llm"
	"github.com/kadirpekel/agentgw/internal/service"
	"github.com/kadirpekel/agentgw/internal/skill"
	"github.com/kadirpekel/agentgw/internal/store"
	"github.com/kadirpekel/agentgw/internal/tool"
	"github.com/kadirpekel/agentgw/internal/webhook"
)

type fakeStore struct {
	sessions map[string]*store.Session
	messages map[string][]store.Message
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.Session), messages: make(map[string][]store.Message)}
}
func (f *fakeStore) CreateSession(ctx context.Context, sessionID, skillName string) (*store.Session, error) {
	s := &store.Session{ID: sessionID, SkillName: skillName, CreatedAt: time.Now(), LastUsedAt: time.Now()}
	f.sessions[sessionID] = s
	return s, nil
}
func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	return f.sessions[sessionID], nil
}
func (f *fakeStore) Append(ctx context.Context, sessionID string, msg store.Message) (store.Message, error) {
	f.nextID++
	msg.ID = f.nextID
	msg.SessionID = sessionID
	msg.CreatedAt = time.Now()
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	return msg, nil
}
func (f *fakeStore) List(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	return f.messages[sessionID], nil
}
func (f *fakeStore) ListSessions(ctx context.Context, filter store.SessionFilter, limit int) ([]store.Session, error) {
	return nil, nil
}
func (f *fakeStore) SetFeedback(ctx context.Context, messageID int64, value int) error { return nil }
func (f *fakeStore) GetFeedback(ctx context.Context, messageID int64) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) DeleteSession(ctx context.Context, sessionID string) error { return nil }
func (f *fakeStore) Close() error                                             { return nil }

type scriptedProvider struct{ turns [][]llm.StreamChunk; call int }

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
	return []llm.StreamChunk{{Kind: llm.ChunkText, Text: text}, {Kind: llm.ChunkFinish, Reason: llm.FinishStop}}
}

func newTestServer(t *testing.T, apiKey string) (*httpapi.Server, *scriptedProvider) {
	t.Helper()
	dir := t.TempDir()
	data := "name: greeter\ndescription: says hi\nsystem_prompt: be nice\nmax_iterations: 5\ntemperature: 0.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.yaml"), []byte(data), 0o644))
	loader := skill.NewLoader(dir, nil, nil)
	require.NoError(t, loader.Load())

	provider := &scriptedProvider{turns: [][]llm.StreamChunk{textTurn("hello!")}}
	deps := service.Deps{
		Tools:     tool.NewRegistry(),
		Skills:    loader,
		Messages:  newFakeStore(),
		Providers: map[string]llm.Provider{"default": provider},
		Default:   "default",
		MaxDepth:  3,
		Webhooks:  webhook.New(nil, nil),
	}
	svc := service.New(deps)
	srv := httpapi.New(svc, httpapi.WithAPIKey(apiKey), httpapi.WithHealthInfo("scripted", "scripted-model"))
	return srv, provider
}

func TestServer_HealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_APIRequiresBearerTokenWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/skills", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/skills", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RunReturnsResult(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body, _ := json.Marshal(map[string]string{"skill_name": "greeter", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello!", resp["result"])
	assert.NotEmpty(t, resp["session_id"])
}

func TestServer_ChatStreamsSSE(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body, _ := json.Marshal(map[string]string{"skill_name": "greeter", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "data: hello!")
	assert.Contains(t, w.Body.String(), "event: done")
	assert.True(t, strings.Contains(w.Header().Get("Content-Type"), "text/event-stream"))
}

func TestServer_RunUnknownSkillReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body, _ := json.Marshal(map[string]string{"skill_name": "missing", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DaemonStatusIsPublic(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/daemon/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
