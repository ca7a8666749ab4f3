// Package service assembles every long-lived component into the
// single Service object the HTTP façade, CLI, and scheduler all sit
// on top of: ToolRegistry, SkillLoader, MessageStore, VectorStore, the
// configured LLMProviders, the Scheduler, and the WebhookDispatcher,
// per spec.md §5's "shared resources" list. It owns session creation,
// per-session mutual exclusion, and the glue that lets
// delegate_to_agent and the scheduler re-enter the agent loop without
// importing internal/httpapi.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentgw/internal/agent"
	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/flowctx"
	"github.com/kadirpekel/agentgw/internal/llm"
	"github.com/kadirpekel/agentgw/internal/scheduler"
	"github.com/kadirpekel/agentgw/internal/skill"
	"github.com/kadirpekel/agentgw/internal/store"
	"github.com/kadirpekel/agentgw/internal/tool"
	"github.com/kadirpekel/agentgw/internal/tools"
	"github.com/kadirpekel/agentgw/internal/vectorstore"
	"github.com/kadirpekel/agentgw/internal/webhook"
)

// routerSkillName is the synthetic zero-tool skill /api/route runs
// against, per SPEC_FULL.md's planner supplement. It is never loaded
// from disk and never appears in ListSkills.
const routerSkillName = "__router__"

// Deps bundles everything Service needs to be constructed, so wiring
// lives in one place (cmd/agentgwd) rather than scattered New calls.
type Deps struct {
	Tools     *tool.Registry
	Skills    *skill.Loader
	Messages  store.MessageStore
	Vectors   vectorstore.VectorStore
	Providers map[string]llm.Provider
	Default   string
	MaxDepth  int
	Webhooks  *webhook.Dispatcher
	Logger    *slog.Logger
}

// Service is the daemon's single long-lived object.
type Service struct {
	deps      Deps
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Service. Call SetScheduler afterward if the caller
// needs the scheduler to invoke back into this Service (the usual
// construction order, since the scheduler needs a Runner bound to an
// already-built Service).
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetScheduler attaches the Scheduler built from this Service's
// RunSkill method, so Status can report job state.
func (s *Service) SetScheduler(sch *scheduler.Scheduler) {
	s.scheduler = sch
}

func (s *Service) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// resolveSkill returns the named skill, or the synthetic router skill
// for routerSkillName.
func (s *Service) resolveSkill(name string) (*skill.Skill, error) {
	if name == routerSkillName {
		return routerSkill(), nil
	}
	sk, ok := s.deps.Skills.Get(name)
	if !ok {
		return nil, &agentgwerr.SkillValidationError{Skill: name, Message: "skill not found"}
	}
	return sk, nil
}

// ensureSession returns an existing session or creates one bound to
// skillName, per spec.md §3: "created either explicitly... or
// implicitly on first message".
func (s *Service) ensureSession(ctx context.Context, sessionID, skillName string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	existing, err := s.deps.Messages.GetSession(ctx, sessionID)
	if err != nil {
		return "", &agentgwerr.PersistenceError{Op: "get_session", Err: err}
	}
	if existing != nil {
		return sessionID, nil
	}
	if _, err := s.deps.Messages.CreateSession(ctx, sessionID, skillName); err != nil {
		return "", &agentgwerr.PersistenceError{Op: "create_session", Err: err}
	}
	s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventSessionCreated, Data: map[string]any{
		"session_id": sessionID, "skill_name": skillName,
	}})
	return sessionID, nil
}

func (s *Service) newLoop(sk *skill.Skill, sessionID string, depth int) *agent.Loop {
	return agent.New(sk, sessionID, depth, agent.Deps{
		Tools:     s.deps.Tools,
		Messages:  s.deps.Messages,
		Vectors:   s.deps.Vectors,
		Providers: s.deps.Providers,
		Default:   s.deps.Default,
		MaxDepth:  s.deps.MaxDepth,
	})
}

// Chat runs skillName against message in a streaming fashion,
// forwarding every agent.Event to yield. It returns the session id
// used (created if sessionID was empty) and any fatal error.
func (s *Service) Chat(ctx context.Context, skillName, message, sessionID string, yield func(agent.Event) bool) (string, error) {
	sk, err := s.resolveSkill(skillName)
	if err != nil {
		return "", err
	}
	sessionID, err = s.ensureSession(ctx, sessionID, sk.Name)
	if err != nil {
		return "", err
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventAgentStarted, Data: map[string]any{
		"session_id": sessionID, "skill_name": sk.Name,
	}})

	loop := s.newLoop(sk, sessionID, flowctx.Depth(ctx))
	err = loop.Run(ctx, message, func(ev agent.Event) bool {
		if ev.Kind == agent.EventTool {
			s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventToolExecuted, Data: map[string]any{
				"session_id": sessionID, "tool": ev.ToolName,
			}})
		}
		return yield(ev)
	})

	if err != nil {
		s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventAgentFailed, Data: map[string]any{
			"session_id": sessionID, "error": err.Error(),
		}})
		return sessionID, err
	}
	s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventAgentCompleted, Data: map[string]any{
		"session_id": sessionID, "skill_name": sk.Name,
	}})
	return sessionID, nil
}

// Run runs skillName to completion and returns the final assistant
// text, for POST /api/run.
func (s *Service) Run(ctx context.Context, skillName, message, sessionID string) (resultSessionID, result string, err error) {
	var final string
	sid, err := s.Chat(ctx, skillName, message, sessionID, func(ev agent.Event) bool {
		if ev.Kind == agent.EventDone {
			final = ev.FinalText
		}
		return true
	})
	if err != nil {
		return sid, "", err
	}
	return sid, final, nil
}

// RunSkill implements scheduler.Runner and tools.DelegateFunc's
// underlying shape: run skillName to completion against sessionID,
// creating it if necessary. Used by the scheduler (fixed, derived
// session id per firing) and by delegation (fresh session id per
// call).
func (s *Service) RunSkill(ctx context.Context, skillName, sessionID, message string) (string, error) {
	_, result, err := s.Run(ctx, skillName, message, sessionID)
	return result, err
}

// DelegateFunc returns the closure internal/tools.DelegateToAgentSpec
// needs: a fresh session per call, bound to the ambient depth already
// incremented by the caller.
func (s *Service) DelegateFunc() tools.DelegateFunc {
	return func(ctx context.Context, skillName, userInput string) (string, error) {
		return s.RunSkill(ctx, skillName, "", userInput)
	}
}

// Route runs the synthetic router skill against message and parses
// its answer into a skill name and justification, per SPEC_FULL.md's
// planner supplement for POST /api/route.
func (s *Service) Route(ctx context.Context, message string) (skillName, reason string, err error) {
	sk := routerSkill()
	sessionID := uuid.NewString()
	loop := s.newLoop(sk, sessionID, flowctx.Depth(ctx))
	text, err := loop.RunToCompletion(ctx, routerPrompt(message, s.deps.Skills.All()))
	if err != nil {
		return "", "", err
	}
	return parseRouterAnswer(text)
}

// Ingest adds text as a new document, per spec.md §4.3.
func (s *Service) Ingest(ctx context.Context, source, text, collection string, skills, tags []string) (int, error) {
	return s.deps.Vectors.Ingest(ctx, source, text, collection, skills, tags)
}

// ListDocuments returns chunk previews for GET /api/documents.
func (s *Service) ListDocuments(ctx context.Context, collection string, skills []string, sourceSubstring string, limit int) ([]vectorstore.Preview, error) {
	return s.deps.Vectors.List(ctx, collection, skills, sourceSubstring, limit)
}

// DeleteDocumentsByIDs deletes a specific set of chunk ids.
func (s *Service) DeleteDocumentsByIDs(ctx context.Context, collection string, ids []string) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := s.deps.Vectors.Delete(ctx, collection, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// DeleteDocumentsBySource deletes every chunk from a given source.
func (s *Service) DeleteDocumentsBySource(ctx context.Context, collection, source string) (int, error) {
	return s.deps.Vectors.DeleteBySource(ctx, collection, source)
}

// SetFeedback records feedback for an assistant message.
func (s *Service) SetFeedback(ctx context.Context, messageID int64, value int) error {
	if err := s.deps.Messages.SetFeedback(ctx, messageID, value); err != nil {
		return &agentgwerr.PersistenceError{Op: "set_feedback", Err: err}
	}
	s.deps.Webhooks.Publish(webhook.Event{Kind: webhook.EventFeedbackReceived, Data: map[string]any{
		"message_id": messageID, "value": value,
	}})
	return nil
}

// ListSkills returns every loaded, non-synthetic skill.
func (s *Service) ListSkills() []*skill.Skill {
	return s.deps.Skills.All()
}

// ListSessions returns every known session.
func (s *Service) ListSessions(ctx context.Context) ([]store.Session, error) {
	sessions, err := s.deps.Messages.ListSessions(ctx, store.SessionFilter{}, 0)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list_sessions", Err: err}
	}
	return sessions, nil
}

// SessionMessages returns a session's full ordered history.
func (s *Service) SessionMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	msgs, err := s.deps.Messages.List(ctx, sessionID, 0)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list_messages", Err: err}
	}
	return msgs, nil
}

// Status summarizes scheduler and webhook state for GET /daemon/status.
type Status struct {
	SchedulerJobs []scheduler.Status `json:"scheduler_jobs"`
	Webhooks      webhook.Stats      `json:"webhooks"`
}

// Status returns a point-in-time operational snapshot.
func (s *Service) Status() Status {
	var jobs []scheduler.Status
	if s.scheduler != nil {
		jobs = s.scheduler.Statuses()
	}
	return Status{SchedulerJobs: jobs, Webhooks: s.deps.Webhooks.Stats()}
}

func routerSkill() *skill.Skill {
	return &skill.Skill{
		Name:          routerSkillName,
		SystemPrompt:  "You are a routing planner. Given a set of candidate skills and a user message, reply with exactly two lines: the first is `skill: <name>`, the second is `reason: <one sentence>`.",
		MaxIterations: 1,
		Temperature:   0,
	}
}

func routerPrompt(message string, candidates []*skill.Skill) string {
	prompt := "Candidates:\n"
	for _, c := range candidates {
		prompt += fmt.Sprintf("- %s: %s\n", c.Name, c.Description)
	}
	prompt += "\nMessage: " + message
	return prompt
}

func parseRouterAnswer(text string) (skillName, reason string, err error) {
	var skillLine, reasonLine string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "skill:"):
			skillLine = strings.TrimSpace(line[len("skill:"):])
		case strings.HasPrefix(lower, "reason:"):
			reasonLine = strings.TrimSpace(line[len("reason:"):])
		}
	}
	if skillLine == "" {
		return "", "", fmt.Errorf("router: could not parse a skill name from %q", text)
	}
	return skillLine, reasonLine, nil
}
