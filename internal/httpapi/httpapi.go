// Package httpapi is the HTTP façade over internal/service, grounded
// on the teacher's pkg/auth.JWTValidator.HTTPMiddleware for
// error-response shape (JSON body, http.Error status codes) and its
// pkg/transport metrics middleware for the chi-based wrapping pattern,
// adapted from JWT bearer validation to the daemon's single static
// API key per spec.md §6.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/agentgw/internal/agent"
	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/service"
)

const version = "0.1.0"

// Server wraps a Service with chi routing, auth, and SSE streaming.
type Server struct {
	svc     *service.Service
	apiKey  string
	logger  *slog.Logger
	router  chi.Router
	model   string
	provider string
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires Authorization: Bearer <key> on every /api/*
// request. Leaving it empty (the default) makes the API public.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealthInfo sets the provider/model strings reported by GET /health.
func WithHealthInfo(provider, model string) Option {
	return func(s *Server) { s.provider, s.model = provider, model }
}

// New builds a Server and wires its routes.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireAPIKey)
		api.Post("/chat", s.handleChat)
		api.Post("/run", s.handleRun)
		api.Post("/route", s.handleRoute)
		api.Post("/ingest", s.handleIngest)
		api.Get("/documents", s.handleListDocuments)
		api.Delete("/documents", s.handleDeleteDocuments)
		api.Post("/feedback", s.handleFeedback)
		api.Get("/skills", s.handleListSkills)
		api.Get("/sessions", s.handleListSessions)
		api.Get("/sessions/{id}/messages", s.handleSessionMessages)
	})

	r.Get("/daemon/status", s.handleDaemonStatus)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey enforces Authorization: Bearer <key> when an API key
// is configured, per spec.md §6. A blank configured key means the
// façade is intentionally public.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps the daemon's structured error taxonomy
// (spec.md §7) onto HTTP status codes.
func statusForError(err error) int {
	var authErr *agentgwerr.AuthError
	var persistErr *agentgwerr.PersistenceError
	var skillErr *agentgwerr.SkillValidationError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError
	case errors.As(err, &skillErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  version,
		"provider": s.provider,
		"model":    s.model,
	})
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

type chatRequest struct {
	SkillName string `json:"skill_name"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChat streams Server-Sent Events: data: <text> per text delta,
// event: done once the loop finishes, per spec.md §6.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	_, err := s.svc.Chat(r.Context(), req.SkillName, req.Message, req.SessionID, func(ev agent.Event) bool {
		switch ev.Kind {
		case agent.EventText:
			writeSSEData(bw, ev.Text)
			flusher.Flush()
		case agent.EventDone:
			writeSSEEvent(bw, "done", ev.FinalText)
			flusher.Flush()
		}
		return true
	})
	if err != nil {
		s.logger.Error("chat stream failed", "error", err)
		writeSSEEvent(bw, "error", err.Error())
		flusher.Flush()
	}
}

func writeSSEData(w *bufio.Writer, text string) {
	for _, line := range strings.Split(text, "\n") {
		w.WriteString("data: " + line + "\n")
	}
	w.WriteString("\n")
	w.Flush()
}

func writeSSEEvent(w *bufio.Writer, event, data string) {
	w.WriteString("event: " + event + "\n")
	w.WriteString("data: " + data + "\n\n")
	w.Flush()
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, result, err := s.svc.Run(r.Context(), req.SkillName, req.Message, req.SessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "result": result})
}

type routeRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	skillName, reason, err := s.svc.Route(r.Context(), req.Message)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"skill_name": skillName, "reason": reason})
}

type ingestRequest struct {
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Skills     []string `json:"skills,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Collection string   `json:"collection,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.svc.Ingest(r.Context(), req.Source, req.Text, req.Collection, req.Skills, req.Tags)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chunks_added": n})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var skills []string
	if v := q.Get("skills"); v != "" {
		skills = strings.Split(v, ",")
	}
	docs, err := s.svc.ListDocuments(r.Context(), q.Get("collection"), skills, q.Get("source"), limit)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	collection := q.Get("collection")

	if ids := q.Get("ids"); ids != "" {
		deleted, err := s.svc.DeleteDocumentsByIDs(r.Context(), collection, strings.Split(ids, ","))
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
		return
	}

	source := q.Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "either ids or source is required")
		return
	}
	deleted, err := s.svc.DeleteDocumentsBySource(r.Context(), collection, source)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

type feedbackRequest struct {
	MessageID int64 `json:"message_id"`
	Value     int   `json:"value"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.SetFeedback(r.Context(), req.MessageID, req.Value); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListSkills())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.svc.SessionMessages(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
