// Package store implements the append-only session and feedback
// persistence layer (MessageStore) over database/sql, grounded on the
// teacher's pkg/memory.SQLSessionService: same dialect-switched SQL,
// same driver-blank-import pattern, adapted from protobuf-framed
// session messages to a flat relational Message/Session/Feedback model.
package store

import (
	"context"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one entry of an assistant message's tool_calls attribute.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is an append-only, ordered record within a Session.
type Message struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is a durable, ordered conversation bound to exactly one skill.
type Session struct {
	ID         string    `json:"id"`
	SkillName  string    `json:"skill_name"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	SkillName string
}

// MessageStore is the append-only session and feedback persistence
// contract. A single writer per session is guaranteed by the caller
// (see internal/service); MessageStore itself only serializes at the
// database level.
type MessageStore interface {
	// CreateSession creates a new session bound to skillName and
	// returns it.
	CreateSession(ctx context.Context, sessionID, skillName string) (*Session, error)

	// GetSession returns session metadata, or (nil, nil) if it does
	// not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// Append appends a message to a session's ordered log and returns
	// it with its assigned ID and timestamp. Also bumps the session's
	// last_used_at.
	Append(ctx context.Context, sessionID string, msg Message) (Message, error)

	// List returns a session's messages in total order. limit <= 0
	// means unbounded.
	List(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// ListSessions returns sessions matching filter, most recently
	// used first, limited to limit (<=0 means unbounded).
	ListSessions(ctx context.Context, filter SessionFilter, limit int) ([]Session, error)

	// SetFeedback idempotently sets feedback for an assistant message.
	// Re-submitting overrides the prior value.
	SetFeedback(ctx context.Context, messageID int64, value int) error

	// GetFeedback returns the current feedback value for messageID, or
	// ok=false if none has been recorded.
	GetFeedback(ctx context.Context, messageID int64) (value int, ok bool, err error)

	// DeleteSession removes a session and its messages and feedback.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}
