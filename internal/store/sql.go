package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Database drivers, matching the teacher's pkg/memory/session_service_sql.go.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
)

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    skill VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_used_at ON sessions(last_used_at);
`
	createFeedbackTableSQL = `
CREATE TABLE IF NOT EXISTS feedback (
    message_id BIGINT PRIMARY KEY,
    value INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
)

func createMessagesTableSQL(dialect string) string {
	switch dialect {
	case "postgres":
		return `
CREATE TABLE IF NOT EXISTS messages (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(20) NOT NULL,
    content TEXT NOT NULL,
    tool_calls_json TEXT,
    tool_call_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
`
	case "mysql":
		return `
CREATE TABLE IF NOT EXISTS messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(20) NOT NULL,
    content TEXT NOT NULL,
    tool_calls_json TEXT,
    tool_call_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
`
	default: // sqlite
		return `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(20) NOT NULL,
    content TEXT NOT NULL,
    tool_calls_json TEXT,
    tool_call_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
`
	}
}

// SQLStore is the database/sql-backed MessageStore, dialect-switched
// across sqlite, postgres, and mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open opens (and, for sqlite, creates) the database at dsn using
// driver, initializes the schema, and returns a ready SQLStore.
func Open(driver, dsn string, maxOpenConns int) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, &agentgwerr.ConfigError{Section: "store", Message: fmt.Sprintf("unsupported driver %q", driver)}
	}

	sqlDriver := driver
	if driver == "sqlite" {
		sqlDriver = "sqlite3"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &agentgwerr.PersistenceError{Op: "ping", Err: err}
	}

	s := &SQLStore{db: db, dialect: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, &agentgwerr.PersistenceError{Op: "init_schema", Err: err}
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("sessions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createMessagesTableSQL(s.dialect)); err != nil {
		return fmt.Errorf("messages table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createFeedbackTableSQL); err != nil {
		return fmt.Errorf("feedback table: %w", err)
	}
	return nil
}

// ph returns the n-th (1-indexed) positional placeholder for the
// store's dialect: "?" for sqlite/mysql, "$n" for postgres.
func (s *SQLStore) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) CreateSession(ctx context.Context, sessionID, skillName string) (*Session, error) {
	now := time.Now().UTC()
	query := fmt.Sprintf(
		"INSERT INTO sessions (id, skill, created_at, last_used_at) VALUES (%s, %s, %s, %s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4),
	)
	if _, err := s.db.ExecContext(ctx, query, sessionID, skillName, now, now); err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "create_session", Err: err}
	}
	return &Session{ID: sessionID, SkillName: skillName, CreatedAt: now, LastUsedAt: now}, nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := fmt.Sprintf("SELECT id, skill, created_at, last_used_at FROM sessions WHERE id = %s", s.ph(1))
	var sess Session
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&sess.ID, &sess.SkillName, &sess.CreatedAt, &sess.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "get_session", Err: err}
	}
	return &sess, nil
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msg Message) (Message, error) {
	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return Message{}, &agentgwerr.PersistenceError{Op: "marshal_tool_calls", Err: err}
		}
		toolCallsJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(
		"INSERT INTO messages (session_id, role, content, tool_calls_json, tool_call_id, created_at) VALUES (%s, %s, %s, %s, %s, %s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6),
	)

	var insertErr error
	var id int64
	if s.dialect == "postgres" {
		query += " RETURNING id"
		insertErr = s.db.QueryRowContext(ctx, query, sessionID, string(msg.Role), msg.Content, toolCallsJSON, nullableString(msg.ToolCallID), now).Scan(&id)
	} else {
		var res sql.Result
		res, insertErr = s.db.ExecContext(ctx, query, sessionID, string(msg.Role), msg.Content, toolCallsJSON, nullableString(msg.ToolCallID), now)
		if insertErr == nil {
			id, insertErr = res.LastInsertId()
		}
	}
	if insertErr != nil {
		return Message{}, &agentgwerr.PersistenceError{Op: "append_message", Err: insertErr}
	}

	touchQuery := fmt.Sprintf("UPDATE sessions SET last_used_at = %s WHERE id = %s", s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, touchQuery, now, sessionID); err != nil {
		return Message{}, &agentgwerr.PersistenceError{Op: "touch_session", Err: err}
	}

	msg.ID = id
	msg.SessionID = sessionID
	msg.CreatedAt = now
	return msg, nil
}

func (s *SQLStore) List(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := fmt.Sprintf(
		"SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at FROM messages WHERE session_id = %s ORDER BY id ASC",
		s.ph(1),
	)
	args := []interface{}{sessionID}
	if limit > 0 {
		if s.dialect == "postgres" {
			query = fmt.Sprintf(
				"SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at FROM (%s ORDER BY id DESC LIMIT %s) sub ORDER BY id ASC",
				fmt.Sprintf("SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at FROM messages WHERE session_id = %s", s.ph(1)),
				s.ph(2),
			)
		} else {
			query = fmt.Sprintf(
				"SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at FROM (SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?) sub ORDER BY id ASC",
			)
		}
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list_messages", Err: err}
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCallsJSON, toolCallID sql.NullString
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &toolCallsJSON, &toolCallID, &m.CreatedAt); err != nil {
			return nil, &agentgwerr.PersistenceError{Op: "scan_message", Err: err}
		}
		m.Role = Role(role)
		m.ToolCallID = toolCallID.String
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls); err != nil {
				return nil, &agentgwerr.PersistenceError{Op: "unmarshal_tool_calls", Err: err}
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListSessions(ctx context.Context, filter SessionFilter, limit int) ([]Session, error) {
	query := "SELECT id, skill, created_at, last_used_at FROM sessions"
	var args []interface{}
	if filter.SkillName != "" {
		query += fmt.Sprintf(" WHERE skill = %s", s.ph(1))
		args = append(args, filter.SkillName)
	}
	query += " ORDER BY last_used_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", s.ph(len(args)+1))
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &agentgwerr.PersistenceError{Op: "list_sessions", Err: err}
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.SkillName, &sess.CreatedAt, &sess.LastUsedAt); err != nil {
			return nil, &agentgwerr.PersistenceError{Op: "scan_session", Err: err}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetFeedback(ctx context.Context, messageID int64, value int) error {
	now := time.Now().UTC()
	var query string
	switch s.dialect {
	case "postgres":
		query = "INSERT INTO feedback (message_id, value, created_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO UPDATE SET value = $2, created_at = $3"
	case "mysql":
		query = "INSERT INTO feedback (message_id, value, created_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE value = VALUES(value), created_at = VALUES(created_at)"
	default: // sqlite
		query = "INSERT INTO feedback (message_id, value, created_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO UPDATE SET value = excluded.value, created_at = excluded.created_at"
	}
	if _, err := s.db.ExecContext(ctx, query, messageID, value, now); err != nil {
		return &agentgwerr.PersistenceError{Op: "set_feedback", Err: err}
	}
	return nil
}

func (s *SQLStore) GetFeedback(ctx context.Context, messageID int64) (int, bool, error) {
	query := fmt.Sprintf("SELECT value FROM feedback WHERE message_id = %s", s.ph(1))
	var value int
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &agentgwerr.PersistenceError{Op: "get_feedback", Err: err}
	}
	return value, true, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM feedback WHERE message_id IN (SELECT id FROM messages WHERE session_id = %s)", s.ph(1)), sessionID); err != nil {
		return &agentgwerr.PersistenceError{Op: "delete_feedback", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM messages WHERE session_id = %s", s.ph(1)), sessionID); err != nil {
		return &agentgwerr.PersistenceError{Op: "delete_messages", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM sessions WHERE id = %s", s.ph(1)), sessionID); err != nil {
		return &agentgwerr.PersistenceError{Op: "delete_session", Err: err}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
