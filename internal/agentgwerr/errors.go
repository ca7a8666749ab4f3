// Package agentgwerr defines the error taxonomy shared across the daemon.
//
// ToolNotFoundError and ToolHandlerError are surfaced as data (a tool
// message fed back to the model) rather than propagated as Go errors
// past the AgentLoop. ProviderError ends the current AgentLoop with a
// degraded completion. CancelledError is returned by AgentLoop.Run as a
// Go error, and Service passes it on unchanged. PersistenceError and
// AuthError do propagate and terminate the enclosing request.
// ToolArgumentError, DepthExceededError and WebhookDeliveryError are
// not constructed by any package of the daemon.
package agentgwerr

import "fmt"

// ConfigError indicates a fatal startup configuration problem.
type ConfigError struct {
	Section string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config[%s]: %s: %v", e.Section, e.Message, e.Err)
	}
	return fmt.Sprintf("config[%s]: %s", e.Section, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SkillValidationError indicates a single skill definition failed
// validation at load time. It does not prevent other skills from
// loading; the loader logs it and excludes the skill.
type SkillValidationError struct {
	Skill   string
	Message string
	Err     error
}

func (e *SkillValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skill %q invalid: %s: %v", e.Skill, e.Message, e.Err)
	}
	return fmt.Sprintf("skill %q invalid: %s", e.Skill, e.Message)
}

func (e *SkillValidationError) Unwrap() error { return e.Err }

// ToolArgumentError means the LLM supplied arguments that don't match
// the tool's schema. The tool registry does not check arguments, so
// nothing constructs it.
type ToolArgumentError struct {
	Tool    string
	Message string
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("tool %q argument error: %s", e.Tool, e.Message)
}

// ToolNotFoundError means the LLM requested a tool name not in the
// registry, or not in the calling skill's allow-list.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Tool)
}

// ToolHandlerError wraps a panic or returned error from a tool handler.
type ToolHandlerError struct {
	Tool string
	Err  error
}

func (e *ToolHandlerError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolHandlerError) Unwrap() error { return e.Err }

// ProviderError indicates a transport failure, malformed stream, or
// rate limit from the LLM provider. It terminates the current
// AgentLoop iteration with a degraded completion.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %q: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DepthExceededError describes a delegation that would exceed the
// configured orchestration depth. delegate_to_agent reports that case
// as a JSON tool result and does not construct this type.
type DepthExceededError struct {
	CurrentDepth int
	MaxDepth     int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("orchestration depth %d would exceed max %d", e.CurrentDepth+1, e.MaxDepth)
}

// CancelledError short-circuits an AgentLoop iteration without
// persisting the in-progress assistant message. Not an error for the
// session: already-persisted messages remain valid.
type CancelledError struct {
	SessionID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("session %q cancelled", e.SessionID)
}

// PersistenceError is fatal to the request; it bubbles to the façade
// as a 5xx.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence op %q failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AuthError is returned by the HTTP façade as a 401.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth: " + e.Message }

// WebhookDeliveryError describes a failed webhook delivery. The
// dispatcher logs failed deliveries itself and does not construct this
// type; it is never surfaced to interactive clients.
type WebhookDeliveryError struct {
	Subscription string
	StatusCode   int
	Err          error
}

func (e *WebhookDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook %q delivery failed: %v", e.Subscription, e.Err)
	}
	return fmt.Sprintf("webhook %q delivery failed: status %d", e.Subscription, e.StatusCode)
}

func (e *WebhookDeliveryError) Unwrap() error { return e.Err }
