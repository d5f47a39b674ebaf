// Package models provides domain types for the Workbench agent runtime.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the chat-completion message passed to and from providers.
// An assistant message is terminal when it carries no tool calls.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == RoleTool
}

// ToolCall is the model's request to invoke a named tool.
// Arguments is always a JSON object; call IDs are unique within a session.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResultStatus classifies the outcome of a tool call.
type ResultStatus string

const (
	StatusOK     ResultStatus = "ok"
	StatusError  ResultStatus = "error"
	StatusDenied ResultStatus = "denied"
)

// Error codes attached to non-ok tool results. Tool-level failures are data
// fed back to the model; the orchestrator never raises them.
const (
	ErrCodeValidation    = "invalid_arguments"
	ErrCodePolicyBlock   = "policy_block"
	ErrCodeTimeout       = "timeout"
	ErrCodeToolException = "tool_exception"
	ErrCodeUnknownTool   = "unknown_tool"
	ErrCodeDuplicateCall = "duplicate_call_id"
	ErrCodeCancelled     = "cancelled"
	ErrCodeBackend       = "backend_error"
	ErrCodeAborted       = "aborted"
)

// Error codes carried by turn-fatal error events. These end the turn; the
// stream terminates with a matching error chunk.
const (
	ErrCodeProtocol = "llm_protocol_error"
	ErrCodeProvider = "provider_failure"
	ErrCodeMaxTurns = "max_turns_exceeded"
	ErrCodeStore    = "store_error"
)

// ToolResult is the outcome of one tool call, linked by call ID.
type ToolResult struct {
	CallID       string          `json:"call_id"`
	Status       ResultStatus    `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	ArtifactRefs []ArtifactRef   `json:"artifact_refs,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`

	// ArtifactPayloads carries raw bytes out of Execute. The orchestrator
	// stores each payload and swaps it for an ArtifactRef before the
	// result is appended; payloads never serialize into the log.
	ArtifactPayloads []ArtifactPayload `json:"-"`
}

// OK reports whether the call succeeded.
func (r *ToolResult) OK() bool { return r.Status == StatusOK }

// Session is an ordered sequence of events with a stable id.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
