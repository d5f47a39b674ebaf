package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventUserPrompt        EventType = "user_prompt"
	EventAssistantText     EventType = "assistant_text"
	EventAssistantToolCall EventType = "assistant_tool_call"
	EventToolResult        EventType = "tool_result"
	EventPolicyDecision    EventType = "policy_decision"
	EventError             EventType = "error"
	EventSessionMeta       EventType = "session_meta"
)

// Event is the atomic unit of the session log. Seq is assigned by the store
// inside the appending transaction and is strictly monotonic per session with
// no gaps. Events are immutable once appended.
//
// Exactly one payload pointer is non-nil for a given Type.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	TurnID    string    `json:"turn_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	UserPrompt    *UserPromptPayload     `json:"user_prompt,omitempty"`
	AssistantText *AssistantTextPayload  `json:"assistant_text,omitempty"`
	ToolCall      *ToolCallPayload       `json:"tool_call,omitempty"`
	ToolResult    *ToolResult            `json:"tool_result,omitempty"`
	Policy        *PolicyDecisionPayload `json:"policy,omitempty"`
	Error         *ErrorPayload          `json:"error,omitempty"`
	Meta          *SessionMetaPayload    `json:"meta,omitempty"`
}

// UserPromptPayload carries the operator's prompt text.
type UserPromptPayload struct {
	Text string `json:"text"`
}

// AssistantTextPayload carries the assistant's terminal or interstitial text.
type AssistantTextPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload records one completed tool call from the assistant. Calls
// belonging to the same model response share a TurnID on the enclosing event.
type ToolCallPayload struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Decision is the policy verdict for one tool call.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionConfirm Decision = "confirm"
	DecisionDeny    Decision = "deny"
)

// Policy decision reasons. Operator answers to a confirm are recorded as a
// follow-up decision with one of the operator_* reasons.
const (
	ReasonRiskCeiling       = "risk_ceiling"
	ReasonBlockedPattern    = "blocked_pattern"
	ReasonConfirmShell      = "confirm_shell"
	ReasonConfirmDestruct   = "confirm_destructive"
	ReasonConfirmWrite      = "confirm_write"
	ReasonAllowed           = "allowed"
	ReasonOperatorConfirmed = "operator_confirmed"
	ReasonOperatorDeclined  = "operator_declined"
)

// PolicyDecisionPayload records a gating decision. ArgsRedacted is the
// redacted copy of the call arguments; the live values never appear here.
type PolicyDecisionPayload struct {
	CallID       string          `json:"call_id"`
	Tool         string          `json:"tool"`
	Risk         RiskLevel       `json:"risk"`
	Decision     Decision        `json:"decision"`
	Reason       string          `json:"reason"`
	ArgsRedacted json.RawMessage `json:"args_redacted,omitempty"`
}

// ErrorPayload records a turn-fatal failure in the log.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session meta keys.
const (
	MetaProviderChange = "provider_change"
	MetaModelChange    = "model_change"
	MetaTitle          = "title"
)

// SessionMetaPayload records a session-level state change, such as the
// operator switching providers mid-session.
type SessionMetaPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
