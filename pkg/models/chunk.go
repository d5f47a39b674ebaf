package models

// ChunkType identifies the kind of stream chunk emitted during a turn.
type ChunkType string

const (
	ChunkTextDelta         ChunkType = "text_delta"
	ChunkToolCallStarted   ChunkType = "tool_call_started"
	ChunkToolCallArgsDelta ChunkType = "tool_call_arguments_delta"
	ChunkToolCallCompleted ChunkType = "tool_call_completed"
	ChunkToolResult        ChunkType = "tool_result"
	ChunkPolicyDecision    ChunkType = "policy_decision"
	ChunkTurnComplete      ChunkType = "turn_complete"
	ChunkError             ChunkType = "error"
)

// StreamChunk is one element of the lazy chunk sequence a turn produces.
// The sequence is finite and totally ordered; it ends with turn_complete or
// with a fatal error chunk. Exactly one payload is set for a given Type.
type StreamChunk struct {
	Type ChunkType `json:"type"`

	// Text is the delta for text_delta chunks.
	Text string `json:"text,omitempty"`

	// Index is the provider slot for tool_call_* chunks.
	Index int `json:"index,omitempty"`

	// ArgsDelta is the raw argument fragment for tool_call_arguments_delta.
	ArgsDelta string `json:"args_delta,omitempty"`

	// ToolCall carries call identity: partial for tool_call_started and
	// tool_call_arguments_delta, complete for tool_call_completed.
	ToolCall   *ToolCall              `json:"tool_call,omitempty"`
	ToolResult *ToolResult            `json:"tool_result,omitempty"`
	Policy     *PolicyDecisionPayload `json:"policy,omitempty"`
	Err        *ErrorPayload          `json:"error,omitempty"`
}

// Fatal reports whether the chunk terminates the turn.
func (c *StreamChunk) Fatal() bool { return c.Type == ChunkError }
