// Package llm defines the provider-neutral streaming completion API and the
// assembler that reconstructs tool calls from streamed deltas.
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/workbench/pkg/models"
)

// ToolChoice controls whether the model may invoke tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ToolSpec is the schema-level description of a tool sent to the provider.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Request is a provider-neutral streaming completion request.
type Request struct {
	Model      string
	System     string
	Messages   []models.Message
	Tools      []ToolSpec
	ToolChoice ToolChoice
	MaxTokens  int
}

// ToolCallDelta is one streamed fragment of a tool call. Index identifies the
// call slot; ID and Name may arrive on any fragment; Args is a chunk of the
// arguments JSON string.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// Chunk is one element of a provider stream. At most one of Text, Delta, or
// Err is set; Done marks the final chunk and carries the finish reason.
type Chunk struct {
	Text   string
	Delta  *ToolCallDelta
	Done   bool
	Reason string
	Err    error
}

// Provider is a streaming chat-completion endpoint. Stream returns a channel
// that is always closed by the producing goroutine; a transport or server
// failure is delivered as a Chunk with Err set and ends the stream.
type Provider interface {
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
}
