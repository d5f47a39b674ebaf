package llm

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Assembler reconstructs complete tool calls from streamed deltas. One
// assembler serves one provider stream; it is not safe for concurrent use.
//
// Providers interleave fragments across call slots. The assembler keeps one
// accumulator per slot index and validates everything at finalize time:
// identity must be complete, argument buffers must parse as JSON objects, and
// call IDs must be unique across slots.
type Assembler struct {
	slots map[int]*slot
	order []int
}

type slot struct {
	id   string
	name string
	args strings.Builder
}

var errNotObject = errors.New("arguments are not a JSON object")

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{slots: make(map[int]*slot)}
}

// Feed accumulates one delta. It returns true the first time a slot index is
// seen, which is the caller's cue to emit a tool_call_started chunk.
func (a *Assembler) Feed(d *ToolCallDelta) bool {
	s, ok := a.slots[d.Index]
	if !ok {
		s = &slot{}
		a.slots[d.Index] = s
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		s.id = d.ID
	}
	if d.Name != "" {
		s.name = d.Name
	}
	if d.Args != "" {
		s.args.WriteString(d.Args)
	}
	return !ok
}

// Pending reports how many call slots have been opened.
func (a *Assembler) Pending() int { return len(a.slots) }

// Identity returns the id and name accumulated so far for a slot.
func (a *Assembler) Identity(index int) (id, name string) {
	if s, ok := a.slots[index]; ok {
		return s.id, s.name
	}
	return "", ""
}

// Finalize validates every accumulator and returns the completed calls in
// first-seen slot order. Any violation returns a *ProtocolError and no calls;
// a partially valid stream is rejected as a whole.
func (a *Assembler) Finalize() ([]models.ToolCall, error) {
	calls := make([]models.ToolCall, 0, len(a.order))
	seen := make(map[string]int, len(a.order))

	for _, idx := range a.order {
		s := a.slots[idx]
		if s.id == "" || s.name == "" {
			return nil, &ProtocolError{
				Kind:   ProtocolMissingIdentity,
				Index:  idx,
				CallID: s.id,
				Detail: "tool call slot ended without id and name",
			}
		}
		if prev, dup := seen[s.id]; dup {
			return nil, &ProtocolError{
				Kind:   ProtocolDuplicateID,
				Index:  idx,
				CallID: s.id,
				Detail: "call id already used by slot " + strconv.Itoa(prev),
			}
		}
		seen[s.id] = idx

		args, err := normalizeArgs(s.args.String())
		if err != nil {
			return nil, &ProtocolError{
				Kind:   ProtocolMalformedArguments,
				Index:  idx,
				CallID: s.id,
				Detail: err.Error(),
			}
		}
		calls = append(calls, models.ToolCall{ID: s.id, Name: s.name, Arguments: args})
	}
	return calls, nil
}

// normalizeArgs parses an accumulated argument buffer. An empty buffer means
// a zero-argument call and normalizes to the empty object. Anything that is
// not a complete JSON object is an error.
func normalizeArgs(buf string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}
