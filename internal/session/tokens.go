package session

import (
	"fmt"

	"github.com/haasonsaas/workbench/pkg/models"
	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token usage for packing decisions.
type Counter interface {
	Count(text string) int
	Name() string
}

// HeuristicCounter approximates tokens as ceil(len/4). It needs no
// encoding tables, so it is the fallback when tiktoken is unavailable.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int { return (len(text) + 3) / 4 }
func (HeuristicCounter) Name() string          { return "heuristic" }

// TiktokenCounter counts exactly using a BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) Name() string { return c.name }

// NewCounter builds a token counter. Kind "tiktoken" resolves the encoding
// for the given model, falling back to cl100k_base for unknown models. An
// empty kind selects the heuristic.
func NewCounter(kind, model string) (Counter, error) {
	switch kind {
	case "", "heuristic":
		return HeuristicCounter{}, nil
	case "tiktoken":
		encoding, err := tiktoken.EncodingForModel(model)
		if err != nil {
			encoding, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding: %w", err)
		}
		return &TiktokenCounter{encoding: encoding, name: "tiktoken"}, nil
	default:
		return nil, fmt.Errorf("unknown token counter: %s", kind)
	}
}

// messageOverheadTokens approximates the per-message wrapping cost of chat
// formats (role marker and separators).
const messageOverheadTokens = 4

// MessageTokens estimates the packed cost of one message, including tool
// calls and the tool-result link id.
func MessageTokens(counter Counter, msg models.Message) int {
	tokens := messageOverheadTokens + counter.Count(msg.Content)
	for _, call := range msg.ToolCalls {
		tokens += counter.Count(call.Name) + counter.Count(string(call.Arguments))
	}
	if msg.ToolCallID != "" {
		tokens += counter.Count(msg.ToolCallID)
	}
	return tokens
}
