package session

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Packer turns a session's event log into a message list that fits a token
// budget. The newest events win; the system prompt is always included.
type Packer struct {
	counter Counter
	budget  int
	reserve int
}

// NewPacker creates a packer. A budget <= 0 disables truncation; reserve is
// the slice of the budget held back for the model's response.
func NewPacker(counter Counter, budget, reserve int) *Packer {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if reserve < 0 {
		reserve = 0
	}
	return &Packer{counter: counter, budget: budget, reserve: reserve}
}

// Packed is the result of one packing pass.
type Packed struct {
	Messages        []models.Message
	TotalTokens     int
	DroppedMessages int
	Truncated       bool
}

// packUnit is the atomic inclusion unit: either a single message, or an
// assistant tool-call message bundled with all of its tool results. Model
// vendors reject orphaned halves of that pair, so the packer never splits it.
type packUnit struct {
	messages []models.Message
}

// Pack materializes messages from events, walks them newest to oldest under
// budget minus reserve, and returns them in chronological order behind the
// system prompt.
func (p *Packer) Pack(systemPrompt string, events []*models.Event) (*Packed, error) {
	units := buildUnits(events)

	system := models.Message{Role: models.RoleSystem, Content: systemPrompt}
	total := MessageTokens(p.counter, system)

	limit := math.MaxInt
	if p.budget > 0 {
		limit = p.budget - p.reserve
	}

	cut := len(units)
	for cut > 0 {
		cost := unitTokens(p.counter, units[cut-1])
		if total+cost > limit {
			break
		}
		total += cost
		cut--
	}

	dropped := 0
	for _, unit := range units[:cut] {
		dropped += len(unit.messages)
	}

	messages := []models.Message{system}
	for _, unit := range units[cut:] {
		messages = append(messages, unit.messages...)
	}

	return &Packed{
		Messages:        messages,
		TotalTokens:     total,
		DroppedMessages: dropped,
		Truncated:       cut > 0,
	}, nil
}

func unitTokens(counter Counter, unit packUnit) int {
	tokens := 0
	for _, msg := range unit.messages {
		tokens += MessageTokens(counter, msg)
	}
	return tokens
}

// buildUnits materializes events into packing units in chronological order.
// All tool calls of one model round-trip collapse into a single assistant
// message; their results attach to the same unit. Policy decisions, errors,
// and session meta events produce no messages.
func buildUnits(events []*models.Event) []packUnit {
	var units []packUnit
	callUnits := map[string]int{} // turn id -> index of its tool-call unit

	for _, event := range events {
		switch event.Type {
		case models.EventUserPrompt:
			if event.UserPrompt == nil {
				continue
			}
			units = append(units, packUnit{messages: []models.Message{{
				Role:    models.RoleUser,
				Content: event.UserPrompt.Text,
			}}})

		case models.EventAssistantText:
			if event.AssistantText == nil {
				continue
			}
			units = append(units, packUnit{messages: []models.Message{{
				Role:    models.RoleAssistant,
				Content: event.AssistantText.Text,
			}}})

		case models.EventAssistantToolCall:
			if event.ToolCall == nil {
				continue
			}
			call := models.ToolCall{
				ID:        event.ToolCall.CallID,
				Name:      event.ToolCall.Name,
				Arguments: event.ToolCall.Arguments,
			}
			if idx, ok := callUnits[event.TurnID]; ok && event.TurnID != "" {
				units[idx].messages[0].ToolCalls = append(units[idx].messages[0].ToolCalls, call)
				continue
			}
			units = append(units, packUnit{messages: []models.Message{{
				Role:      models.RoleAssistant,
				ToolCalls: []models.ToolCall{call},
			}}})
			if event.TurnID != "" {
				callUnits[event.TurnID] = len(units) - 1
			}

		case models.EventToolResult:
			if event.ToolResult == nil {
				continue
			}
			msg := models.Message{
				Role:       models.RoleTool,
				Content:    toolMessageContent(event.ToolResult),
				ToolCallID: event.ToolResult.CallID,
			}
			idx, ok := callUnits[event.TurnID]
			if !ok || event.TurnID == "" {
				idx, ok = findCallUnit(units, event.ToolResult.CallID)
			}
			if !ok {
				// No antecedent assistant call; an orphaned tool
				// message would be rejected upstream.
				continue
			}
			units[idx].messages = append(units[idx].messages, msg)
		}
	}
	return units
}

func findCallUnit(units []packUnit, callID string) (int, bool) {
	for i := len(units) - 1; i >= 0; i-- {
		for _, call := range units[i].messages[0].ToolCalls {
			if call.ID == callID {
				return i, true
			}
		}
	}
	return 0, false
}

// toolMessageContent renders a tool result for the model. Successful output
// passes through verbatim; failures become a small status object. Artifact
// references are listed so the model can ask for their contents.
func toolMessageContent(result *models.ToolResult) string {
	var content string
	if result.OK() {
		content = string(result.Output)
		if content == "" {
			content = "{}"
		}
	} else {
		msg := result.Error
		if msg == "" {
			msg = "tool call failed"
		}
		body, err := json.Marshal(map[string]string{
			"status": string(result.Status),
			"error":  msg,
		})
		if err != nil {
			body = []byte(`{"status":"error"}`)
		}
		content = string(body)
	}

	for _, ref := range result.ArtifactRefs {
		content += fmt.Sprintf("\n[artifact sha256=%s name=%s size=%d]",
			ref.SHA256, ref.OriginalName, ref.SizeBytes)
	}
	return content
}
