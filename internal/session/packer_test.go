package session

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/workbench/pkg/models"
)

func evUser(text string) *models.Event {
	return &models.Event{
		Type:       models.EventUserPrompt,
		UserPrompt: &models.UserPromptPayload{Text: text},
	}
}

func evAssistantText(turnID, text string) *models.Event {
	return &models.Event{
		Type:          models.EventAssistantText,
		TurnID:        turnID,
		AssistantText: &models.AssistantTextPayload{Text: text},
	}
}

func evToolCall(turnID, callID, name, args string) *models.Event {
	return &models.Event{
		Type:   models.EventAssistantToolCall,
		TurnID: turnID,
		ToolCall: &models.ToolCallPayload{
			CallID:    callID,
			Name:      name,
			Arguments: json.RawMessage(args),
		},
	}
}

func evToolResult(turnID, callID, output string) *models.Event {
	return &models.Event{
		Type:   models.EventToolResult,
		TurnID: turnID,
		ToolResult: &models.ToolResult{
			CallID: callID,
			Status: models.StatusOK,
			Output: json.RawMessage(output),
		},
	}
}

func TestPackerChronologicalOrder(t *testing.T) {
	packer := NewPacker(HeuristicCounter{}, 0, 0)
	events := []*models.Event{
		evUser("check disk space"),
		evAssistantText("t1", "on it"),
		evUser("thanks"),
	}

	packed, err := packer.Pack("you are a workbench assistant", events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	wantRoles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleUser}
	if len(packed.Messages) != len(wantRoles) {
		t.Fatalf("Pack() = %d messages, want %d", len(packed.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if packed.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %s, want %s", i, packed.Messages[i].Role, want)
		}
	}
	if packed.Truncated {
		t.Error("Pack() truncated with no budget")
	}
	if packed.Messages[1].Content != "check disk space" || packed.Messages[3].Content != "thanks" {
		t.Errorf("message order lost: %q, %q", packed.Messages[1].Content, packed.Messages[3].Content)
	}
}

func TestPackerTruncatesOldestFirst(t *testing.T) {
	counter := HeuristicCounter{}
	events := []*models.Event{
		evUser("first question about the database"),
		evAssistantText("t1", "first answer"),
		evUser("second question"),
	}

	system := "sys"
	sysCost := MessageTokens(counter, models.Message{Role: models.RoleSystem, Content: system})
	newest := MessageTokens(counter, models.Message{Role: models.RoleUser, Content: "second question"})

	packer := NewPacker(counter, sysCost+newest, 0)
	packed, err := packer.Pack(system, events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	if len(packed.Messages) != 2 {
		t.Fatalf("Pack() = %d messages, want system + newest user", len(packed.Messages))
	}
	if packed.Messages[1].Content != "second question" {
		t.Errorf("kept %q, want the newest message", packed.Messages[1].Content)
	}
	if !packed.Truncated {
		t.Error("Truncated = false")
	}
	if packed.DroppedMessages != 2 {
		t.Errorf("DroppedMessages = %d, want 2", packed.DroppedMessages)
	}
	if packed.TotalTokens != sysCost+newest {
		t.Errorf("TotalTokens = %d, want %d", packed.TotalTokens, sysCost+newest)
	}
}

func TestPackerReserveShrinksBudget(t *testing.T) {
	counter := HeuristicCounter{}
	events := []*models.Event{evUser("hello there")}

	system := "sys"
	sysCost := MessageTokens(counter, models.Message{Role: models.RoleSystem, Content: system})
	userCost := MessageTokens(counter, models.Message{Role: models.RoleUser, Content: "hello there"})

	// Budget would fit the user message, but the reserve eats it.
	packer := NewPacker(counter, sysCost+userCost, userCost)
	packed, err := packer.Pack(system, events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(packed.Messages) != 1 {
		t.Fatalf("Pack() = %d messages, want system only", len(packed.Messages))
	}
	if !packed.Truncated {
		t.Error("Truncated = false")
	}
}

func TestPackerMergesToolCallsOfOneTurn(t *testing.T) {
	packer := NewPacker(HeuristicCounter{}, 0, 0)
	events := []*models.Event{
		evUser("inspect the host"),
		evToolCall("t1", "c1", "resolve_target", `{"target":"localhost"}`),
		evToolCall("t1", "c2", "run_diagnostic", `{"target":"localhost","action":"df"}`),
		evToolResult("t1", "c1", `{"os":"linux"}`),
		evToolResult("t1", "c2", `{"free":"42G"}`),
		evAssistantText("t2", "plenty of space"),
	}

	packed, err := packer.Pack("sys", events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	// system, user, assistant(2 calls), tool, tool, assistant text
	if len(packed.Messages) != 6 {
		t.Fatalf("Pack() = %d messages, want 6", len(packed.Messages))
	}
	assistant := packed.Messages[2]
	if assistant.Role != models.RoleAssistant || len(assistant.ToolCalls) != 2 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if assistant.ToolCalls[0].ID != "c1" || assistant.ToolCalls[1].ID != "c2" {
		t.Errorf("tool call order = %s, %s", assistant.ToolCalls[0].ID, assistant.ToolCalls[1].ID)
	}
	for i, callID := range []string{"c1", "c2"} {
		msg := packed.Messages[3+i]
		if msg.Role != models.RoleTool || msg.ToolCallID != callID {
			t.Errorf("messages[%d] = role %s call %s, want tool %s", 3+i, msg.Role, msg.ToolCallID, callID)
		}
	}
}

func TestPackerKeepsToolPairingAtomic(t *testing.T) {
	counter := HeuristicCounter{}
	events := []*models.Event{
		evUser("look around"),
		evToolCall("t1", "c1", "resolve_target", `{"target":"localhost"}`),
		evToolResult("t1", "c1", `{"os":"linux"}`),
		evUser("now just answer"),
	}

	system := "sys"
	sysCost := MessageTokens(counter, models.Message{Role: models.RoleSystem, Content: system})
	newest := MessageTokens(counter, models.Message{Role: models.RoleUser, Content: "now just answer"})

	// Room for the newest user message plus a little, but not for the
	// whole tool-call unit.
	packer := NewPacker(counter, sysCost+newest+3, 0)
	packed, err := packer.Pack(system, events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	for _, msg := range packed.Messages {
		if msg.Role == models.RoleTool {
			t.Error("orphaned tool message survived truncation")
		}
		if len(msg.ToolCalls) > 0 {
			t.Error("assistant tool-call message survived without its results")
		}
	}
	if len(packed.Messages) != 2 {
		t.Errorf("Pack() = %d messages, want system + newest user", len(packed.Messages))
	}
}

func TestPackerSkipsNonMessageEvents(t *testing.T) {
	packer := NewPacker(HeuristicCounter{}, 0, 0)
	events := []*models.Event{
		evUser("hello"),
		{Type: models.EventPolicyDecision, Policy: &models.PolicyDecisionPayload{CallID: "c1", Decision: models.DecisionAllow}},
		{Type: models.EventError, Error: &models.ErrorPayload{Code: "timeout", Message: "slow"}},
		{Type: models.EventSessionMeta, Meta: &models.SessionMetaPayload{Key: "title", Value: "x"}},
	}

	packed, err := packer.Pack("sys", events)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(packed.Messages) != 2 {
		t.Errorf("Pack() = %d messages, want system + user only", len(packed.Messages))
	}
}

func TestToolMessageContent(t *testing.T) {
	ok := &models.ToolResult{CallID: "c1", Status: models.StatusOK, Output: json.RawMessage(`{"os":"linux"}`)}
	if got := toolMessageContent(ok); got != `{"os":"linux"}` {
		t.Errorf("ok content = %q", got)
	}

	failed := &models.ToolResult{CallID: "c2", Status: models.StatusError, Error: "no such host"}
	got := toolMessageContent(failed)
	if !strings.Contains(got, `"status":"error"`) || !strings.Contains(got, "no such host") {
		t.Errorf("error content = %q", got)
	}

	denied := &models.ToolResult{CallID: "c3", Status: models.StatusDenied}
	if got := toolMessageContent(denied); !strings.Contains(got, `"status":"denied"`) {
		t.Errorf("denied content = %q", got)
	}

	withRef := &models.ToolResult{
		CallID: "c4",
		Status: models.StatusOK,
		Output: json.RawMessage(`{}`),
		ArtifactRefs: []models.ArtifactRef{{
			SHA256:       "abc123",
			OriginalName: "dmesg.txt",
			SizeBytes:    2048,
		}},
	}
	got = toolMessageContent(withRef)
	if !strings.Contains(got, "sha256=abc123") || !strings.Contains(got, "dmesg.txt") {
		t.Errorf("artifact suffix missing: %q", got)
	}
}

func TestHeuristicCounter(t *testing.T) {
	counter := HeuristicCounter{}
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := counter.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestMessageTokens(t *testing.T) {
	counter := HeuristicCounter{}

	plain := models.Message{Role: models.RoleUser, Content: "abcd"}
	if got := MessageTokens(counter, plain); got != messageOverheadTokens+1 {
		t.Errorf("MessageTokens(plain) = %d", got)
	}

	withCall := models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "c1", Name: "run_shell", Arguments: json.RawMessage(`{"cmd":"ls"}`)}},
	}
	want := messageOverheadTokens + counter.Count("run_shell") + counter.Count(`{"cmd":"ls"}`)
	if got := MessageTokens(counter, withCall); got != want {
		t.Errorf("MessageTokens(tool call) = %d, want %d", got, want)
	}

	toolMsg := models.Message{Role: models.RoleTool, Content: "abcd", ToolCallID: "c1"}
	want = messageOverheadTokens + 1 + counter.Count("c1")
	if got := MessageTokens(counter, toolMsg); got != want {
		t.Errorf("MessageTokens(tool result) = %d, want %d", got, want)
	}
}

func TestNewCounter(t *testing.T) {
	counter, err := NewCounter("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewCounter() error = %v", err)
	}
	if counter.Name() != "heuristic" {
		t.Errorf("default counter = %s", counter.Name())
	}

	if _, err := NewCounter("exotic", "gpt-4o"); err == nil {
		t.Error("NewCounter(exotic) expected error")
	}
}
