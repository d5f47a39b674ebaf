package models

import (
	"encoding/json"
	"testing"
)

func TestRiskOrdering(t *testing.T) {
	if !(RiskReadOnly < RiskWrite && RiskWrite < RiskDestructive && RiskDestructive < RiskShell) {
		t.Fatal("risk levels must be strictly ordered")
	}
}

func TestParseRisk(t *testing.T) {
	tests := []struct {
		in      string
		want    RiskLevel
		wantErr bool
	}{
		{"read_only", RiskReadOnly, false},
		{"write", RiskWrite, false},
		{"destructive", RiskDestructive, false},
		{"shell", RiskShell, false},
		{"SHELL", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRisk(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRisk(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRisk(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRisk(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRiskJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(RiskShell)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"shell"` {
		t.Fatalf("marshal = %s, want \"shell\"", data)
	}

	var r RiskLevel
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r != RiskShell {
		t.Fatalf("round trip = %v, want %v", r, RiskShell)
	}

	// Bare integers appear in older audit lines.
	if err := json.Unmarshal([]byte("30"), &r); err != nil {
		t.Fatalf("unmarshal int: %v", err)
	}
	if r != RiskDestructive {
		t.Fatalf("unmarshal int = %v, want %v", r, RiskDestructive)
	}
}

func TestEventPayloadExclusivity(t *testing.T) {
	ev := Event{
		SessionID: "s1",
		Seq:       1,
		Type:      EventToolResult,
		ToolResult: &ToolResult{
			CallID: "c1",
			Status: StatusOK,
			Output: json.RawMessage(`{"os":"linux"}`),
		},
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ToolResult == nil || back.ToolResult.CallID != "c1" {
		t.Fatal("tool_result payload lost in round trip")
	}
	if back.UserPrompt != nil || back.AssistantText != nil || back.Policy != nil {
		t.Fatal("unexpected payloads materialized")
	}
}
