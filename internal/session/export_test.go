package session

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/haasonsaas/workbench/pkg/models"
)

func seedTranscript(t *testing.T, store Store, sessionID string) {
	t.Helper()
	mustCreate(t, store, &models.Session{
		ID:       sessionID,
		Title:    "disk check",
		Provider: "openai",
		Model:    "gpt-4o",
	})
	mustAppend(t, store, userEvent(sessionID, "is the disk full?"))
	mustAppend(t, store, &models.Event{
		SessionID: sessionID,
		Type:      models.EventAssistantToolCall,
		TurnID:    "t1",
		ToolCall: &models.ToolCallPayload{
			CallID:    "c1",
			Name:      "run_diagnostic",
			Arguments: json.RawMessage(`{"target":"localhost","action":"df"}`),
		},
	})
	mustAppend(t, store, &models.Event{
		SessionID: sessionID,
		Type:      models.EventPolicyDecision,
		TurnID:    "t1",
		Policy: &models.PolicyDecisionPayload{
			CallID:   "c1",
			Tool:     "run_diagnostic",
			Risk:     models.RiskReadOnly,
			Decision: models.DecisionAllow,
			Reason:   models.ReasonAllowed,
		},
	})
	mustAppend(t, store, &models.Event{
		SessionID: sessionID,
		Type:      models.EventToolResult,
		TurnID:    "t1",
		ToolResult: &models.ToolResult{
			CallID:     "c1",
			Status:     models.StatusOK,
			Output:     json.RawMessage(`{"use":"31%"}`),
			DurationMS: 12,
			ArtifactRefs: []models.ArtifactRef{{
				SHA256:       "deadbeef",
				OriginalName: "df.txt",
				SizeBytes:    160,
			}},
		},
	})
	mustAppend(t, store, &models.Event{
		SessionID:     sessionID,
		Type:          models.EventAssistantText,
		TurnID:        "t2",
		AssistantText: &models.AssistantTextPayload{Text: "disk is at 31%, you are fine"},
	})
}

func TestExportRunbookMarkdown(t *testing.T) {
	store := newTestStore(t)
	seedTranscript(t, store, "s1")

	var buf bytes.Buffer
	if err := Export(context.Background(), store, "s1", FormatRunbookMarkdown, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Runbook: disk check",
		"## Operator",
		"is the disk full?",
		"### Tool call `run_diagnostic` (c1)",
		"policy: **allow**",
		"**Result `ok`**",
		"artifact `deadbeef` df.txt (160 bytes)",
		"## Assistant",
		"disk is at 31%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("runbook missing %q\n%s", want, out)
		}
	}
}

func TestExportUnknownFormat(t *testing.T) {
	store := newTestStore(t)
	seedTranscript(t, store, "s1")

	var buf bytes.Buffer
	if err := Export(context.Background(), store, "s1", "csv", &buf); err == nil {
		t.Error("Export(csv) expected error")
	}
}

func TestExportMissingSession(t *testing.T) {
	store := newTestStore(t)
	var buf bytes.Buffer
	err := Export(context.Background(), store, "ghost", FormatEventsJSONL, &buf)
	if err == nil {
		t.Fatal("Export() expected error for missing session")
	}
}

// Export then re-import must reproduce the same logical message list the
// packer would derive, even though IDs and sequence numbers are fresh.
func TestExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTranscript(t, store, "s1")

	var buf bytes.Buffer
	if err := Export(ctx, store, "s1", FormatEventsJSONL, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	imported, err := ImportJSONL(ctx, store, &buf)
	if err != nil {
		t.Fatalf("ImportJSONL() error = %v", err)
	}
	if imported.ID == "s1" {
		t.Fatal("import reused the source session ID")
	}
	if imported.Title != "disk check" || imported.Provider != "openai" {
		t.Errorf("imported session = %+v", imported)
	}

	packer := NewPacker(HeuristicCounter{}, 0, 0)

	originalEvents, err := store.Events(ctx, "s1", EventQuery{})
	if err != nil {
		t.Fatalf("Events(original) error = %v", err)
	}
	importedEvents, err := store.Events(ctx, imported.ID, EventQuery{})
	if err != nil {
		t.Fatalf("Events(imported) error = %v", err)
	}
	if len(importedEvents) != len(originalEvents) {
		t.Fatalf("imported %d events, original %d", len(importedEvents), len(originalEvents))
	}

	originalPack, err := packer.Pack("sys", originalEvents)
	if err != nil {
		t.Fatalf("Pack(original) error = %v", err)
	}
	importedPack, err := packer.Pack("sys", importedEvents)
	if err != nil {
		t.Fatalf("Pack(imported) error = %v", err)
	}
	if !reflect.DeepEqual(originalPack.Messages, importedPack.Messages) {
		t.Errorf("round trip changed the message list:\noriginal: %+v\nimported: %+v",
			originalPack.Messages, importedPack.Messages)
	}
}

func TestImportRejectsEventFirstStream(t *testing.T) {
	store := newTestStore(t)
	line, _ := json.Marshal(ExportRecord{Event: userEvent("x", "hi")})
	_, err := ImportJSONL(context.Background(), store, bytes.NewReader(line))
	if err == nil {
		t.Error("ImportJSONL() expected error when the session line is missing")
	}
}
