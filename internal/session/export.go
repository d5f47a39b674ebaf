// export.go renders a session's event log for humans and for re-import.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Export formats.
const (
	FormatEventsJSONL     = "events_jsonl"
	FormatRunbookMarkdown = "runbook_markdown"
)

// ExportRecord is one line of an events_jsonl export. The first line carries
// the session row; every following line carries one event.
type ExportRecord struct {
	Session *models.Session `json:"session,omitempty"`
	Event   *models.Event   `json:"event,omitempty"`
}

// Export writes a session's event log to w in the requested format.
func Export(ctx context.Context, store Store, sessionID, format string, w io.Writer) error {
	session, err := store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	events, err := store.Events(ctx, sessionID, EventQuery{})
	if err != nil {
		return err
	}

	switch format {
	case FormatEventsJSONL:
		return exportJSONL(session, events, w)
	case FormatRunbookMarkdown:
		return exportRunbook(session, events, w)
	default:
		return fmt.Errorf("unknown export format: %s", format)
	}
}

func exportJSONL(session *models.Session, events []*models.Event, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(ExportRecord{Session: session}); err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	for _, event := range events {
		if err := encoder.Encode(ExportRecord{Event: event}); err != nil {
			return fmt.Errorf("encode event %d: %w", event.Seq, err)
		}
	}
	return nil
}

// ImportJSONL recreates a session from an events_jsonl export. The session
// gets a fresh ID; events are re-appended in order, so the store assigns a
// fresh gap-free sequence while the logical message list is preserved.
func ImportJSONL(ctx context.Context, store Store, r io.Reader) (*models.Session, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	var session *models.Session
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record ExportRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("line %d: parse: %w", lineNum, err)
		}

		if session == nil {
			if record.Session == nil {
				return nil, fmt.Errorf("line %d: first record must carry the session", lineNum)
			}
			session = &models.Session{
				ID:        uuid.NewString(),
				Title:     record.Session.Title,
				Provider:  record.Session.Provider,
				Model:     record.Session.Model,
				Metadata:  record.Session.Metadata,
				CreatedAt: record.Session.CreatedAt,
			}
			if err := store.Create(ctx, session); err != nil {
				return nil, err
			}
			continue
		}

		if record.Event == nil {
			return nil, fmt.Errorf("line %d: expected an event record", lineNum)
		}
		event := *record.Event
		event.SessionID = session.ID
		event.Seq = 0
		if err := store.Append(ctx, &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("empty export")
	}
	return session, nil
}

func exportRunbook(session *models.Session, events []*models.Event, w io.Writer) error {
	bw := bufio.NewWriter(w)

	title := session.Title
	if title == "" {
		title = session.ID
	}
	fmt.Fprintf(bw, "# Runbook: %s\n\n", title)
	fmt.Fprintf(bw, "- Session: `%s`\n", session.ID)
	if session.Provider != "" {
		fmt.Fprintf(bw, "- Provider: %s (%s)\n", session.Provider, session.Model)
	}
	fmt.Fprintf(bw, "- Started: %s\n", session.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(bw, "- Events: %d\n", len(events))

	for _, event := range events {
		switch event.Type {
		case models.EventUserPrompt:
			if event.UserPrompt == nil {
				continue
			}
			fmt.Fprintf(bw, "\n## Operator\n\n%s\n", event.UserPrompt.Text)

		case models.EventAssistantText:
			if event.AssistantText == nil {
				continue
			}
			fmt.Fprintf(bw, "\n## Assistant\n\n%s\n", event.AssistantText.Text)

		case models.EventAssistantToolCall:
			if event.ToolCall == nil {
				continue
			}
			fmt.Fprintf(bw, "\n### Tool call `%s` (%s)\n\n", event.ToolCall.Name, event.ToolCall.CallID)
			writeJSONBlock(bw, event.ToolCall.Arguments)

		case models.EventPolicyDecision:
			if event.Policy == nil {
				continue
			}
			fmt.Fprintf(bw, "\n- policy: **%s** tool=`%s` risk=%s reason=%s\n",
				event.Policy.Decision, event.Policy.Tool, event.Policy.Risk, event.Policy.Reason)

		case models.EventToolResult:
			if event.ToolResult == nil {
				continue
			}
			result := event.ToolResult
			fmt.Fprintf(bw, "\n**Result `%s`** (call %s", result.Status, result.CallID)
			if result.DurationMS > 0 {
				fmt.Fprintf(bw, ", %dms", result.DurationMS)
			}
			fmt.Fprintf(bw, ")\n\n")
			if result.OK() {
				writeJSONBlock(bw, result.Output)
			} else if result.Error != "" {
				fmt.Fprintf(bw, "> %s\n", result.Error)
			}
			for _, ref := range result.ArtifactRefs {
				fmt.Fprintf(bw, "- artifact `%s` %s (%d bytes)\n", ref.SHA256, ref.OriginalName, ref.SizeBytes)
			}

		case models.EventError:
			if event.Error == nil {
				continue
			}
			fmt.Fprintf(bw, "\n> **error** `%s`: %s\n", event.Error.Code, event.Error.Message)

		case models.EventSessionMeta:
			if event.Meta == nil {
				continue
			}
			fmt.Fprintf(bw, "\n- meta: `%s` = %s\n", event.Meta.Key, event.Meta.Value)
		}
	}

	return bw.Flush()
}

func writeJSONBlock(w io.Writer, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Fprintf(w, "```\n%s\n```\n", string(raw))
		return
	}
	fmt.Fprintf(w, "```json\n%s\n```\n", pretty.String())
}
