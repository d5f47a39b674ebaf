package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/pkg/models"
)

// =============================================================================
// Sessions Command Handlers
// =============================================================================

// withStore loads config, opens the session store, and closes it after fn.
func withStore(cmd *cobra.Command, configPath string, fn func(store session.Store) error) error {
	cfg, _, err := loadConfig(configPath, nil)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runSessionsList(cmd *cobra.Command, configPath string, limit int) error {
	return withStore(cmd, configPath, func(store session.Store) error {
		sessions, err := store.List(cmd.Context(), session.ListOptions{Limit: limit})
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tPROVIDER\tMODEL\tUPDATED")
		for _, sess := range sessions {
			title := sess.Title
			if title == "" {
				title = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				sess.ID, title, sess.Provider, sess.Model, sess.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	return withStore(cmd, configPath, func(store session.Store) error {
		sess, err := store.Get(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		events, err := store.Events(cmd.Context(), sessionID, session.EventQuery{})
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session %s (%s/%s)\n", sess.ID, sess.Provider, sess.Model)
		if sess.Title != "" {
			fmt.Fprintf(out, "Title: %s\n", sess.Title)
		}
		fmt.Fprintf(out, "Created: %s\n\n", sess.CreatedAt.Format(time.RFC3339))

		if len(events) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		for _, e := range events {
			fmt.Fprintf(out, "%4d  %s  %s\n", e.Seq, e.CreatedAt.Format("15:04:05"), renderEvent(e))
		}
		return nil
	})
}

func runSessionsDelete(cmd *cobra.Command, configPath, sessionID string) error {
	return withStore(cmd, configPath, func(store session.Store) error {
		if err := store.Delete(cmd.Context(), sessionID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session: %s\n", sessionID)
		return nil
	})
}

func runSessionsExport(cmd *cobra.Command, configPath, sessionID, format, outPath string) error {
	return withStore(cmd, configPath, func(store session.Store) error {
		var w io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := session.Export(cmd.Context(), store, sessionID, format, w); err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Exported session %s to %s\n", sessionID, outPath)
		}
		return nil
	})
}

func runSessionsImport(cmd *cobra.Command, configPath, filePath string) error {
	return withStore(cmd, configPath, func(store session.Store) error {
		f, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()

		sess, err := session.ImportJSONL(cmd.Context(), store, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported session: %s\n", sess.ID)
		return nil
	})
}

// renderEvent summarizes one event on a single line. Used by sessions show
// and the chat /history command.
func renderEvent(e *models.Event) string {
	switch e.Type {
	case models.EventUserPrompt:
		return "you: " + e.UserPrompt.Text
	case models.EventAssistantText:
		return "assistant: " + e.AssistantText.Text
	case models.EventAssistantToolCall:
		return fmt.Sprintf("tool call: %s %s", e.ToolCall.Name, compactJSON(e.ToolCall.Arguments, 80))
	case models.EventToolResult:
		if e.ToolResult.OK() {
			return fmt.Sprintf("tool result: ok (%dms)", e.ToolResult.DurationMS)
		}
		return fmt.Sprintf("tool result: %s %s (%s)", e.ToolResult.Status, e.ToolResult.Error, e.ToolResult.ErrorCode)
	case models.EventPolicyDecision:
		return fmt.Sprintf("policy: %s %s (%s)", e.Policy.Decision, e.Policy.Tool, e.Policy.Reason)
	case models.EventError:
		return fmt.Sprintf("error: %s: %s", e.Error.Code, e.Error.Message)
	case models.EventSessionMeta:
		return fmt.Sprintf("meta: %s=%s", e.Meta.Key, e.Meta.Value)
	default:
		return string(e.Type)
	}
}
