package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/pkg/models"
)

// =============================================================================
// Chat Command Handler
// =============================================================================

type chatFlags struct {
	configPath string
	overrides  []string
	provider   string
	sessionID  string
	title      string
	demo       bool
}

func runChat(cmd *cobra.Command, flags chatFlags) error {
	overrides := flags.overrides
	if flags.provider != "" {
		overrides = append(overrides, "llm.name="+flags.provider)
	}
	cfg, path, err := loadConfig(flags.configPath, overrides)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Observability.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	// The confirm gate needs the registry for risk display; the stack
	// pointer is set right after buildStack and confirms only run during
	// turns, which start later.
	var st *stack
	confirm := func(ctx context.Context, tool string, call *models.ToolCallPayload) (bool, error) {
		risk := "UNKNOWN"
		if t, ok := st.registry.Get(tool); ok {
			risk = strings.ToUpper(t.Risk().String())
		}
		return promptConfirm(out, reader, interactive, tool, risk, call)
	}

	watchOpts, err := configOptions(overrides)
	if err != nil {
		return err
	}
	st, err = buildStack(ctx, cfg, stackOptions{
		ConfigPath: path,
		ConfigOpts: watchOpts,
		Confirm:    confirm,
		Demo:       flags.demo,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	sess, err := openChatSession(ctx, st, flags.sessionID, flags.title)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Workbench - Support & Diagnostics Assistant\n")
	fmt.Fprintf(out, "Session %s (%s/%s)\n", sess.ID, sess.Provider, sess.Model)
	fmt.Fprintf(out, "Type /help for commands, /quit to exit.\n\n")

	repl := &chatLoop{stack: st, session: sess, out: out, reader: reader}
	return repl.run(ctx)
}

func openChatSession(ctx context.Context, st *stack, sessionID, title string) (*models.Session, error) {
	if sessionID != "" {
		sess, err := st.store.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		return sess, nil
	}
	return st.runtime.StartSession(ctx, title)
}

// chatLoop is the interactive read-eval-print loop.
type chatLoop struct {
	stack   *stack
	session *models.Session
	out     io.Writer
	reader  *bufio.Reader

	// midText is true while assistant text is streaming without a trailing
	// newline, so status lines can break cleanly.
	midText bool
}

func (c *chatLoop) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			fmt.Fprintln(c.out, "Goodbye.")
			return nil
		}
		fmt.Fprint(c.out, "you> ")
		line, err := c.reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(c.out, "\nGoodbye.")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			handled, quit, err := c.handleCommand(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "  Error: %v\n", err)
				continue
			}
			if quit {
				return nil
			}
			if handled {
				continue
			}
			// Unknown slash input falls through to the model.
		}

		fmt.Fprint(c.out, "assistant> ")
		c.streamTurn(ctx, line)
	}
}

// handleCommand dispatches inline commands. handled=false means the input
// was not a recognized command.
func (c *chatLoop) handleCommand(ctx context.Context, line string) (handled, quit bool, err error) {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit":
		fmt.Fprintln(c.out, "Goodbye.")
		return true, true, nil

	case "/help":
		fmt.Fprint(c.out,
			"  Commands:\n"+
				"  /quit               - Exit the chat\n"+
				"  /history            - Show session events\n"+
				"  /tools              - List available tools\n"+
				"  /switch [name [m]]  - Switch LLM provider (and optionally model)\n"+
				"  /help               - Show this help\n")
		return true, false, nil

	case "/history":
		events, err := c.stack.store.Events(ctx, c.session.ID, session.EventQuery{})
		if err != nil {
			return true, false, err
		}
		if len(events) == 0 {
			fmt.Fprintln(c.out, "  No events yet.")
			return true, false, nil
		}
		for _, e := range events {
			fmt.Fprintf(c.out, "  %4d  %s\n", e.Seq, renderEvent(e))
		}
		return true, false, nil

	case "/tools":
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, t := range c.stack.registry.List() {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", t.Name(), t.Risk(), t.Description())
		}
		return true, false, w.Flush()

	case "/switch":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "  Active: %s (%s)\n", c.session.Provider, c.session.Model)
			return true, false, nil
		}
		provider := args[0]
		model := ""
		if len(args) > 1 {
			model = args[1]
		}
		if err := c.stack.runtime.SwitchProvider(ctx, c.session.ID, provider, model); err != nil {
			return true, false, err
		}
		sess, err := c.stack.store.Get(ctx, c.session.ID)
		if err != nil {
			return true, false, err
		}
		c.session = sess
		fmt.Fprintf(c.out, "  Switched to provider: %s (%s)\n", sess.Provider, sess.Model)
		return true, false, nil
	}

	return false, false, nil
}

// streamTurn runs one prompt and renders the chunk stream. Turn errors are
// printed, not returned; the loop keeps going.
func (c *chatLoop) streamTurn(ctx context.Context, text string) {
	chunks, err := c.stack.runtime.Turn(ctx, c.session.ID, text)
	if err != nil {
		fmt.Fprintf(c.out, "\nError: %v\n", err)
		return
	}

	c.midText = false
	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkTextDelta:
			fmt.Fprint(c.out, chunk.Text)
			c.midText = true

		case models.ChunkToolCallCompleted:
			c.statusLine("tool> %s %s", chunk.ToolCall.Name, compactJSON(chunk.ToolCall.Arguments, 120))

		case models.ChunkPolicyDecision:
			if chunk.Policy.Decision == models.DecisionDeny {
				c.statusLine("policy> denied: %s (%s)", chunk.Policy.Tool, chunk.Policy.Reason)
			}

		case models.ChunkToolResult:
			c.renderToolResult(chunk.ToolResult)

		case models.ChunkError:
			c.statusLine("error> %s: %s", chunk.Err.Code, chunk.Err.Message)

		case models.ChunkTurnComplete:
			if c.midText {
				fmt.Fprintln(c.out)
				c.midText = false
			}
		}
	}
	fmt.Fprintln(c.out)
}

func (c *chatLoop) renderToolResult(res *models.ToolResult) {
	switch res.Status {
	case models.StatusOK:
		line := fmt.Sprintf("result> ok (%dms)", res.DurationMS)
		for _, ref := range res.ArtifactRefs {
			line += " artifact:" + shortHash(ref.SHA256)
		}
		c.statusLine("%s", line)
	case models.StatusDenied:
		c.statusLine("result> denied")
	default:
		c.statusLine("result> %s: %s (%s)", res.Status, res.Error, res.ErrorCode)
	}
}

// statusLine prints one indented status line, breaking out of streaming text
// first if needed.
func (c *chatLoop) statusLine(format string, args ...any) {
	if c.midText {
		fmt.Fprintln(c.out)
		c.midText = false
	}
	fmt.Fprintf(c.out, "  "+format+"\n", args...)
}

// promptConfirm shows the pending call and reads the operator's answer.
// Anything but y/yes declines, as do EOF and a non-interactive stdin.
func promptConfirm(out io.Writer, reader *bufio.Reader, interactive bool, tool, risk string, call *models.ToolCallPayload) (bool, error) {
	fmt.Fprintf(out, "\n  Tool:   %s [%s]\n", tool, risk)
	if target := callTarget(call); target != "" {
		fmt.Fprintf(out, "  Target: %s\n", target)
	}
	fmt.Fprintf(out, "  Args:   %s\n", compactJSON(call.Arguments, 200))

	if !interactive {
		fmt.Fprintln(out, "  Proceed? [y/N]: N (stdin is not a terminal)")
		return false, nil
	}

	fmt.Fprint(out, "  Proceed? [y/N]: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// callTarget pulls the conventional target argument out of a call, if set.
func callTarget(call *models.ToolCallPayload) string {
	if call == nil || len(call.Arguments) == 0 {
		return ""
	}
	var args struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return args.Target
}

// compactJSON renders raw JSON on one line, truncated to max bytes.
func compactJSON(raw json.RawMessage, max int) string {
	var buf bytes.Buffer
	compact := string(raw)
	if err := json.Compact(&buf, raw); err == nil {
		compact = buf.String()
	}
	if max > 0 && len(compact) > max {
		return compact[:max] + "..."
	}
	return compact
}

func shortHash(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
