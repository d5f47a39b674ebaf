// Package prompt assembles the system prompt the orchestrator sends with
// every model request: role framing, safety rules, tool discipline, output
// conventions, and the current tool inventory.
package prompt

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/workbench/internal/tools"
)

// Options holds the dynamic prompt sections that vary per process or per
// session. The zero value yields the static instruction sections only.
type Options struct {
	// Tools is the registered inventory; each entry becomes one line in
	// the Available Tools section.
	Tools []tools.Tool

	// ActiveTarget, when set, tells the model which target to default to.
	// Tool calls still carry the target explicitly.
	ActiveTarget string

	// Extra appends caller-supplied sections after the built-in ones.
	Extra []string
}

// Build renders the system prompt. Sections are joined with blank lines;
// empty sections are dropped.
func Build(opts Options) string {
	sections := make([]string, 0, 8)

	sections = append(sections,
		"You are a support and diagnostics assistant. You help operators "+
			"investigate and resolve issues by running diagnostics, interpreting "+
			"results, and suggesting next steps.")

	sections = append(sections, safetySection, disciplineSection, conventionsSection)

	if len(opts.Tools) > 0 {
		lines := make([]string, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			risk := strings.ToUpper(t.Risk().String())
			lines = append(lines, fmt.Sprintf("- **%s** [%s]: %s", t.Name(), risk, t.Description()))
		}
		sections = append(sections, "## Available Tools\n\n"+strings.Join(lines, "\n"))
	}

	if target := strings.TrimSpace(opts.ActiveTarget); target != "" {
		sections = append(sections, fmt.Sprintf(
			"## Active Target\n\nThe current active target is: `%s`. "+
				"You may use this as a default when the user doesn't specify a target, "+
				"but always include it explicitly in tool calls.", target))
	}

	for _, section := range opts.Extra {
		if section = strings.TrimSpace(section); section != "" {
			sections = append(sections, section)
		}
	}

	return strings.Join(sections, "\n\n")
}

const safetySection = `## Safety

- Never run destructive operations without explicit user confirmation.
- Never expose credentials, secrets, or sensitive data in your responses.
- If a tool call is blocked by policy, explain why and suggest alternatives.
- If you are uncertain about the impact of an action, ask before proceeding.
- Respect risk levels: READ_ONLY < WRITE < DESTRUCTIVE < SHELL.`

const disciplineSection = "## Tool Discipline\n\n" +
	"- Always provide the `target` argument explicitly in every tool call.\n" +
	"- Never assume a default target -- ask the user if not specified.\n" +
	"- Validate your understanding of the target before running diagnostics.\n" +
	"- Use `resolve_target` first to confirm a target exists and get its details.\n" +
	"- Use `list_diagnostics` to discover what actions are available.\n" +
	"- When a tool call requires confirmation, explain what you're about to do.\n" +
	"- If a tool returns an error, report it clearly and suggest alternatives.\n" +
	"- Do not retry failed tool calls without adjusting the approach."

const conventionsSection = `## Output Conventions

- Present diagnostic results clearly with key findings highlighted.
- Summarize numerical data (latency, packet loss, etc.) with context.
- Flag anomalies and concerning patterns explicitly.
- When multiple diagnostics are needed, explain your investigation plan.
- After completing diagnostics, provide a summary with:
  1. What was found
  2. What it means
  3. Recommended next steps
- Reference artifacts by their short hash when discussing stored results.`
