// Package bridge exposes the execution backend and the artifact store as
// registered tools: target resolution, diagnostics, shell execution, and
// artifact summaries. The target is always an explicit argument; no tool
// carries an implicit current target.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/workbench/internal/artifact"
	"github.com/haasonsaas/workbench/internal/backend"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

// Register wires the backend and artifact bridge tools into a registry.
// Names in disabled are skipped, which is how the tools.disabled config key
// takes effect.
func Register(reg *tools.Registry, b backend.Backend, store *artifact.Store, disabled ...string) error {
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}
	for _, tool := range []tools.Tool{
		NewResolveTargetTool(b),
		NewListDiagnosticsTool(b),
		NewRunDiagnosticTool(b),
		NewRunShellTool(b),
		NewSummarizeArtifactTool(store),
	} {
		if skip[tool.Name()] {
			continue
		}
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// backendFailure folds a backend error into an error tool result. Backend
// failures are data fed back to the model, not turn-fatal errors.
func backendFailure(err error) *models.ToolResult {
	msg := err.Error()
	var bErr *backend.Error
	if errors.As(err, &bErr) {
		msg = fmt.Sprintf("%s (%s)", bErr.Message, bErr.Code)
	}
	return &models.ToolResult{
		Status:    models.StatusError,
		Error:     msg,
		ErrorCode: models.ErrCodeBackend,
	}
}

func okJSON(v any) (*models.ToolResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool output: %w", err)
	}
	return &models.ToolResult{Status: models.StatusOK, Output: payload}, nil
}

// ResolveTargetTool resolves a target identifier to structured information.
type ResolveTargetTool struct {
	backend backend.Backend
}

func NewResolveTargetTool(b backend.Backend) *ResolveTargetTool {
	return &ResolveTargetTool{backend: b}
}

func (t *ResolveTargetTool) Name() string { return "resolve_target" }

func (t *ResolveTargetTool) Description() string {
	return "Resolve a target identifier (hostname, service name, etc.) to structured information about it."
}

func (t *ResolveTargetTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *ResolveTargetTool) PrivacyScope() models.PrivacyScope { return models.PrivacyPublic }

func (t *ResolveTargetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "The target identifier to resolve."}
		},
		"required": ["target"]
	}`)
}

func (t *ResolveTargetTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	info, err := t.backend.Resolve(ctx, input.Target)
	if err != nil {
		return backendFailure(err), nil
	}
	return okJSON(info)
}

// ListDiagnosticsTool lists the diagnostic actions available for a target.
type ListDiagnosticsTool struct {
	backend backend.Backend
}

func NewListDiagnosticsTool(b backend.Backend) *ListDiagnosticsTool {
	return &ListDiagnosticsTool{backend: b}
}

func (t *ListDiagnosticsTool) Name() string { return "list_diagnostics" }

func (t *ListDiagnosticsTool) Description() string {
	return "List all available diagnostic actions for a given target."
}

func (t *ListDiagnosticsTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *ListDiagnosticsTool) PrivacyScope() models.PrivacyScope { return models.PrivacyPublic }

func (t *ListDiagnosticsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "The target to list diagnostics for."}
		},
		"required": ["target"]
	}`)
}

func (t *ListDiagnosticsTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	diags, err := t.backend.ListDiagnostics(ctx, input.Target)
	if err != nil {
		return backendFailure(err), nil
	}
	return okJSON(map[string]any{"target": input.Target, "diagnostics": diags})
}

// RunDiagnosticTool runs a named diagnostic action against a target. Extra
// argument keys beyond target and action pass through to the backend, so
// per-action parameters like count or lines do not need their own schemas.
type RunDiagnosticTool struct {
	backend backend.Backend
}

func NewRunDiagnosticTool(b backend.Backend) *RunDiagnosticTool {
	return &RunDiagnosticTool{backend: b}
}

func (t *RunDiagnosticTool) Name() string { return "run_diagnostic" }

func (t *RunDiagnosticTool) Description() string {
	return "Run a specific diagnostic action against a target. Target is always required."
}

func (t *RunDiagnosticTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *RunDiagnosticTool) PrivacyScope() models.PrivacyScope { return models.PrivacyPublic }

func (t *RunDiagnosticTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "description": "The diagnostic action to run (e.g. ping, traceroute)."},
			"target": {"type": "string", "description": "The target to run the diagnostic against."}
		},
		"required": ["action", "target"],
		"additionalProperties": true
	}`)
}

func (t *RunDiagnosticTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input map[string]any
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	action, _ := input["action"].(string)
	target, _ := input["target"].(string)
	delete(input, "action")
	delete(input, "target")

	res, err := t.backend.RunDiagnostic(ctx, target, action, input)
	if err != nil {
		return backendFailure(err), nil
	}
	return okJSON(res)
}

// RunShellTool executes an arbitrary shell command on a target. It carries
// shell risk; the policy engine decides whether it runs at all.
type RunShellTool struct {
	backend backend.Backend
}

func NewRunShellTool(b backend.Backend) *RunShellTool {
	return &RunShellTool{backend: b}
}

func (t *RunShellTool) Name() string { return "run_shell" }

func (t *RunShellTool) Description() string {
	return "Execute a shell command on a target and return exit code, stdout, and stderr."
}

func (t *RunShellTool) Risk() models.RiskLevel { return models.RiskShell }

func (t *RunShellTool) PrivacyScope() models.PrivacyScope { return models.PrivacyPublic }

func (t *RunShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"target": {"type": "string", "description": "The target to run the command on."},
			"command": {"type": "string", "description": "The shell command to execute."}
		},
		"required": ["target", "command"]
	}`)
}

func (t *RunShellTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Target  string `json:"target"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	res, err := t.backend.RunShell(ctx, input.Target, input.Command)
	if err != nil {
		return backendFailure(err), nil
	}
	return okJSON(res)
}

// summarizePreviewBytes caps how much artifact content is fed back to the
// model.
const summarizePreviewBytes = 4000

// SummarizeArtifactTool retrieves a stored artifact by hash and returns a
// bounded text preview of its contents.
type SummarizeArtifactTool struct {
	store *artifact.Store
}

func NewSummarizeArtifactTool(store *artifact.Store) *SummarizeArtifactTool {
	return &SummarizeArtifactTool{store: store}
}

func (t *SummarizeArtifactTool) Name() string { return "summarize_artifact" }

func (t *SummarizeArtifactTool) Description() string {
	return "Retrieve a stored artifact by its SHA-256 hash and return a text preview of its contents."
}

func (t *SummarizeArtifactTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *SummarizeArtifactTool) PrivacyScope() models.PrivacyScope { return models.PrivacyPublic }

func (t *SummarizeArtifactTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sha256": {"type": "string", "description": "SHA-256 hash of the artifact to summarize."}
		},
		"required": ["sha256"]
	}`)
}

func (t *SummarizeArtifactTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		SHA256 string `json:"sha256"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	data, err := t.store.Get(input.SHA256)
	if err != nil {
		msg := fmt.Sprintf("artifact not found: %s", input.SHA256)
		if !errors.Is(err, artifact.ErrNotFound) {
			msg = err.Error()
		}
		return &models.ToolResult{
			Status:    models.StatusError,
			Error:     msg,
			ErrorCode: models.ErrCodeBackend,
		}, nil
	}

	preview := data
	truncated := false
	if len(preview) > summarizePreviewBytes {
		preview = preview[:summarizePreviewBytes]
		truncated = true
	}
	return okJSON(map[string]any{
		"sha256":     input.SHA256,
		"size_bytes": len(data),
		"preview":    string(preview),
		"truncated":  truncated,
	})
}
