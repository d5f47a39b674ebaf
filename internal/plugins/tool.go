package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

// maxResponseBytes caps captured plugin output per stream. The envelope is
// small by design; large payloads belong in artifacts.
const maxResponseBytes = 1 << 20

// defaultExecTimeout bounds plugin runs when neither the manifest nor the
// registration options set one.
const defaultExecTimeout = 60 * time.Second

// request is the JSON document written to the plugin's stdin.
type request struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// response is the JSON document the plugin writes to stdout. A non-empty
// Error marks the run failed regardless of exit status; Artifacts carry
// base64 data the orchestrator spills to the artifact store.
type response struct {
	Output    json.RawMessage          `json:"output,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Code      string                   `json:"code,omitempty"`
	Artifacts []models.ArtifactPayload `json:"artifacts,omitempty"`
}

// ExternalTool runs a manifest-described executable as a registered tool.
// Each call writes one request to the process's stdin and reads one response
// from its stdout.
type ExternalTool struct {
	manifest *Manifest
	dir      string
	timeout  time.Duration
}

// NewExternalTool builds the tool for a discovered manifest. fallbackTimeout
// applies when the manifest sets no timeout; zero falls back to a built-in
// bound.
func NewExternalTool(info ManifestInfo, fallbackTimeout time.Duration) *ExternalTool {
	return &ExternalTool{manifest: info.Manifest, dir: info.Dir, timeout: fallbackTimeout}
}

func (t *ExternalTool) Name() string                      { return t.manifest.Name }
func (t *ExternalTool) Description() string               { return t.manifest.Description }
func (t *ExternalTool) Risk() models.RiskLevel            { return t.manifest.RiskLevel() }
func (t *ExternalTool) PrivacyScope() models.PrivacyScope { return t.manifest.PrivacyScope() }
func (t *ExternalTool) Schema() json.RawMessage           { return t.manifest.Schema }

// SecretFields names argument keys the audit layer masks.
func (t *ExternalTool) SecretFields() []string { return t.manifest.SecretFields }

func (t *ExternalTool) execTimeout() time.Duration {
	if t.manifest.TimeoutSeconds > 0 {
		return time.Duration(t.manifest.TimeoutSeconds) * time.Second
	}
	if t.timeout > 0 {
		return t.timeout
	}
	return defaultExecTimeout
}

func (t *ExternalTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	reqBody, err := json.Marshal(request{Tool: t.manifest.Name, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode plugin request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.execTimeout())
	defer cancel()

	argv := t.manifest.Command
	path := argv[0]
	if !filepath.IsAbs(path) && strings.ContainsRune(path, '/') {
		path = filepath.Join(t.dir, path)
	}

	cmd := exec.CommandContext(runCtx, path, argv[1:]...)
	cmd.Dir = t.dir
	cmd.Stdin = bytes.NewReader(reqBody)
	stdout := &cappedBuffer{max: maxResponseBytes}
	stderr := &cappedBuffer{max: maxResponseBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &models.ToolResult{
			Status:     models.StatusError,
			Error:      fmt.Sprintf("plugin timed out after %s", t.execTimeout()),
			ErrorCode:  models.ErrCodeTimeout,
			DurationMS: elapsed,
		}, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return &models.ToolResult{
				Status:     models.StatusError,
				Error:      fmt.Sprintf("start plugin: %v", runErr),
				ErrorCode:  models.ErrCodeToolException,
				DurationMS: elapsed,
			}, nil
		}
	}

	var resp response
	decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp)

	switch {
	case decodeErr == nil && resp.Error != "":
		code := resp.Code
		if code == "" {
			code = models.ErrCodeToolException
		}
		return &models.ToolResult{
			Status:     models.StatusError,
			Error:      resp.Error,
			ErrorCode:  code,
			DurationMS: elapsed,
		}, nil
	case runErr != nil:
		return &models.ToolResult{
			Status:     models.StatusError,
			Error:      exitMessage(runErr, stderr),
			ErrorCode:  models.ErrCodeToolException,
			DurationMS: elapsed,
		}, nil
	case decodeErr != nil:
		return &models.ToolResult{
			Status:     models.StatusError,
			Error:      fmt.Sprintf("plugin returned an invalid response: %v", decodeErr),
			ErrorCode:  models.ErrCodeToolException,
			DurationMS: elapsed,
		}, nil
	}

	output := resp.Output
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	return &models.ToolResult{
		Status:           models.StatusOK,
		Output:           output,
		DurationMS:       elapsed,
		ArtifactPayloads: resp.Artifacts,
	}, nil
}

func exitMessage(runErr error, stderr *cappedBuffer) string {
	msg := fmt.Sprintf("plugin failed: %v", runErr)
	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		msg += ": " + tail
	}
	return msg
}

var _ tools.Tool = (*ExternalTool)(nil)

// cappedBuffer keeps at most max bytes and drops the rest, so a misbehaving
// plugin cannot exhaust memory through its stdout or stderr.
type cappedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if room := b.max - len(b.buf); room > 0 {
		if n > room {
			p = p[:room]
		}
		b.buf = append(b.buf, p...)
	}
	return n, nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
