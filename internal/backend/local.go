package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"sync"
	"time"
)

// maxOutputBytes caps each captured stream. Bytes beyond the cap are counted
// but not kept, so a runaway command cannot exhaust memory.
const maxOutputBytes = 100 * 1024

// defaultShellTimeout bounds commands when the caller's ctx has no deadline.
const defaultShellTimeout = 30 * time.Second

var localAliases = map[string]bool{
	"localhost": true,
	"local":     true,
	"127.0.0.1": true,
}

// diagnosticCommands is the allowlist of diagnostic actions and the shell
// command each one runs. RunDiagnostic rejects anything outside this map;
// arbitrary commands must go through RunShell, which sits behind a higher
// risk level.
var diagnosticCommands = map[string]string{
	"ps":     "ps aux --sort=-%mem | head -20",
	"df":     "df -h",
	"uptime": "uptime",
	"free":   "free -h",
	"uname":  "uname -a",
	"who":    "who",
}

var localDiagnostics = []Diagnostic{
	{Name: "ps", Description: "List running processes", TargetType: "host"},
	{Name: "df", Description: "Show disk usage", TargetType: "host"},
	{Name: "uptime", Description: "Show system uptime and load", TargetType: "host"},
	{Name: "free", Description: "Show memory usage", TargetType: "host"},
	{Name: "uname", Description: "Show system information", TargetType: "host"},
	{Name: "who", Description: "Show logged-in users", TargetType: "host"},
}

// LocalBackend runs diagnostics and shell commands on the local machine via
// /bin/sh. It only accepts localhost targets.
type LocalBackend struct {
	// WorkDir is the working directory for spawned commands. Empty means the
	// process working directory.
	WorkDir string
	// Timeout bounds commands when ctx carries no deadline. Zero means
	// defaultShellTimeout.
	Timeout time.Duration
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) checkTarget(target string) error {
	if !localAliases[target] {
		return errorf(CodeInvalidTarget, "local backend only supports localhost, got %q", target)
	}
	return nil
}

func (b *LocalBackend) Resolve(ctx context.Context, target string) (*TargetInfo, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &TargetInfo{
		Type:         "host",
		Hostname:     hostname,
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
	}, nil
}

func (b *LocalBackend) ListDiagnostics(ctx context.Context, target string) ([]Diagnostic, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}
	return slices.Clone(localDiagnostics), nil
}

func (b *LocalBackend) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (*Result, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}
	command, ok := diagnosticCommands[action]
	if !ok {
		return nil, errorf(CodeUnknownDiagnostic, "unknown diagnostic action: %s", action)
	}
	return b.RunShell(ctx, target, command)
}

func (b *LocalBackend) RunShell(ctx context.Context, target, command string) (*Result, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}

	runCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		timeout := b.Timeout
		if timeout <= 0 {
			timeout = defaultShellTimeout
		}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if b.WorkDir != "" {
		cmd.Dir = b.WorkDir
	}
	stdout := &limitedBuffer{max: maxOutputBytes}
	stderr := &limitedBuffer{max: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{
			ExitCode:   -1,
			Stderr:     fmt.Sprintf("command timed out after %dms", elapsed),
			DurationMS: elapsed,
			TimedOut:   true,
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start command: %w", err)
		}
	}

	return &Result{
		ExitCode:        exitCode(err),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		DurationMS:      elapsed,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer keeps at most max bytes and counts the rest, so truncation
// is reported without buffering unbounded output.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	max   int
	total int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.total += int64(n)
	if room := b.max - len(b.buf); room > 0 {
		if n > room {
			p = p[:room]
		}
		b.buf = append(b.buf, p...)
	}
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(len(b.buf))
}
