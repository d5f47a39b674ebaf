package backend

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLocalResolve(t *testing.T) {
	b := NewLocalBackend()
	for _, target := range []string{"localhost", "local", "127.0.0.1"} {
		info, err := b.Resolve(context.Background(), target)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", target, err)
		}
		if info.Type != "host" {
			t.Errorf("expected type host, got %q", info.Type)
		}
		if info.OS != runtime.GOOS {
			t.Errorf("expected os %q, got %q", runtime.GOOS, info.OS)
		}
		if info.Hostname == "" {
			t.Error("expected a hostname")
		}
	}
}

func TestLocalRejectsRemoteTargets(t *testing.T) {
	b := NewLocalBackend()
	_, err := b.Resolve(context.Background(), "prod-db-1")
	var bErr *Error
	if !errors.As(err, &bErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if bErr.Code != CodeInvalidTarget {
		t.Errorf("expected code %q, got %q", CodeInvalidTarget, bErr.Code)
	}

	if _, err := b.RunShell(context.Background(), "prod-db-1", "echo hi"); err == nil {
		t.Error("expected RunShell to reject a remote target")
	}
}

func TestLocalListDiagnostics(t *testing.T) {
	b := NewLocalBackend()
	diags, err := b.ListDiagnostics(context.Background(), "localhost")
	if err != nil {
		t.Fatalf("ListDiagnostics: %v", err)
	}
	names := make(map[string]bool, len(diags))
	for _, d := range diags {
		if d.TargetType != "host" {
			t.Errorf("expected target type host, got %q", d.TargetType)
		}
		names[d.Name] = true
	}
	for _, want := range []string{"ps", "df", "uptime", "free", "uname", "who"} {
		if !names[want] {
			t.Errorf("missing diagnostic %q", want)
		}
	}
	if names["shell"] {
		t.Error("shell must not be listed as a diagnostic action")
	}
}

func TestLocalRunDiagnosticUnknownAction(t *testing.T) {
	b := NewLocalBackend()
	_, err := b.RunDiagnostic(context.Background(), "localhost", "reboot", nil)
	var bErr *Error
	if !errors.As(err, &bErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if bErr.Code != CodeUnknownDiagnostic {
		t.Errorf("expected code %q, got %q", CodeUnknownDiagnostic, bErr.Code)
	}
}

func TestLocalRunShell(t *testing.T) {
	b := NewLocalBackend()
	res, err := b.RunShell(context.Background(), "localhost", "echo hello")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("expected stdout %q, got %q", "hello\n", res.Stdout)
	}
	if res.TimedOut || res.StdoutTruncated {
		t.Error("unexpected timeout or truncation flags")
	}
}

func TestLocalRunShellExitAndStderr(t *testing.T) {
	b := NewLocalBackend()
	res, err := b.RunShell(context.Background(), "localhost", "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("expected stderr %q, got %q", "oops\n", res.Stderr)
	}
}

func TestLocalRunShellTimeout(t *testing.T) {
	b := NewLocalBackend()
	b.Timeout = 50 * time.Millisecond
	res, err := b.RunShell(context.Background(), "localhost", "sleep 2")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timed_out")
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit -1, got %d", res.ExitCode)
	}
	if res.DurationMS >= 2000 {
		t.Errorf("expected the command to be killed early, ran %dms", res.DurationMS)
	}
}

func TestLocalRunShellCallerDeadline(t *testing.T) {
	b := NewLocalBackend()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := b.RunShell(ctx, "localhost", "sleep 2")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected timed_out from the caller deadline")
	}
}

func TestLocalRunShellCancellation(t *testing.T) {
	b := NewLocalBackend()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.RunShell(ctx, "localhost", "sleep 2")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalRunShellOutputCap(t *testing.T) {
	b := NewLocalBackend()
	res, err := b.RunShell(context.Background(), "localhost", "head -c 150000 /dev/zero | tr '\\0' x")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if len(res.Stdout) != maxOutputBytes {
		t.Errorf("expected stdout capped at %d, got %d", maxOutputBytes, len(res.Stdout))
	}
	if !res.StdoutTruncated {
		t.Error("expected stdout_truncated")
	}
	if res.StderrTruncated {
		t.Error("stderr should not be truncated")
	}
}

func TestLocalRunShellWorkDir(t *testing.T) {
	dir := t.TempDir()
	b := NewLocalBackend()
	b.WorkDir = dir
	res, err := b.RunShell(context.Background(), "localhost", "pwd")
	if err != nil {
		t.Fatalf("RunShell: %v", err)
	}
	if !strings.Contains(strings.TrimSpace(res.Stdout), filepath.Base(dir)) {
		t.Errorf("expected pwd output to mention %q, got %q", filepath.Base(dir), res.Stdout)
	}
}

func TestLocalRunDiagnosticUptime(t *testing.T) {
	b := NewLocalBackend()
	res, err := b.RunDiagnostic(context.Background(), "localhost", "uptime", nil)
	if err != nil {
		t.Fatalf("RunDiagnostic: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d (stderr: %s)", res.ExitCode, res.Stderr)
	}
	if res.Stdout == "" {
		t.Error("expected uptime output")
	}
}

func TestLimitedBuffer(t *testing.T) {
	buf := &limitedBuffer{max: 10}
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		n, err := buf.Write([]byte(chunk))
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if n != len(chunk) {
			t.Errorf("expected write of %d, got %d", len(chunk), n)
		}
	}
	if got := buf.String(); got != "aaaabbbbcc" {
		t.Errorf("expected %q, got %q", "aaaabbbbcc", got)
	}
	if !buf.Truncated() {
		t.Error("expected truncation")
	}

	small := &limitedBuffer{max: 10}
	small.Write([]byte("abc"))
	if small.Truncated() {
		t.Error("unexpected truncation")
	}
}
