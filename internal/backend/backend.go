// Package backend defines the execution backend interface and the adapters
// behind the bridge tools: a local subprocess backend, a demo backend with
// canned fixtures, and a router that dispatches by target name.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// Error codes carried by *Error. The bridge tools surface them inside
// backend_error tool results so the model and the operator can tell failure
// modes apart.
const (
	CodeInvalidTarget     = "invalid_target"
	CodeTargetNotFound    = "target_not_found"
	CodeUnknownDiagnostic = "unknown_diagnostic"
	CodeNotSupported      = "not_supported"
	CodeNoBackend         = "no_backend"
)

// Error is a structured failure from a backend operation.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TargetInfo is the resolved description of a target. Host and service
// targets populate different subsets of the fields.
type TargetInfo struct {
	Type         string `json:"type"`
	Hostname     string `json:"hostname,omitempty"`
	IP           string `json:"ip,omitempty"`
	OS           string `json:"os,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	CPUs         int    `json:"cpus,omitempty"`
	Name         string `json:"name,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Port         int    `json:"port,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Diagnostic describes one action a backend can run against a target.
type Diagnostic struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TargetType  string          `json:"target_type"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Result is the outcome of a diagnostic or shell run. Subprocess-backed
// actions fill the exit and stream fields; fixture-backed diagnostics carry
// their payload in Data.
type Result struct {
	ExitCode        int             `json:"exit_code"`
	Stdout          string          `json:"stdout,omitempty"`
	Stderr          string          `json:"stderr,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
	TimedOut        bool            `json:"timed_out,omitempty"`
	StdoutTruncated bool            `json:"stdout_truncated,omitempty"`
	StderrTruncated bool            `json:"stderr_truncated,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Backend executes diagnostics and shell commands against named targets.
// Concrete adapters implement it and the bridge tools consume it. Methods
// return *Error for structured failures and honor ctx cancellation on
// anything that blocks. The target is always explicit per call, never
// carried as adapter state.
type Backend interface {
	Resolve(ctx context.Context, target string) (*TargetInfo, error)
	ListDiagnostics(ctx context.Context, target string) ([]Diagnostic, error)
	RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (*Result, error)
	RunShell(ctx context.Context, target, command string) (*Result, error)
}
