// Package pluginsdk implements the plugin side of the workbench external
// tool protocol. A plugin is an executable described by a .plugin.json
// manifest; each invocation receives one JSON request on stdin and writes
// one JSON response to stdout before exiting.
//
// A minimal plugin:
//
//	func main() {
//		pluginsdk.Serve(func(ctx context.Context, req pluginsdk.Request) (*pluginsdk.Result, error) {
//			return &pluginsdk.Result{Output: map[string]bool{"ok": true}}, nil
//		})
//	}
package pluginsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Request is the invocation document the runtime writes to the plugin's
// stdin. Tool carries the manifest name, so one executable can back several
// manifests.
type Request struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Result is a successful run. Output must marshal to JSON; nil becomes an
// empty object. Artifacts carry raw bytes the runtime persists to the
// artifact store and replaces with content-addressed references. The
// runtime caps captured stdout at 1 MiB, so large payloads belong in
// Artifacts, not Output.
type Result struct {
	Output    any
	Artifacts []models.ArtifactPayload
}

// Error is a handler failure with a machine-readable code. An empty Code
// reaches the session log as tool_exception.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds a coded error the way fmt.Errorf builds a plain one.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Handler executes one tool invocation.
type Handler func(ctx context.Context, req Request) (*Result, error)

// response mirrors the envelope the runtime parses from the plugin's
// stdout.
type response struct {
	Output    json.RawMessage          `json:"output,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Code      string                   `json:"code,omitempty"`
	Artifacts []models.ArtifactPayload `json:"artifacts,omitempty"`
}

// Serve runs one invocation over the process's stdin and stdout and
// returns. Handler failures travel inside the protocol; Serve exits
// nonzero only when the envelope itself cannot be read or written.
func Serve(h Handler) {
	if err := Run(context.Background(), os.Stdin, os.Stdout, h); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Run reads one request from in, invokes h, and writes one response to out.
// Handler errors become error envelopes; Run itself fails only on I/O or
// encoding problems.
func Run(ctx context.Context, in io.Reader, out io.Writer, h Handler) error {
	resp := invoke(ctx, in, h)
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode plugin response: %w", err)
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write plugin response: %w", err)
	}
	return nil
}

func invoke(ctx context.Context, in io.Reader, h Handler) *response {
	body, err := io.ReadAll(in)
	if err != nil {
		return &response{Error: fmt.Sprintf("read request: %v", err), Code: models.ErrCodeValidation}
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return &response{Error: fmt.Sprintf("decode request: %v", err), Code: models.ErrCodeValidation}
	}

	result, err := h(ctx, req)
	if err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			return &response{Error: coded.Message, Code: coded.Code}
		}
		return &response{Error: err.Error()}
	}

	resp := &response{}
	if result != nil {
		resp.Artifacts = result.Artifacts
		if result.Output != nil {
			output, err := json.Marshal(result.Output)
			if err != nil {
				return &response{Error: fmt.Sprintf("encode output: %v", err)}
			}
			resp.Output = output
		}
	}
	if len(resp.Output) == 0 {
		resp.Output = json.RawMessage(`{}`)
	}
	return resp
}
