package pluginsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/workbench/pkg/models"
)

func runOnce(t *testing.T, input string, h Handler) *response {
	t.Helper()
	var out bytes.Buffer
	if err := Run(context.Background(), strings.NewReader(input), &out, h); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (raw %q)", err, out.String())
	}
	return &resp
}

func TestRunSuccess(t *testing.T) {
	resp := runOnce(t, `{"tool": "echo", "args": {"message": "hi"}}`, func(ctx context.Context, req Request) (*Result, error) {
		if req.Tool != "echo" {
			t.Errorf("req.Tool = %q, want %q", req.Tool, "echo")
		}
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			t.Fatalf("decode args: %v", err)
		}
		return &Result{Output: map[string]string{"echo": args.Message}}, nil
	})

	if resp.Error != "" {
		t.Fatalf("response error = %q, want empty", resp.Error)
	}
	var output map[string]string
	if err := json.Unmarshal(resp.Output, &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if output["echo"] != "hi" {
		t.Errorf("output = %v, want echo=hi", output)
	}
}

func TestRunNilOutputBecomesEmptyObject(t *testing.T) {
	resp := runOnce(t, `{"tool": "noop", "args": {}}`, func(ctx context.Context, req Request) (*Result, error) {
		return &Result{}, nil
	})
	if string(resp.Output) != `{}` {
		t.Errorf("output = %s, want {}", resp.Output)
	}
}

func TestRunCodedError(t *testing.T) {
	resp := runOnce(t, `{"tool": "echo", "args": {}}`, func(ctx context.Context, req Request) (*Result, error) {
		return nil, Errorf(models.ErrCodeValidation, "message is required")
	})
	if resp.Error != "message is required" {
		t.Errorf("error = %q, want %q", resp.Error, "message is required")
	}
	if resp.Code != models.ErrCodeValidation {
		t.Errorf("code = %q, want %q", resp.Code, models.ErrCodeValidation)
	}
}

func TestRunPlainErrorHasNoCode(t *testing.T) {
	resp := runOnce(t, `{"tool": "echo", "args": {}}`, func(ctx context.Context, req Request) (*Result, error) {
		return nil, errors.New("boom")
	})
	if resp.Error != "boom" {
		t.Errorf("error = %q, want %q", resp.Error, "boom")
	}
	if resp.Code != "" {
		t.Errorf("code = %q, want empty", resp.Code)
	}
}

func TestRunBadRequestJSON(t *testing.T) {
	called := false
	resp := runOnce(t, `not json`, func(ctx context.Context, req Request) (*Result, error) {
		called = true
		return &Result{}, nil
	})
	if called {
		t.Fatalf("handler ran on an undecodable request")
	}
	if resp.Code != models.ErrCodeValidation {
		t.Errorf("code = %q, want %q", resp.Code, models.ErrCodeValidation)
	}
	if resp.Error == "" {
		t.Errorf("error is empty, want decode failure")
	}
}

func TestRunArtifactsPassThrough(t *testing.T) {
	payload := models.ArtifactPayload{
		Name:      "report.txt",
		MediaType: "text/plain",
		Data:      []byte("all clear"),
	}
	resp := runOnce(t, `{"tool": "report", "args": {}}`, func(ctx context.Context, req Request) (*Result, error) {
		return &Result{
			Output:    map[string]int{"findings": 0},
			Artifacts: []models.ArtifactPayload{payload},
		}, nil
	})

	if len(resp.Artifacts) != 1 {
		t.Fatalf("len(Artifacts) = %d, want 1", len(resp.Artifacts))
	}
	got := resp.Artifacts[0]
	if got.Name != payload.Name {
		t.Errorf("artifact name = %q, want %q", got.Name, payload.Name)
	}
	if !bytes.Equal(got.Data, payload.Data) {
		t.Errorf("artifact data = %q, want %q", got.Data, payload.Data)
	}
}

func TestErrorfFormats(t *testing.T) {
	err := Errorf(models.ErrCodeTimeout, "took %ds", 30)
	if err.Code != models.ErrCodeTimeout {
		t.Errorf("Code = %q, want %q", err.Code, models.ErrCodeTimeout)
	}
	if err.Error() != "took 30s" {
		t.Errorf("Error() = %q, want %q", err.Error(), "took 30s")
	}
}
