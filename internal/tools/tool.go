// Package tools defines the tool capability interface, the startup-time
// registry, and JSON-Schema argument validation.
package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Tool is the capability set a registered tool exposes. Implementations must
// be safe for sequential reuse across turns; Execute must honor ctx
// cancellation and return failures as values, not panics.
type Tool interface {
	Name() string
	Description() string
	Risk() models.RiskLevel
	PrivacyScope() models.PrivacyScope

	// Schema returns the JSON Schema for the tool's arguments. The registry
	// normalizes it at registration: type defaults to object and
	// additionalProperties defaults to false, so unknown keys are rejected.
	Schema() json.RawMessage

	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// Func adapts a plain function into a Tool. Bridge tools and tests use it to
// avoid single-method struct types. Secret lists argument keys the policy
// layer masks out of stored copies.
type Func struct {
	ToolName    string
	Desc        string
	RiskLevel   models.RiskLevel
	Privacy     models.PrivacyScope
	Secret      []string
	ArgsSchema  json.RawMessage
	ExecuteFunc func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.Desc }
func (f *Func) Risk() models.RiskLevel  { return f.RiskLevel }
func (f *Func) SecretFields() []string  { return f.Secret }
func (f *Func) Schema() json.RawMessage { return f.ArgsSchema }

func (f *Func) PrivacyScope() models.PrivacyScope {
	if f.Privacy == "" {
		return models.PrivacyPublic
	}
	return f.Privacy
}

func (f *Func) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return f.ExecuteFunc(ctx, args)
}

// NormalizeSchema fills in the strictness defaults for a tool schema: the
// root type is object and additionalProperties is false unless the tool says
// otherwise. A nil schema means a zero-argument tool.
func NormalizeSchema(schema json.RawMessage) (json.RawMessage, error) {
	m := map[string]any{}
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &m); err != nil {
			return nil, err
		}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if _, ok := m["additionalProperties"]; !ok {
		m["additionalProperties"] = false
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return json.Marshal(m)
}
