package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports arguments that do not conform to a tool's schema.
// It becomes a tool_result(error, invalid_arguments) fed back to the model,
// never a turn-fatal failure.
type ValidationError struct {
	Tool  string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("arguments for %s do not match schema: %v", e.Tool, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

var schemaCache sync.Map

// ValidateArguments checks a call's arguments against a tool's normalized
// schema. Schemas compile once and are cached by content; registration-time
// normalization guarantees additionalProperties=false, so unknown keys fail
// here before the tool ever runs.
func ValidateArguments(name string, schema, args json.RawMessage) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{Tool: name, Cause: err}
	}

	if err := compiled.Validate(decoded); err != nil {
		return &ValidationError{Tool: name, Cause: err}
	}
	return nil
}

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
