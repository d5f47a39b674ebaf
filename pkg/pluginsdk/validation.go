package pluginsdk

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/workbench/pkg/models"
)

// ValidateArgs checks args against the manifest's argument schema. A
// handler can call this up front to turn bad input into a validation error
// instead of a downstream failure. An empty schema accepts anything.
func (m *Manifest) ValidateArgs(args json.RawMessage) error {
	if len(m.Schema) == 0 {
		return nil
	}

	schema, err := compileSchema(m.Schema)
	if err != nil {
		return fmt.Errorf("compile args schema: %w", err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return Errorf(models.ErrCodeValidation, "decode args: %v", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return Errorf(models.ErrCodeValidation, "args invalid: %v", err)
	}

	return nil
}

var schemaCache sync.Map

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("plugin.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
