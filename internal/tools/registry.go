package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/workbench/pkg/models"
)

// MaxToolNameLength bounds registered tool names.
const MaxToolNameLength = 256

// Registry is the startup-time tool table. Registration happens before the
// first turn; afterwards the table is read-only and lookups take the read
// lock only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	specs map[string]json.RawMessage // normalized schemas, keyed by tool name
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		specs: make(map[string]json.RawMessage),
	}
}

// Register adds a tool. Registering a name twice is an error; tools are
// immutable once registered. The tool's schema is normalized here so every
// later consumer (validator, provider request) sees the strict form.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds %d characters", MaxToolNameLength)
	}

	schema, err := NormalizeSchema(tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	r.specs[name] = schema
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Schema returns the normalized schema for a registered tool.
func (r *Registry) Schema(name string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.specs[name]
	return schema, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	return r.ListMaxRisk(models.RiskShell)
}

// ListMaxRisk returns tools at or below the given risk level, sorted by
// name. The policy engine still gates execution; this filter only shapes
// what is advertised to the model.
func (r *Registry) ListMaxRisk(max models.RiskLevel) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Risk() <= max {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
