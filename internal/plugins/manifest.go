// Package plugins discovers external tool manifests and registers them as
// subprocess-backed tools. A manifest is a JSON file describing one tool:
// its name, risk and privacy classification, argument schema, and the
// command to run. Discovery is off by default and every plugin must be
// named in the allowlist before it registers.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

// ManifestSuffix is the filename suffix discovery looks for, e.g.
// check_certs.plugin.json.
const ManifestSuffix = ".plugin.json"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Manifest describes one external tool.
type Manifest struct {
	// Name is the tool name advertised to the model. Lowercase identifier.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// Risk is the tool's risk classification: read_only, write,
	// destructive, or shell. The policy ceiling applies to plugin tools
	// exactly as it does to built-ins.
	Risk string `json:"risk"`

	// Privacy controls audit retention of arguments and output: public,
	// sensitive, or secret. Empty means sensitive; external tools do not
	// get the public default built-ins enjoy.
	Privacy string `json:"privacy,omitempty"`

	// Schema is the JSON Schema for the tool's arguments. Empty declares a
	// zero-argument tool. Registration applies the same strictness
	// defaults as built-in tools.
	Schema json.RawMessage `json:"schema,omitempty"`

	// SecretFields names argument keys the audit log always masks for this
	// tool, e.g. a token the plugin needs but the log must not keep.
	SecretFields []string `json:"secret_fields,omitempty"`

	// Command is the argv to execute. A relative Command[0] resolves
	// against the manifest's directory, so a plugin can ship its binary
	// next to its manifest.
	Command []string `json:"command"`

	// TimeoutSeconds bounds one execution. Zero falls back to the
	// runtime's tool timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// DecodeManifest parses and validates a manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// DecodeManifestFile reads and validates the manifest at path.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// Validate rejects manifests the runtime cannot register. The schema is
// compiled here so a broken plugin fails at discovery, not mid-turn.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("manifest name %q must match %s", m.Name, namePattern)
	}
	if _, err := models.ParseRisk(strings.ToLower(m.Risk)); err != nil {
		return fmt.Errorf("manifest %s: %w", m.Name, err)
	}
	if m.Privacy != "" {
		if _, err := models.ParsePrivacyScope(m.Privacy); err != nil {
			return fmt.Errorf("manifest %s: %w", m.Name, err)
		}
	}
	if len(m.Command) == 0 || strings.TrimSpace(m.Command[0]) == "" {
		return fmt.Errorf("manifest %s: command is required", m.Name)
	}
	if m.TimeoutSeconds < 0 {
		return fmt.Errorf("manifest %s: timeout_seconds cannot be negative", m.Name)
	}

	normalized, err := tools.NormalizeSchema(m.Schema)
	if err != nil {
		return fmt.Errorf("manifest %s: schema: %w", m.Name, err)
	}
	if _, err := jsonschema.CompileString(m.Name+".schema.json", string(normalized)); err != nil {
		return fmt.Errorf("manifest %s: schema: %w", m.Name, err)
	}
	return nil
}

// RiskLevel returns the parsed risk classification.
func (m *Manifest) RiskLevel() models.RiskLevel {
	level, err := models.ParseRisk(strings.ToLower(m.Risk))
	if err != nil {
		return models.RiskShell
	}
	return level
}

// PrivacyScope returns the parsed privacy scope, defaulting to sensitive.
func (m *Manifest) PrivacyScope() models.PrivacyScope {
	if m.Privacy == "" {
		return models.PrivacySensitive
	}
	scope, err := models.ParsePrivacyScope(m.Privacy)
	if err != nil {
		return models.PrivacySensitive
	}
	return scope
}
