package pluginsdk

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/workbench/pkg/models"
)

// ManifestSuffix is the filename suffix runtime discovery looks for, e.g.
// check_certs.plugin.json. Plugins ship the manifest next to their
// executable.
const ManifestSuffix = ".plugin.json"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Manifest describes one external tool. The runtime reads this file at
// discovery; this mirror lets plugin authors decode and sanity-check their
// own manifests without importing runtime internals.
type Manifest struct {
	// Name is the tool name advertised to the model. Lowercase identifier.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// Risk is the tool's risk classification: read_only, write,
	// destructive, or shell.
	Risk string `json:"risk"`

	// Privacy controls audit retention of arguments and output: public,
	// sensitive, or secret. Empty means sensitive.
	Privacy string `json:"privacy,omitempty"`

	// Schema is the JSON Schema for the tool's arguments. Empty declares a
	// zero-argument tool.
	Schema json.RawMessage `json:"schema,omitempty"`

	// SecretFields names argument keys the audit log always masks.
	SecretFields []string `json:"secret_fields,omitempty"`

	// Command is the argv the runtime executes. A relative Command[0]
	// resolves against the manifest's directory.
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

// Validate rejects manifests the runtime would refuse at discovery. The
// runtime applies its own stricter schema normalization on top; passing
// here is necessary, not sufficient.
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
	if len(m.Schema) > 0 {
		if _, err := jsonschema.CompileString(m.Name+".schema.json", string(m.Schema)); err != nil {
			return fmt.Errorf("manifest %s: schema: %w", m.Name, err)
		}
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
