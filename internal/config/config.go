// Package config loads the workbench configuration, layering sources in
// precedence order: built-in defaults, the config file, WORKBENCH_*
// environment variables, then caller overrides. Files may be YAML, JSON, or
// JSON5 and may pull in fragments with $include.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Config is the root configuration for the workbench runtime.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Policy        PolicyConfig        `yaml:"policy"`
	Tools         ToolsConfig         `yaml:"tools"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Plugins       PluginsConfig       `yaml:"plugins"`

	// Profiles are named overlays merged over the file contents when a
	// profile is selected at load time.
	Profiles map[string]map[string]any `yaml:"profiles"`
}

// LLMConfig selects the provider adapter and model new sessions start on.
type LLMConfig struct {
	// Name is the provider adapter: "openai" or "anthropic". Default: openai.
	Name string `yaml:"name"`

	// Model is the model identifier sent to the provider. Default: gpt-4o.
	Model string `yaml:"model"`

	// APIBase overrides the provider endpoint, for proxies and self-hosted
	// gateways. Empty uses the provider's public endpoint.
	APIBase string `yaml:"api_base"`

	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never appears in a config file. Default: OPENAI_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxOutputTokens caps the model's response length. Default: 4096.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// TimeoutSeconds bounds one streaming request. Default: 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// PolicyConfig feeds the policy engine's gate and the audit writer.
type PolicyConfig struct {
	// MaxRisk is the execution ceiling. Tools above it are denied and are
	// not advertised to the model. One of read_only, write, destructive,
	// shell. Default: read_only.
	MaxRisk string `yaml:"max_risk"`

	// ConfirmDestructive requires operator approval for destructive tools.
	// Default: true.
	ConfirmDestructive bool `yaml:"confirm_destructive"`

	// ConfirmShell requires operator approval for shell tools. Default: true.
	ConfirmShell bool `yaml:"confirm_shell"`

	// ConfirmWrite requires operator approval for write tools. Default: false.
	ConfirmWrite bool `yaml:"confirm_write"`

	// BlockedPatterns are regular expressions matched against serialized
	// tool arguments; a match denies the call outright.
	BlockedPatterns []string `yaml:"blocked_patterns"`

	// RedactionPatterns are regular expressions whose matches are masked in
	// audit records.
	RedactionPatterns []string `yaml:"redaction_patterns"`

	// SecretFields are argument keys always masked in audit records,
	// regardless of the tool's privacy scope.
	SecretFields []string `yaml:"secret_fields"`

	// AuditMaxBytes rotates the audit log when an append would push it past
	// this size. Default: 10485760 (10 MiB).
	AuditMaxBytes int64 `yaml:"audit_max_bytes"`

	// AuditKeepFiles is how many rotated audit files to retain. Default: 5.
	AuditKeepFiles int `yaml:"audit_keep_files"`
}

// ToolsConfig applies to every registered tool.
type ToolsConfig struct {
	// TimeoutSeconds bounds one tool execution. Default: 60.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Disabled lists built-in tools to leave unregistered.
	Disabled []string `yaml:"disabled"`
}

// SessionConfig bounds the turn loop and the context packer.
type SessionConfig struct {
	// TokenBudget caps the packed context size in tokens. Zero disables
	// truncation. Default: 128000.
	TokenBudget int `yaml:"token_budget"`

	// MaxTurns bounds tool rounds within one user turn. Default: 20.
	MaxTurns int `yaml:"max_turns"`

	// ReserveTokens is held back from the budget for the model's response.
	// Default: 200.
	ReserveTokens int `yaml:"reserve_tokens"`

	// RetentionDays prunes sessions untouched for longer than this. Zero
	// keeps everything. Default: 0.
	RetentionDays int `yaml:"retention_days"`
}

// StorageConfig places all persisted state.
type StorageConfig struct {
	// BaseDir is the root for the session database, the artifact store, and
	// the audit log. Default: ~/.workbench.
	BaseDir string `yaml:"base_dir"`

	// Driver selects the session database: "sqlite" or "postgres".
	// Default: sqlite.
	Driver string `yaml:"driver"`

	// PostgresDSN is the connection string when driver is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr exposes Prometheus metrics on this address when set, e.g.
	// "127.0.0.1:9464". Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// OTLPEndpoint enables trace export to an OTLP gRPC collector when set.
	// Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// PluginsConfig gates discovery of external tool manifests.
type PluginsConfig struct {
	// Enabled turns on manifest discovery. Default: false.
	Enabled bool `yaml:"enabled"`

	// Allowlist names the plugins that may register. An empty list allows
	// none, even with discovery enabled.
	Allowlist []string `yaml:"allowlist"`

	// Dir overrides the manifest directory. Empty means <base_dir>/plugins.
	Dir string `yaml:"dir"`
}

// Default returns the built-in configuration. Every other source is layered
// on top of it.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Name:            "openai",
			Model:           "gpt-4o",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxOutputTokens: 4096,
			TimeoutSeconds:  120,
		},
		Policy: PolicyConfig{
			MaxRisk:            "read_only",
			ConfirmDestructive: true,
			ConfirmShell:       true,
			AuditMaxBytes:      10 << 20,
			AuditKeepFiles:     5,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 60,
		},
		Session: SessionConfig{
			TokenBudget:   128000,
			MaxTurns:      20,
			ReserveTokens: 200,
		},
		Storage: StorageConfig{
			BaseDir: "~/.workbench",
			Driver:  "sqlite",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

type override struct {
	path  string
	value string
}

type options struct {
	profile   string
	overrides []override
}

// Option adjusts how Load layers the configuration.
type Option func(*options)

// WithProfile merges the named profile from the file's profiles block over
// the file contents before decoding.
func WithProfile(name string) Option {
	return func(o *options) { o.profile = name }
}

// WithOverride applies a dotted-path override after the environment layer,
// e.g. ("llm.model", "gpt-4o-mini"). Values parse the same way environment
// values do.
func WithOverride(path, value string) Option {
	return func(o *options) { o.overrides = append(o.overrides, override{path: path, value: value}) }
}

// Load builds a Config by layering defaults, the config file, WORKBENCH_*
// environment variables, and caller overrides, in that order. An empty path
// skips the file layer. The result is validated before it is returned.
func Load(path string, opts ...Option) (*Config, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if o.profile != "" {
			raw, err = applyProfile(raw, o.profile)
			if err != nil {
				return nil, err
			}
		}
		if err := decodeInto(raw, cfg); err != nil {
			return nil, err
		}
	} else if o.profile != "" {
		return nil, &FieldError{Key: "profiles", Reason: fmt.Sprintf("profile %q requested but no config file was given", o.profile)}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	for _, ov := range o.overrides {
		if err := cfg.Set(ov.path, ov.value); err != nil {
			return nil, err
		}
	}

	cfg.Storage.BaseDir = expandHome(cfg.Storage.BaseDir)
	cfg.Plugins.Dir = expandHome(cfg.Plugins.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set applies one dotted-path override, coercing the value to the field's
// type. Paths follow the YAML layout, e.g. "policy.max_risk".
func (c *Config) Set(path, value string) error {
	setter, ok := settings[path]
	if !ok {
		return &FieldError{Key: path, Reason: "unknown setting"}
	}
	if err := setter(c, value); err != nil {
		return &FieldError{Key: path, Reason: err.Error()}
	}
	return nil
}

// Validate rejects configurations the runtime cannot start with. It reports
// the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.Name) == "" {
		return &FieldError{Key: "llm.name", Reason: "provider name is required"}
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return &FieldError{Key: "llm.model", Reason: "model is required"}
	}
	if c.LLM.MaxOutputTokens <= 0 {
		return &FieldError{Key: "llm.max_output_tokens", Reason: "must be positive"}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return &FieldError{Key: "llm.timeout_seconds", Reason: "must be positive"}
	}

	if _, err := models.ParseRisk(strings.ToLower(c.Policy.MaxRisk)); err != nil {
		return &FieldError{Key: "policy.max_risk", Reason: err.Error()}
	}
	for _, pattern := range c.Policy.BlockedPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return &FieldError{Key: "policy.blocked_patterns", Reason: err.Error()}
		}
	}
	for _, pattern := range c.Policy.RedactionPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return &FieldError{Key: "policy.redaction_patterns", Reason: err.Error()}
		}
	}
	if c.Policy.AuditMaxBytes <= 0 {
		return &FieldError{Key: "policy.audit_max_bytes", Reason: "must be positive"}
	}
	if c.Policy.AuditKeepFiles <= 0 {
		return &FieldError{Key: "policy.audit_keep_files", Reason: "must be positive"}
	}

	if c.Tools.TimeoutSeconds <= 0 {
		return &FieldError{Key: "tools.timeout_seconds", Reason: "must be positive"}
	}

	if c.Session.MaxTurns <= 0 {
		return &FieldError{Key: "session.max_turns", Reason: "must be positive"}
	}
	if c.Session.TokenBudget < 0 {
		return &FieldError{Key: "session.token_budget", Reason: "cannot be negative"}
	}
	if c.Session.ReserveTokens < 0 {
		return &FieldError{Key: "session.reserve_tokens", Reason: "cannot be negative"}
	}
	if c.Session.TokenBudget > 0 && c.Session.ReserveTokens >= c.Session.TokenBudget {
		return &FieldError{Key: "session.reserve_tokens", Reason: "must leave room under token_budget"}
	}
	if c.Session.RetentionDays < 0 {
		return &FieldError{Key: "session.retention_days", Reason: "cannot be negative"}
	}

	if strings.TrimSpace(c.Storage.BaseDir) == "" {
		return &FieldError{Key: "storage.base_dir", Reason: "base directory is required"}
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return &FieldError{Key: "storage.postgres_dsn", Reason: "required when driver is postgres"}
		}
	default:
		return &FieldError{Key: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &FieldError{Key: "observability.log_level", Reason: fmt.Sprintf("unknown level %q", c.Observability.LogLevel)}
	}
	return nil
}

// SessionDBPath is the SQLite database location under the base directory.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Storage.BaseDir, "sessions.db")
}

// ArtifactsDir is the content-addressed blob root under the base directory.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.Storage.BaseDir, "artifacts")
}

// AuditLogPath is the active audit file under the base directory. Rotated
// files live next to it.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.Storage.BaseDir, "audit.jsonl")
}

// PluginsDir is the manifest directory, defaulting under the base directory.
func (c *Config) PluginsDir() string {
	if c.Plugins.Dir != "" {
		return c.Plugins.Dir
	}
	return filepath.Join(c.Storage.BaseDir, "plugins")
}

// MaxRiskLevel returns the parsed execution ceiling. Validate has already
// established the value parses; anything else falls back to read-only.
func (p PolicyConfig) MaxRiskLevel() models.RiskLevel {
	level, err := models.ParseRisk(strings.ToLower(p.MaxRisk))
	if err != nil {
		return models.RiskReadOnly
	}
	return level
}

// SlogLevel maps the configured log level onto slog's scale.
func (o ObservabilityConfig) SlogLevel() slog.Level {
	switch strings.ToLower(o.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
