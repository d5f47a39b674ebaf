package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envSettings maps WORKBENCH_* variables onto dotted setting paths. Values
// parse the same way Set parses caller overrides; list-valued settings split
// on commas.
var envSettings = map[string]string{
	"WORKBENCH_LLM_NAME":                   "llm.name",
	"WORKBENCH_LLM_MODEL":                  "llm.model",
	"WORKBENCH_LLM_API_BASE":               "llm.api_base",
	"WORKBENCH_LLM_API_KEY_ENV":            "llm.api_key_env",
	"WORKBENCH_LLM_MAX_OUTPUT":             "llm.max_output_tokens",
	"WORKBENCH_LLM_TIMEOUT":                "llm.timeout_seconds",
	"WORKBENCH_POLICY_MAX_RISK":            "policy.max_risk",
	"WORKBENCH_POLICY_CONFIRM_DESTRUCTIVE": "policy.confirm_destructive",
	"WORKBENCH_POLICY_CONFIRM_SHELL":       "policy.confirm_shell",
	"WORKBENCH_POLICY_CONFIRM_WRITE":       "policy.confirm_write",
	"WORKBENCH_POLICY_BLOCKED":             "policy.blocked_patterns",
	"WORKBENCH_POLICY_REDACTION":           "policy.redaction_patterns",
	"WORKBENCH_POLICY_SECRET_FIELDS":       "policy.secret_fields",
	"WORKBENCH_POLICY_AUDIT_MAX_BYTES":     "policy.audit_max_bytes",
	"WORKBENCH_POLICY_AUDIT_KEEP":          "policy.audit_keep_files",
	"WORKBENCH_TOOLS_TIMEOUT":              "tools.timeout_seconds",
	"WORKBENCH_TOOLS_DISABLED":             "tools.disabled",
	"WORKBENCH_SESSION_TOKEN_BUDGET":       "session.token_budget",
	"WORKBENCH_SESSION_MAX_TURNS":          "session.max_turns",
	"WORKBENCH_SESSION_RESERVE_TOKENS":     "session.reserve_tokens",
	"WORKBENCH_SESSION_RETENTION_DAYS":     "session.retention_days",
	"WORKBENCH_STORAGE_BASE_DIR":           "storage.base_dir",
	"WORKBENCH_STORAGE_DRIVER":             "storage.driver",
	"WORKBENCH_STORAGE_POSTGRES_DSN":       "storage.postgres_dsn",
	"WORKBENCH_LOG_LEVEL":                  "observability.log_level",
	"WORKBENCH_METRICS_ADDR":               "observability.metrics_addr",
	"WORKBENCH_OTLP_ENDPOINT":              "observability.otlp_endpoint",
	"WORKBENCH_PLUGINS_ENABLED":            "plugins.enabled",
	"WORKBENCH_PLUGINS_ALLOWLIST":          "plugins.allowlist",
	"WORKBENCH_PLUGINS_DIR":                "plugins.dir",
}

// settings routes dotted paths to typed field setters. Set wraps returned
// errors with the offending path.
var settings = map[string]func(*Config, string) error{
	"llm.name":      func(c *Config, v string) error { c.LLM.Name = v; return nil },
	"llm.model":     func(c *Config, v string) error { c.LLM.Model = v; return nil },
	"llm.api_base":  func(c *Config, v string) error { c.LLM.APIBase = v; return nil },
	"llm.api_key_env": func(c *Config, v string) error {
		c.LLM.APIKeyEnv = v
		return nil
	},
	"llm.max_output_tokens": func(c *Config, v string) error { return setInt(&c.LLM.MaxOutputTokens, v) },
	"llm.timeout_seconds":   func(c *Config, v string) error { return setInt(&c.LLM.TimeoutSeconds, v) },

	"policy.max_risk":            func(c *Config, v string) error { c.Policy.MaxRisk = v; return nil },
	"policy.confirm_destructive": func(c *Config, v string) error { return setBool(&c.Policy.ConfirmDestructive, v) },
	"policy.confirm_shell":       func(c *Config, v string) error { return setBool(&c.Policy.ConfirmShell, v) },
	"policy.confirm_write":       func(c *Config, v string) error { return setBool(&c.Policy.ConfirmWrite, v) },
	"policy.blocked_patterns": func(c *Config, v string) error {
		c.Policy.BlockedPatterns = splitList(v)
		return nil
	},
	"policy.redaction_patterns": func(c *Config, v string) error {
		c.Policy.RedactionPatterns = splitList(v)
		return nil
	},
	"policy.secret_fields": func(c *Config, v string) error {
		c.Policy.SecretFields = splitList(v)
		return nil
	},
	"policy.audit_max_bytes":  func(c *Config, v string) error { return setInt64(&c.Policy.AuditMaxBytes, v) },
	"policy.audit_keep_files": func(c *Config, v string) error { return setInt(&c.Policy.AuditKeepFiles, v) },

	"tools.timeout_seconds": func(c *Config, v string) error { return setInt(&c.Tools.TimeoutSeconds, v) },
	"tools.disabled": func(c *Config, v string) error {
		c.Tools.Disabled = splitList(v)
		return nil
	},

	"session.token_budget":   func(c *Config, v string) error { return setInt(&c.Session.TokenBudget, v) },
	"session.max_turns":      func(c *Config, v string) error { return setInt(&c.Session.MaxTurns, v) },
	"session.reserve_tokens": func(c *Config, v string) error { return setInt(&c.Session.ReserveTokens, v) },
	"session.retention_days": func(c *Config, v string) error { return setInt(&c.Session.RetentionDays, v) },

	"storage.base_dir": func(c *Config, v string) error { c.Storage.BaseDir = v; return nil },
	"storage.driver":   func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	"storage.postgres_dsn": func(c *Config, v string) error {
		c.Storage.PostgresDSN = v
		return nil
	},

	"observability.log_level": func(c *Config, v string) error {
		c.Observability.LogLevel = v
		return nil
	},
	"observability.metrics_addr": func(c *Config, v string) error {
		c.Observability.MetricsAddr = v
		return nil
	},
	"observability.otlp_endpoint": func(c *Config, v string) error {
		c.Observability.OTLPEndpoint = v
		return nil
	},

	"plugins.enabled": func(c *Config, v string) error { return setBool(&c.Plugins.Enabled, v) },
	"plugins.allowlist": func(c *Config, v string) error {
		c.Plugins.Allowlist = splitList(v)
		return nil
	},
	"plugins.dir": func(c *Config, v string) error { c.Plugins.Dir = v; return nil },
}

func applyEnv(cfg *Config) error {
	for envVar, path := range envSettings {
		value, ok := os.LookupEnv(envVar)
		if !ok {
			continue
		}
		if err := cfg.Set(path, value); err != nil {
			return fmt.Errorf("%s: %w", envVar, err)
		}
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, value string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("not a boolean: %q", value)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
