package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/workbench/internal/config"
)

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigShow(cmd *cobra.Command, configPath string, overrides []string) error {
	cfg, path, err := loadConfig(configPath, overrides)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path != "" {
		fmt.Fprintf(out, "# %s\n", path)
	} else {
		fmt.Fprintln(out, "# built-in defaults (no config file found)")
	}
	rendered, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = out.Write(rendered)
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, path, err := loadConfig(configPath, nil)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid.")
	if path != "" {
		fmt.Fprintf(out, "  Loaded from: %s\n", path)
	} else {
		fmt.Fprintln(out, "  No config file found, using defaults.")
	}
	fmt.Fprintf(out, "  LLM provider: %s (%s)\n", cfg.LLM.Name, cfg.LLM.Model)
	fmt.Fprintf(out, "  Policy max risk: %s\n", cfg.Policy.MaxRisk)
	fmt.Fprintf(out, "  Storage driver: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.BaseDir)
	fmt.Fprintf(out, "  Plugins enabled: %t\n", cfg.Plugins.Enabled)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
	return err
}
