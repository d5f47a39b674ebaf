package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/workbench/internal/artifact"
	"github.com/haasonsaas/workbench/internal/backend"
	"github.com/haasonsaas/workbench/internal/config"
	"github.com/haasonsaas/workbench/internal/plugins"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/internal/tools/bridge"
	"github.com/haasonsaas/workbench/pkg/models"
)

// =============================================================================
// Tools Command Handlers
// =============================================================================

// inspectionRegistry builds the tool inventory without touching real
// infrastructure: bridge tools over the simulated backend plus any
// allowlisted plugins. Listing never executes a tool.
func inspectionRegistry(cfg *config.Config) (*tools.Registry, func(), error) {
	tmp, err := os.MkdirTemp("", "workbench-tools-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(tmp) }

	store, err := artifact.NewStore(tmp)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	registry := tools.NewRegistry()
	if err := bridge.Register(registry, backend.NewDemoBackend(), store, cfg.Tools.Disabled...); err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.Plugins.Enabled {
		if _, err := plugins.Register(registry, plugins.Options{
			Enabled:   true,
			Dir:       cfg.PluginsDir(),
			Allowlist: cfg.Plugins.Allowlist,
			Timeout:   time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		}, slog.Default()); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("register plugins: %w", err)
		}
	}
	return registry, cleanup, nil
}

func runToolsList(cmd *cobra.Command, configPath, maxRisk string) error {
	cfg, _, err := loadConfig(configPath, nil)
	if err != nil {
		return err
	}
	registry, cleanup, err := inspectionRegistry(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	list := registry.List()
	if maxRisk != "" {
		ceiling, err := models.ParseRisk(strings.ToLower(maxRisk))
		if err != nil {
			return err
		}
		list = registry.ListMaxRisk(ceiling)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools registered.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRISK\tPRIVACY\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name(), t.Risk(), t.PrivacyScope(), t.Description())
	}
	return w.Flush()
}

func runToolsInfo(cmd *cobra.Command, configPath, name string) error {
	cfg, _, err := loadConfig(configPath, nil)
	if err != nil {
		return err
	}
	registry, cleanup, err := inspectionRegistry(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tool, ok := registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", tool.Name())
	fmt.Fprintf(out, "Risk:        %s\n", tool.Risk())
	fmt.Fprintf(out, "Privacy:     %s\n", tool.PrivacyScope())
	fmt.Fprintf(out, "Description: %s\n", tool.Description())

	schema, ok := registry.Schema(name)
	if !ok {
		return nil
	}
	var pretty map[string]any
	if err := json.Unmarshal(schema, &pretty); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	rendered, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Schema:\n%s\n", rendered)
	return nil
}
