// Package main provides the CLI entry point for the Workbench support and
// diagnostics assistant.
//
// Workbench drives a conversational agent against a chat-completion LLM
// provider, executes policy-gated diagnostic tools against infrastructure
// targets, and records every turn in a durable session log.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	workbench chat
//
// Try it offline against simulated targets:
//
//	workbench chat --demo
//
// Inspect past sessions:
//
//	workbench sessions list
//	workbench sessions export <id> --format runbook_markdown
//
// # Environment Variables
//
//   - WORKBENCH_CONFIG: Path to configuration file
//   - WORKBENCH_PROFILE: Named profile from the config's profiles block
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: Provider credentials (the config's
//     llm.api_key_env key selects which variable is read)
//
// Any config key can also be set via WORKBENCH_* variables, e.g.
// WORKBENCH_POLICY_MAX_RISK=shell.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/workbench/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"     // Semantic version (e.g., "v1.0.0")
	commit      = "none"    // Git commit SHA
	date        = "unknown" // Build timestamp
	profileName string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workbench",
		Short: "Workbench - Support & Diagnostics Assistant",
		Long: `Workbench is a conversational agent for infrastructure support and
diagnostics. It streams model output, runs risk-gated tools against execution
backends, and keeps an auditable event log per session.

Supported LLM providers: OpenAI-compatible APIs, Anthropic`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Config profile name (or set WORKBENCH_PROFILE)")

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "workbench %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// configCandidates is the search order when no explicit path is given.
func configCandidates() []string {
	paths := []string{"workbench.yaml", "workbench.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "workbench", "config.yaml"),
			filepath.Join(home, ".workbench", "config.yaml"),
		)
	}
	return paths
}

// resolveConfigPath picks the config file: explicit flag, then
// WORKBENCH_CONFIG, then the first candidate that exists. Empty means no
// file, which loads the built-in defaults.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("WORKBENCH_CONFIG")); env != "" {
		return env
	}
	for _, candidate := range configCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadConfig resolves the config path and layers the active profile and any
// --set overrides on top of the file.
func loadConfig(path string, overrides []string) (*config.Config, string, error) {
	path = resolveConfigPath(path)
	opts, err := configOptions(overrides)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// configOptions builds the Load options for the active profile and --set
// overrides. The config watcher replays them on reload.
func configOptions(overrides []string) ([]config.Option, error) {
	opts := make([]config.Option, 0, len(overrides)+1)
	if active := activeProfile(); active != "" {
		opts = append(opts, config.WithProfile(active))
	}
	for _, set := range overrides {
		key, value, err := parseOverride(set)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithOverride(key, value))
	}
	return opts, nil
}

func activeProfile() string {
	if name := strings.TrimSpace(profileName); name != "" {
		return name
	}
	return strings.TrimSpace(os.Getenv("WORKBENCH_PROFILE"))
}

func parseOverride(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("invalid --set %q, expected key=value", s)
	}
	return strings.TrimSpace(key), value, nil
}
