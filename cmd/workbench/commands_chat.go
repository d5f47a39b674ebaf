package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var flags chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Chat opens an interactive session against the configured LLM provider.
Tool calls stream inline; calls above the policy ceiling are denied and
confirm-gated calls prompt before running.

Inline commands: /help /history /tools /switch /quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringArrayVar(&flags.overrides, "set", nil, "Config override as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "LLM provider for this run (overrides llm.name)")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Resume an existing session by ID")
	cmd.Flags().StringVar(&flags.title, "title", "", "Title for the new session")
	cmd.Flags().BoolVar(&flags.demo, "demo", false, "Route all targets to the simulated backend")
	return cmd
}
