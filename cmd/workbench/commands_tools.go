package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Tools Commands
// =============================================================================

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and inspect registered tools",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsInfoCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		maxRisk    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, configPath, maxRisk)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&maxRisk, "max-risk", "", "Only show tools at or below this risk level")
	return cmd
}

func buildToolsInfoCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "info <tool-name>",
		Short: "Show tool details and argument schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsInfo(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}
