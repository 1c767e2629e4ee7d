package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "companion",
		Short: "Gateway companion connection daemon",
		Long: `Companion maintains a WebSocket connection to a gateway, polls the
companion plugin for state and reports connection health.`,
		SilenceUsage: true,
	}

	// Subcommands (alphabetical)
	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}
