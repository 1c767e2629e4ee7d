package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/rickgao/gateway-companion/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "companion %s\n", version.String())
			fmt.Fprintf(out, "  OS/Arch: %s/%s\n", version.Platform(), version.Arch())
			fmt.Fprintf(out, "  Go: %s\n", runtime.Version())
		},
	}
}
