package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "clipperd %s\n", version)
			if info, ok := debug.ReadBuildInfo(); ok && version == "dev" {
				fmt.Fprintf(out, "build: %s\n", info.Main.Version)
			}
		},
	}
}
