// clipperd is the shorts pipeline daemon and its operator CLI.
package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "clipperd",
		Short:         "Video shorts pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newStatusCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand(&configFlag))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
