/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command ratelimitctl runs an HTTP front guarded by the distributed rate limiter
// and checks rate limit decisions from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ratelimitctl",
		Short: "Distributed sliding-window rate limiter",
		Long: `ratelimitctl admits requests by named sliding-window throttlers
whose state is shared between instances through Redis.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML or JSON configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ratelimitctl version: %s\nGit commit: %s\n", Version, GitCommit)
		},
	}
}
