package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contamctl",
	Short: "Inspect and drive contamination sessions",
	Long: `contamctl reads the files a contamd session leaves on disk (snapshots,
op audit trail, sqlite index, tuning) and can send ops to a running daemon.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
