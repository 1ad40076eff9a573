package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Cognitive interaction trace and risk pipeline",
		Long: "controller runs student submissions through governance, cognitive state\n" +
			"classification, risk scoring and hint escalation, and records a\n" +
			"four-level trace of every exchange.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config (optional)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "controller %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
