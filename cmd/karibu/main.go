// Karibu — agent task orchestration for tourism vendor management.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "karibu",
	Short: "Karibu — agent task orchestration for tourism vendor-management platforms.",
	Long: `Karibu is the orchestration layer that lets credentialed service agents act
on a tourism vendor-management platform within strict policy boundaries.
It enforces per-role permissions, deduplicates side effects through an
idempotency ledger, runs queued tasks with retry and backoff, and routes
inbound customer leads to the right service agent.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, agentCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
