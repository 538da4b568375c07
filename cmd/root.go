// Package cmd implements the askdoc command line interface.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "askdoc",
	Short: "askdoc - chat with your documents",
	Long: `askdoc is a document-chat backend. Upload text documents, let the
indexer chunk and embed them, then ask questions over a streaming HTTP API.

Commands:
  serve    start the HTTP API server
  migrate  apply database migrations
  version  show version and configuration`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	// Load .env for local development. Missing file is fine; real
	// deployments set the environment directly.
	_ = godotenv.Load()

	return rootCmd.Execute()
}
