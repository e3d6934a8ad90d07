// Package cmd contains the ragserver CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ragserver",
	Short: "Ollama-compatible RAG server for product support",
	Long: `ragserver answers product support questions from a local document
corpus. It chunks markdown manuals and task exports, indexes them in
PostgreSQL with pgvector, and serves an Ollama-compatible API that
frontends like OpenWebUI can talk to directly.

Running ragserver without arguments starts the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
