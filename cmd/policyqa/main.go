// Policyqa answers questions about insurance policy documents.
//
// The serve command starts the HTTP API with full service initialization:
// configuration, logging, telemetry, the vector store, the Gemini models and
// the optional NATS event publisher. The remaining commands are thin clients
// of a running server.
//
// Usage:
//
//	# Start the server with the default config file
//	policyqa serve
//
//	# Upload documents into a chat and ask about them
//	policyqa ingest --chat-id c1 policy.pdf claim.eml
//	policyqa ask --chat-id c1 "Is knee surgery covered?"
//
//	# One-shot run against files that are discarded afterwards
//	policyqa ask --file policy.pdf "Is knee surgery covered?"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file used by serve.
	configPath string
	// serverURL is the base URL for the client commands.
	serverURL string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "policyqa",
	Short: "Question answering over insurance policy documents",
	Long: `policyqa ingests policy documents (PDF, DOCX, EML) into per-chat namespaces
and answers coverage questions about them with a structured decision.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "policyqa server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policyqa by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
