// Command openpista runs the multi-channel AI agent gateway: a ReAct
// agent runtime fronted by a mobile QUIC channel adapter, speaking to
// an Anthropic-style or OpenAI-Responses-style LLM provider.
//
// # Basic Usage
//
// Start the gateway:
//
//	openpista serve --config openpista.yaml
//
// Authenticate a provider via OAuth PKCE:
//
//	openpista login anthropic
//	openpista login anthropic --code-display
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"  // populated by -ldflags at build time
	commit  = "none" // populated by -ldflags at build time
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests
// can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	var dev bool

	rootCmd := &cobra.Command{
		Use:     "openpista",
		Short:   "openpista - multi-channel AI agent gateway",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(dev))
		},
	}
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "use a human-readable text log handler instead of JSON")

	rootCmd.AddCommand(buildServeCmd(), buildLoginCmd(), buildModelsCmd())
	return rootCmd
}

// newLogger builds the process-wide default logger: JSON for production,
// text for local development (spec.md §10 logging).
func newLogger(dev bool) *slog.Logger {
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
