// Package main provides the CLI entry point for robotd, the per-session
// orchestration kernel for an LLM-driven agent runtime.
//
// robotd accepts input from a line-based TCP console and an HTTP/SSE web
// console, plans each message against a session's MCP tool catalog, and
// executes the resulting workflow one step at a time.
//
// # Basic Usage
//
// Start the kernel:
//
//	robotd serve --config robotd.yaml
//
// # Environment Variables
//
//   - LMSTUDIO_URL: base URL of the OpenAI-compatible chat completions backend
//   - LMSTUDIO_API_KEY: API key for that backend, if required
//   - LMSTUDIO_MODEL: model name to request
//   - ROBOT_MCP_SERVER_ADDR: address of the tool server sessions dial
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "robotd",
		Short:        "robotd - per-session LLM agent orchestration kernel",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}
