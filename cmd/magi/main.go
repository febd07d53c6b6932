// Package main provides the CLI entry point for MAGI, a multi-agent
// orchestration runtime.
//
// MAGI drives model-backed agents through a tool-calling loop (Agent
// Runtime), talks to model providers (native HTTP APIs, AWS Bedrock, or an
// interactive CLI tool driven over a pseudo-terminal), and composes agents
// into staged pipelines with retry and fall-through semantics.
//
// # Basic Usage
//
// Validate a configuration file:
//
//	magi doctor --config magi.yaml
//
// Run a single agent turn:
//
//	magi run --prompt "summarize this repo"
//
// Run a named pipeline:
//
//	magi pipeline plan-exec-validate --input "add retry support to the fetcher"
//
// Start the long-running process (metrics/tracing up, graceful shutdown):
//
//	magi serve --config magi.yaml
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

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "magi",
		Short: "MAGI - multi-agent orchestration runtime",
		Long: `MAGI drives model-backed agents through a tool-calling loop, talks to
model providers over native APIs, Bedrock, or an interactive CLI tool, and
composes agents into staged pipelines with retry and fall-through semantics.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "magi.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildPipelineCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}

func resolveConfigPath() string {
	if path := os.Getenv("MAGI_CONFIG"); path != "" {
		return path
	}
	return configPath
}
