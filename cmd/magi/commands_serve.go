package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command: the long-running process
// mode that brings up metrics/tracing and blocks until a shutdown signal
// arrives, draining any in-flight CLI-driven (PTY) runs first.
func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run MAGI as a long-lived process",
		Long: `Run MAGI as a long-lived process.

This brings up the ambient stack (structured logging, OpenTelemetry
tracing, and a Prometheus /metrics endpoint) and blocks until SIGINT or
SIGTERM. On shutdown it requests a graceful exit of every live PTY-driven
run before the process exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, resolveConfigPath(), debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
