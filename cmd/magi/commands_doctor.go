package main

import (
	"github.com/spf13/cobra"
)

// buildDoctorCmd creates the "doctor" command: load and validate a config
// file without starting anything, reporting every issue found.
func buildDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate a configuration file",
		Long: `Load and validate a configuration file: schema version, provider
wiring, pipeline retry budgets, and tool limits. Exits non-zero and prints
every issue found rather than stopping at the first one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath())
		},
	}
	return cmd
}
