package main

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/magi/internal/config"
	"github.com/spf13/cobra"
)

// runDoctor implements the doctor command: load configPath and report its
// validity. config.Load already runs schema-version checking and full
// validation, so this handler's job is purely to surface the result.
func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		var versionErr *config.VersionError
		var validationErr *config.ConfigValidationError
		switch {
		case errors.As(err, &versionErr):
			fmt.Fprintf(out, "version mismatch: %v\n", versionErr)
		case errors.As(err, &validationErr):
			fmt.Fprintf(out, "%v\n", validationErr)
		default:
			fmt.Fprintf(out, "failed to load %s: %v\n", configPath, err)
		}
		return err
	}

	fmt.Fprintf(out, "%s is valid\n", configPath)
	fmt.Fprintf(out, "- default provider: %s\n", cfg.LLM.DefaultProvider)
	fmt.Fprintf(out, "- providers configured: %d\n", len(cfg.LLM.Providers))
	fmt.Fprintf(out, "- pipelines configured: %d\n", len(cfg.Pipelines))
	return nil
}
