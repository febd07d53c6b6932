package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildPipelineCmd creates the "pipeline" command group: list and run the
// built-in staged pipelines (internal/pipeline.Runner).
func buildPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run or list staged pipelines",
	}
	cmd.AddCommand(buildPipelineRunCmd(), buildPipelineListCmd())
	return cmd
}

func buildPipelineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range pipelineCatalogNames() {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func buildPipelineRunCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:     "run <name>",
		Short:   "Run a named pipeline to completion",
		Example: `  magi pipeline run plan-exec-validate --input "add retry support to the fetcher"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, resolveConfigPath(), args[0], input)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Input handed to the pipeline's start stage (required)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
