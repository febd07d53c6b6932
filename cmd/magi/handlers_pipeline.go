package main

import (
	"fmt"

	"github.com/haasonsaas/magi/internal/config"
	"github.com/haasonsaas/magi/internal/pipeline"
	"github.com/spf13/cobra"
)

// runPipeline implements "pipeline run": build the runtime stack, resolve
// name against the built-in catalog and the config's retry budgets, and
// run it to completion against input.
func runPipeline(cmd *cobra.Command, configPath string, name string, input string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, ok := pipelineCatalog()[name]
	if !ok {
		return fmt.Errorf("unknown pipeline %q (see 'magi pipeline list')", name)
	}

	budget, ok := cfg.Pipelines[name]
	if !ok {
		budget = config.PipelineConfig{MaxRetriesPerStage: 3, MaxTotalRetries: 10}
	}

	stack, err := buildRuntimeStack(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer stack.shutdownTracer()

	runner := pipeline.NewRunner(stack.runtime, budget.MaxRetriesPerStage, budget.MaxTotalRetries)

	result, err := runner.RunSequential(cmd.Context(), p, input)
	if err != nil {
		stack.metrics.RecordPipelineRun(name, "failure")
		return fmt.Errorf("pipeline %q: %w", name, err)
	}
	stack.metrics.RecordPipelineRun(name, "success")

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Output)
	return nil
}
