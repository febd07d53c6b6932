package main

import (
	"fmt"

	"github.com/haasonsaas/magi/internal/agent/routing"
	"github.com/haasonsaas/magi/internal/config"
	"github.com/haasonsaas/magi/pkg/models"
	"github.com/spf13/cobra"
)

// runRunOptions holds the "run" command's flags.
type runRunOptions struct {
	Prompt string
	Agent  string
	Model  string
	Class  string
}

// runRun implements the run command: build the runtime stack, run one
// agent turn, and stream the result to stdout.
func runRun(cmd *cobra.Command, configPath string, opts runRunOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stack, err := buildRuntimeStack(cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer stack.shutdownTracer()

	class := models.ModelClass(opts.Class)
	if class == "" {
		class = routing.InferClass(opts.Prompt)
	}
	stack.logger.Info(cmd.Context(), "running agent turn", "agent", opts.Agent, "class", class)

	def := &models.AgentDefinition{
		Name:       opts.Agent,
		Model:      opts.Model,
		ModelClass: class,
	}

	events, err := stack.runtime.RunStreamed(cmd.Context(), def, opts.Prompt, nil)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	return drainToStdout(cmd, events)
}

// drainToStdout prints each streamed event's text delta as it arrives and
// surfaces the run's terminal error, if any.
func drainToStdout(cmd *cobra.Command, events <-chan models.StreamingEvent) error {
	out := cmd.OutOrStdout()
	var runErr error

	for evt := range events {
		switch evt.Type {
		case models.EventMessageDelta:
			fmt.Fprint(out, evt.Delta)
		case models.EventMessageComplete:
			fmt.Fprintln(out)
		case models.EventError:
			runErr = fmt.Errorf("%s", evt.Error)
		}
	}

	return runErr
}
