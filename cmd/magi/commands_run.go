package main

import (
	"github.com/spf13/cobra"
)

// buildRunCmd creates the "run" command: a single agent turn against one
// AgentDefinition, streamed to stdout.
func buildRunCmd() *cobra.Command {
	var (
		prompt string
		agent  string
		model  string
		class  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single agent turn",
		Example: `  magi run --prompt "summarize this repo"
  magi run --agent reviewer --model claude-opus-4 --prompt "review this diff"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, resolveConfigPath(), runRunOptions{
				Prompt: prompt,
				Agent:  agent,
				Model:  model,
				Class:  class,
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt to send (required)")
	cmd.Flags().StringVar(&agent, "agent", "magi", "Agent name reported on streamed events")
	cmd.Flags().StringVar(&model, "model", "", "Explicit model id, bypassing class-based routing")
	cmd.Flags().StringVar(&class, "class", "", "Model class to route on (inferred from the prompt if empty)")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}
