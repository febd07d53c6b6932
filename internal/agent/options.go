package agent

import (
	"log/slog"
	"time"
)

// RunOptions configures a single Agent Runtime invocation: tool-call
// budgets, concurrency, timeouts, and retry behavior (§4.3).
type RunOptions struct {
	// MaxToolCallRounds limits the number of tool-call/continuation rounds
	// within a single run. Zero means "use the AgentDefinition's value, or
	// the package default if that is also zero."
	MaxToolCallRounds int

	// MaxToolCalls limits the total number of tool invocations across all
	// rounds of a run (0 = unlimited).
	MaxToolCalls int

	// ToolParallelism caps concurrent tool execution within a round.
	ToolParallelism int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for retryable tool errors.
	ToolMaxAttempts int

	// ToolRetryBackoff is the initial backoff between tool retries.
	ToolRetryBackoff time.Duration

	// Logger receives runtime diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRunOptions returns the baseline run options.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxToolCallRounds: 25,
		MaxToolCalls:      0,
		ToolParallelism:   4,
		ToolTimeout:       30 * time.Second,
		ToolMaxAttempts:   1,
		ToolRetryBackoff:  0,
		Logger:            slog.Default(),
	}
}

func mergeRunOptions(base RunOptions, override RunOptions) RunOptions {
	merged := base
	if override.MaxToolCallRounds > 0 {
		merged.MaxToolCallRounds = override.MaxToolCallRounds
	}
	if override.MaxToolCalls > 0 {
		merged.MaxToolCalls = override.MaxToolCalls
	}
	if override.ToolParallelism > 0 {
		merged.ToolParallelism = override.ToolParallelism
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if override.ToolMaxAttempts > 0 {
		merged.ToolMaxAttempts = override.ToolMaxAttempts
	}
	if override.ToolRetryBackoff > 0 {
		merged.ToolRetryBackoff = override.ToolRetryBackoff
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	return merged
}
