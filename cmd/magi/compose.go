package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/magi/internal/agent"
	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/agent/providers"
	"github.com/haasonsaas/magi/internal/agent/routing"
	"github.com/haasonsaas/magi/internal/agent/subagent"
	"github.com/haasonsaas/magi/internal/config"
	catalog "github.com/haasonsaas/magi/internal/models"
	"github.com/haasonsaas/magi/internal/observability"
	"github.com/haasonsaas/magi/internal/providers/bedrock"
	"github.com/haasonsaas/magi/internal/pty"
)

// runtimeStack holds everything a command needs to drive an agent run or a
// pipeline: the configured Runtime plus the ambient logging/metrics/tracing
// collaborators, assembled once from a loaded Config.
type runtimeStack struct {
	runtime        *agent.Runtime
	logger         *observability.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	shutdownTracer func() error
}

// buildRuntimeStack wires a Config into a live Runtime: one LLMProvider per
// configured entry, a routing.Router over the built-in model catalog, a
// ToolRegistry with the sub-agent-as-tool adapter registered, and an
// Executor bounding tool-call concurrency and retries.
func buildRuntimeStack(cfg *config.Config) (*runtimeStack, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "magi",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	metrics := observability.NewMetrics()

	truncator := config.BuildTruncator(cfg.ContextPruning)

	llmProviders, err := buildProviders(cfg.LLM, truncator)
	if err != nil {
		return nil, fmt.Errorf("build llm providers: %w", err)
	}

	cat := catalog.NewCatalog()
	if cfg.LLM.Bedrock.Enabled {
		if err := registerBedrockModels(cat, cfg.LLM.Bedrock); err != nil {
			slog.Warn("bedrock model discovery failed, falling back to the built-in catalog", "error", err)
		}
	}

	router := routing.NewRouter(routing.Config{
		Pools:           routing.BuildPoolsFromCatalog(cat),
		FailureCooldown: defaultFailureCooldown,
	}, llmProviders)

	registry := agent.NewToolRegistry()
	executor := agent.NewExecutor(registry, agent.DefaultExecutorConfig())

	runOpts := agent.RunOptions{
		MaxToolCallRounds: cfg.Agent.MaxToolCallRounds,
		MaxToolCalls:      cfg.Agent.MaxToolCalls,
		ToolParallelism:   cfg.Agent.ToolParallelism,
		ToolTimeout:       cfg.Agent.ToolTimeout,
		ToolMaxAttempts:   cfg.Agent.ToolMaxAttempts,
		ToolRetryBackoff:  cfg.Agent.ToolRetryBackoff,
	}
	runtime := agent.NewRuntime(router, registry, executor, runOpts)

	manager := subagent.NewManager(runtime, defaultMaxActiveSubAgents)
	subagent.RegisterWorkers(registry, manager, nil)

	return &runtimeStack{
		runtime:        runtime,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		shutdownTracer: func() error { return shutdownTracer(context.Background()) },
	}, nil
}

// defaultFailureCooldown is how long a provider that just failed a
// candidate attempt is skipped for by the router's health breaker.
const defaultFailureCooldown = 0

// defaultMaxActiveSubAgents bounds how many sub-agent runs the adapter will
// hold open concurrently on behalf of any one parent run.
const defaultMaxActiveSubAgents = 4

// buildProviders constructs one agent.LLMProvider per entry in cfg.Providers
// keyed by provider name, grounded on spec.md §4.2(b)'s three provider
// kinds: native HTTP (Anthropic/OpenAI/Google), AWS Bedrock, and an
// interactive CLI tool driven over internal/pty. truncator, built from
// config.BuildTruncator, is threaded into every native provider so a
// configured context_pruning strategy drives reactive context-overflow
// recovery instead of each provider's built-in default.
func buildProviders(cfg config.LLMConfig, truncator *agentcontext.Truncator) (map[string]agent.LLMProvider, error) {
	out := make(map[string]agent.LLMProvider, len(cfg.Providers))

	for name, entry := range cfg.Providers {
		if entry.CLI != nil {
			out[name] = providers.NewCLIProvider(providers.CLIConfig{
				Name:            name,
				Command:         entry.CLI.Command,
				Args:            entry.CLI.Args,
				WorkDir:         entry.CLI.WorkDir,
				DefaultModel:    entry.DefaultModel,
				Separator:       entry.CLI.Separator,
				PromptSeparator: entry.CLI.PromptSeparator,
				SilenceTimeout:  entry.CLI.SilenceTimeout,
			})
			continue
		}

		switch name {
		case "anthropic":
			provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       entry.APIKey,
				BaseURL:      entry.BaseURL,
				DefaultModel: entry.DefaultModel,
				Truncator:    truncator,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			out[name] = provider
		case "openai":
			out[name] = providers.NewOpenAIProvider(entry.APIKey).WithTruncator(truncator)
		case "google":
			provider, err := providers.NewGoogleProvider(providers.GoogleConfig{
				APIKey:       entry.APIKey,
				DefaultModel: entry.DefaultModel,
				Truncator:    truncator,
			})
			if err != nil {
				return nil, fmt.Errorf("google provider: %w", err)
			}
			out[name] = provider
		default:
			slog.Warn("skipping llm provider with unrecognized name", "provider", name)
		}
	}

	if cfg.Bedrock.Enabled {
		provider, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.Bedrock.Region,
			DefaultModel: "",
			Truncator:    truncator,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		out["bedrock"] = provider
	}

	wireFallbackChain(out, cfg)

	return out, nil
}

// registerBedrockModels queries AWS for the account's enabled foundation
// models and registers each one into cat, so the routing pools built from
// cat (routing.BuildPoolsFromCatalog) see live Bedrock models rather than
// only the built-in catalog's static entries.
func registerBedrockModels(cat *catalog.Catalog, cfg config.BedrockConfig) error {
	refresh, err := time.ParseDuration(cfg.RefreshInterval)
	if err != nil {
		refresh = time.Hour
	}

	discovered, err := bedrock.DiscoverModels(context.Background(), &bedrock.DiscoveryConfig{
		Region:               cfg.Region,
		RefreshInterval:      refresh,
		ProviderFilter:       cfg.ProviderFilter,
		DefaultContextWindow: cfg.DefaultContextWindow,
		DefaultMaxTokens:     cfg.DefaultMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("discover bedrock models: %w", err)
	}

	for _, m := range discovered {
		var caps []catalog.Capability
		if m.StreamingSupported {
			caps = append(caps, catalog.CapStreaming)
		}
		if m.Reasoning {
			caps = append(caps, catalog.CapReasoning)
		}
		for _, in := range m.Input {
			if in == "image" {
				caps = append(caps, catalog.CapVision)
			}
		}
		if m.ContextWindow >= 100_000 {
			caps = append(caps, catalog.CapLongContext)
		}

		cat.Register(&catalog.Model{
			ID:              m.ID,
			Name:            m.Name,
			Provider:        catalog.ProviderBedrock,
			Tier:            catalog.TierStandard,
			ContextWindow:   m.ContextWindow,
			MaxOutputTokens: m.MaxTokens,
			Capabilities:    caps,
			Deprecated:      m.LifecycleStatus == "LEGACY",
		})
	}
	return nil
}

// wireFallbackChain wraps the default provider in a FallbackProvider that
// falls through to cfg.FallbackChain's members on a transient error,
// replacing out[cfg.DefaultProvider] in place. No-op when fewer than one
// fallback member is configured.
func wireFallbackChain(out map[string]agent.LLMProvider, cfg config.LLMConfig) {
	primary, ok := out[cfg.DefaultProvider]
	if !ok || len(cfg.FallbackChain) == 0 {
		return
	}

	composite := providers.NewFallbackProvider(primary, providers.DefaultFallbackConfig())
	for _, name := range cfg.FallbackChain {
		if member, ok := out[name]; ok {
			composite.AddProvider(member)
		}
	}
	out[cfg.DefaultProvider] = composite
}

// ptyRegistry is the process-wide registry every CLIProvider-backed run
// registers its pseudo-terminal instance with; main wires its RequestExitAll
// to SIGINT/SIGTERM so in-flight CLI-driven runs get a chance to exit
// cleanly before the process does.
func ptyRegistry() *pty.Registry {
	return pty.Default()
}
