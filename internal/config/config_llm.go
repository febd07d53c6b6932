package config

import "time"

// LLMConfig configures the Model Provider abstraction: credentials and
// defaults per provider, the fallback order a FallbackProvider walks on a
// transient error, and AWS Bedrock's foundation-model discovery.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails.
	// Providers are tried in order until one succeeds.
	// Example: ["openai", "google"] - try OpenAI first, then Google.
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock configures AWS Bedrock model discovery.
	Bedrock BedrockConfig `yaml:"bedrock"`

	// Routing toggles class-based model routing (internal/agent/routing)
	// in place of each AgentDefinition's fixed provider/model pair.
	Routing LLMRoutingConfig `yaml:"routing"`
}

// LLMProviderConfig holds credentials and request defaults for one
// provider entry, read opaquely by the core and handed to that
// provider's constructor (spec.md §6).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`

	// CLI configures this provider as an interactive CLI tool driven over
	// a pseudo-terminal (internal/agent/providers.CLIProvider) instead of
	// an HTTP API. Leave nil for a native HTTP provider.
	CLI *LLMProviderCLIConfig `yaml:"cli"`
}

// LLMProviderCLIConfig configures a CLI-driven provider entry, mapped
// field-for-field onto providers.CLIConfig by the cmd/magi composition
// root.
type LLMProviderCLIConfig struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	WorkDir         string        `yaml:"work_dir"`
	Separator       string        `yaml:"separator"`
	PromptSeparator string        `yaml:"prompt_separator"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
}

// LLMRoutingConfig configures provider routing.
type LLMRoutingConfig struct {
	Enabled     bool `yaml:"enabled"`
	PreferLocal bool `yaml:"prefer_local"`
}

// BedrockConfig configures AWS Bedrock model discovery.
type BedrockConfig struct {
	// Enabled enables automatic discovery of Bedrock foundation models.
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region to query for models. Default: us-east-1.
	Region string `yaml:"region"`

	// RefreshInterval is how often to refresh the model list (e.g., "1h", "30m").
	// Default: 1h. Set to "0" to disable caching.
	RefreshInterval string `yaml:"refresh_interval"`

	// ProviderFilter limits discovery to specific model providers.
	// Example: ["anthropic", "amazon", "meta"]
	// Empty means all providers.
	ProviderFilter []string `yaml:"provider_filter"`

	// DefaultContextWindow is used when the model doesn't report context size.
	// Default: 32000.
	DefaultContextWindow int `yaml:"default_context_window"`

	// DefaultMaxTokens is used when the model doesn't report max output.
	// Default: 4096.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}
