package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is MAGI's top-level configuration: model provider credentials,
// PTY defaults, pipeline retry budgets, and the ambient logging/tracing/
// metrics stack. Per spec.md §6, most of the external interface is
// environment variables read directly by the process rather than config
// fields (DESIGN_OUTPUT_DIR, PROCESS_ID, UV_USE_IO_URING); DesignOutputDir
// is kept here only so a config file can set a default that the
// environment variable still overrides.
type Config struct {
	Version int `yaml:"version"`

	DesignOutputDir string `yaml:"design_output_dir"`

	LLM       LLMConfig                 `yaml:"llm"`
	PTY       PTYConfig                 `yaml:"pty"`
	Agent     AgentConfig               `yaml:"agent"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`

	ContextPruning TruncationConfig `yaml:"context_pruning"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PTYConfig holds the defaults a runPty invocation falls back to when the
// caller leaves a pty.Options field zero-valued (spec.md §6: silence
// timeout and dedup window are supplied per invocation, but a config file
// still needs somewhere to set the process-wide defaults that supply
// them).
type PTYConfig struct {
	Cols             int           `yaml:"cols"`
	Rows             int           `yaml:"rows"`
	SilenceTimeout   time.Duration `yaml:"silence_timeout"`
	DedupWindow      int           `yaml:"dedup_window"`
	ExitCommand      string        `yaml:"exit_command"`
	SuccessExitCodes []int         `yaml:"success_exit_codes"`
}

// AgentConfig holds the defaults for an Agent Runtime run
// (internal/agent.RunOptions), overridable per call.
type AgentConfig struct {
	MaxToolCallRounds int           `yaml:"max_tool_call_rounds"`
	MaxToolCalls      int           `yaml:"max_tool_calls"`
	ToolParallelism   int           `yaml:"tool_parallelism"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	ToolMaxAttempts   int           `yaml:"tool_max_attempts"`
	ToolRetryBackoff  time.Duration `yaml:"tool_retry_backoff"`
}

// PipelineConfig holds the retry budgets a named pipeline.Runner is
// constructed with; the stage graph itself (AgentFactory/InputFn/NextFn)
// is Go code, not config.
type PipelineConfig struct {
	MaxRetriesPerStage int `yaml:"max_retries_per_stage"`
	MaxTotalRetries    int `yaml:"max_total_retries"`
}

// Load reads and parses the configuration file, expanding $include
// directives and environment variable references before decoding.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyLLMDefaults(&cfg.LLM)
	applyPTYDefaults(&cfg.PTY)
	applyAgentDefaults(&cfg.Agent)
	applyTruncationDefaults(&cfg.ContextPruning)
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	for name, pipeline := range cfg.Pipelines {
		applyPipelineDefaults(&pipeline)
		cfg.Pipelines[name] = pipeline
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyPTYDefaults(cfg *PTYConfig) {
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	if cfg.Rows == 0 {
		cfg.Rows = 60
	}
	if cfg.SilenceTimeout == 0 {
		cfg.SilenceTimeout = 5 * time.Second
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = 16
	}
	if cfg.ExitCommand == "" {
		cfg.ExitCommand = "/exit"
	}
	if len(cfg.SuccessExitCodes) == 0 {
		cfg.SuccessExitCodes = []int{0, 1}
	}
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.MaxToolCallRounds == 0 {
		cfg.MaxToolCallRounds = 25
	}
	if cfg.ToolParallelism == 0 {
		cfg.ToolParallelism = 4
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.ToolMaxAttempts == 0 {
		cfg.ToolMaxAttempts = 1
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.MaxRetriesPerStage == 0 {
		cfg.MaxRetriesPerStage = 3
	}
	if cfg.MaxTotalRetries == 0 {
		cfg.MaxTotalRetries = 10
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyEnvOverrides lets MAGI_* environment variables override a loaded
// config file without editing it, the same override-after-decode shape
// the teacher used for its NEXUS_* variables.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("DESIGN_OUTPUT_DIR")); value != "" {
		cfg.DesignOutputDir = value
	}
	if value := strings.TrimSpace(os.Getenv("MAGI_METRICS_PORT")); value != "" {
		if parsed, err := parsePort(value); err == nil {
			cfg.Metrics.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("MAGI_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

func parsePort(value string) (int, error) {
	var port int
	_, err := fmt.Sscanf(value, "%d", &port)
	return port, err
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.PTY.DedupWindow < 0 {
		issues = append(issues, "pty.dedup_window must be >= 0")
	}
	if cfg.PTY.SilenceTimeout < 0 {
		issues = append(issues, "pty.silence_timeout must be >= 0")
	}

	if cfg.Agent.MaxToolCallRounds < 0 {
		issues = append(issues, "agent.max_tool_call_rounds must be >= 0")
	}
	if cfg.Agent.ToolParallelism < 0 {
		issues = append(issues, "agent.tool_parallelism must be >= 0")
	}

	for name, pipeline := range cfg.Pipelines {
		if pipeline.MaxRetriesPerStage < 0 {
			issues = append(issues, fmt.Sprintf("pipelines[%s].max_retries_per_stage must be >= 0", name))
		}
		if pipeline.MaxTotalRetries < 0 {
			issues = append(issues, fmt.Sprintf("pipelines[%s].max_total_retries must be >= 0", name))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
