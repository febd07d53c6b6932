package config

import (
	"strings"

	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
)

// TruncationConfig configures how a run's message history is reduced once
// it grows past the provider's context window, read opaquely into an
// internal/agent/context.Truncator.
type TruncationConfig struct {
	// Strategy is one of "oldest", "middle", or "none". Defaults to "oldest".
	Strategy string `yaml:"strategy"`

	// MaxTokens is the budget a Truncator trims down to.
	MaxTokens int `yaml:"max_tokens"`

	// KeepFirst is the number of leading messages (e.g. the system
	// prompt) never truncated. Defaults to 1.
	KeepFirst int `yaml:"keep_first"`

	// KeepLast is the number of trailing messages always kept. Defaults to 2.
	KeepLast int `yaml:"keep_last"`
}

// BuildTruncator converts cfg into a Truncator. Returns nil when MaxTokens
// is zero, meaning pruning is disabled.
func BuildTruncator(cfg TruncationConfig) *agentcontext.Truncator {
	if cfg.MaxTokens <= 0 {
		return nil
	}

	strategy := agentcontext.TruncationStrategy(strings.ToLower(strings.TrimSpace(cfg.Strategy)))
	switch strategy {
	case agentcontext.TruncateOldest, agentcontext.TruncateMiddle, agentcontext.TruncateNone:
	default:
		strategy = agentcontext.TruncateOldest
	}

	truncator := agentcontext.NewTruncator(strategy, cfg.MaxTokens)
	if cfg.KeepFirst > 0 {
		truncator.SetKeepFirst(cfg.KeepFirst)
	}
	if cfg.KeepLast > 0 {
		truncator.SetKeepLast(cfg.KeepLast)
	}
	return truncator
}

func applyTruncationDefaults(cfg *TruncationConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = string(agentcontext.TruncateOldest)
	}
	if cfg.KeepFirst == 0 {
		cfg.KeepFirst = 1
	}
	if cfg.KeepLast == 0 {
		cfg.KeepLast = 2
	}
}
