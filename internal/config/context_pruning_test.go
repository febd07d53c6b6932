package config

import "testing"

func TestBuildTruncatorDisabledWhenMaxTokensZero(t *testing.T) {
	if got := BuildTruncator(TruncationConfig{}); got != nil {
		t.Fatalf("expected nil truncator when max_tokens is 0, got %v", got)
	}
}

func TestBuildTruncatorAppliesStrategyDefault(t *testing.T) {
	truncator := BuildTruncator(TruncationConfig{MaxTokens: 1000})
	if truncator == nil {
		t.Fatal("expected non-nil truncator")
	}
}

func TestApplyTruncationDefaults(t *testing.T) {
	cfg := TruncationConfig{}
	applyTruncationDefaults(&cfg)
	if cfg.Strategy != "oldest" {
		t.Fatalf("expected default strategy 'oldest', got %q", cfg.Strategy)
	}
	if cfg.KeepFirst != 1 || cfg.KeepLast != 2 {
		t.Fatalf("expected default keep_first=1 keep_last=2, got %d/%d", cfg.KeepFirst, cfg.KeepLast)
	}
}
