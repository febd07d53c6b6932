package providers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/magi/pkg/models"
)

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      AnthropicConfig
		expectError bool
	}{
		{
			name: "valid config",
			config: AnthropicConfig{
				APIKey:       "test-key",
				MaxRetries:   3,
				RetryDelay:   time.Second,
				DefaultModel: "claude-sonnet-4-20250514",
			},
			expectError: false,
		},
		{
			name:        "missing API key",
			config:      AnthropicConfig{MaxRetries: 3},
			expectError: true,
		},
		{
			name:        "defaults applied",
			config:      AnthropicConfig{APIKey: "test-key"},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAnthropicProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.maxRetries <= 0 {
				t.Error("expected default maxRetries to be applied")
			}
			if provider.retryDelay <= 0 {
				t.Error("expected default retryDelay to be applied")
			}
			if provider.defaultModel == "" {
				t.Error("expected default model to be applied")
			}
		})
	}
}

func TestAnthropicProvider_NameModelsSupportsTools(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", provider.Name())
	}
	if !provider.SupportsTools() {
		t.Error("expected SupportsTools() to be true")
	}
	if len(provider.Models()) == 0 {
		t.Error("expected at least one model")
	}
	for _, m := range provider.Models() {
		if m.Class == "" {
			t.Errorf("model %s has no class assigned", m.ID)
		}
	}
}

func TestAnthropicProvider_ConvertMessages(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := []models.Message{
		models.NewTextMessage(models.RoleSystem, "ignored, carried separately"),
		models.NewTextMessage(models.RoleUser, "hello"),
		models.NewTextMessage(models.RoleAssistant, "hi there"),
		models.NewFunctionCall("call-1", "search", `{"q":"go"}`),
		models.NewFunctionCallOutput("call-1", "search", "result text", models.StatusCompleted),
	}

	converted, err := provider.convertMessages(input)
	if err != nil {
		t.Fatalf("convertMessages() error: %v", err)
	}
	if len(converted) != 4 {
		t.Fatalf("expected 4 messages (system skipped), got %d", len(converted))
	}
}

func TestAnthropicProvider_ConvertMessages_InvalidToolArguments(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = provider.convertMessages([]models.Message{
		models.NewFunctionCall("call-1", "search", "not json"),
	})
	if err == nil {
		t.Fatal("expected error converting invalid tool call arguments")
	}
}

func TestAnthropicProvider_ConvertTools(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tools := []models.ToolDefinition{
		{
			Name:        "calculator",
			Description: "Performs arithmetic",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}}}`),
		},
	}

	converted, err := provider.convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools() error: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("expected 1 converted tool, got %d", len(converted))
	}
}

func TestAnthropicProvider_ConvertTools_InvalidSchema(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = provider.convertTools([]models.ToolDefinition{
		{Name: "broken", Parameters: json.RawMessage(`not json`)},
	})
	if err == nil {
		t.Fatal("expected error for invalid tool schema")
	}
}

func TestAnthropicProvider_GetModelDefaults(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", DefaultModel: "claude-opus-4-20250514"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := provider.getModel(""); got != "claude-opus-4-20250514" {
		t.Errorf("getModel(\"\") = %q, want default", got)
	}
	if got := provider.getModel("claude-3-haiku-20240307"); got != "claude-3-haiku-20240307" {
		t.Errorf("getModel(explicit) = %q, want explicit model", got)
	}
}

func TestAnthropicProvider_GetMaxTokensDefault(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := provider.getMaxTokens(0); got != 4096 {
		t.Errorf("getMaxTokens(0) = %d, want 4096", got)
	}
	if got := provider.getMaxTokens(2048); got != 2048 {
		t.Errorf("getMaxTokens(2048) = %d, want 2048", got)
	}
}

func TestAnthropicProvider_IsRetryableError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	retryable := []string{"rate_limit exceeded", "503 service unavailable", "request timeout", "connection reset by peer"}
	for _, msg := range retryable {
		if !provider.isRetryableError(errorString(msg)) {
			t.Errorf("expected %q to be retryable", msg)
		}
	}

	notRetryable := []string{"invalid api key", "400 bad request"}
	for _, msg := range notRetryable {
		if provider.isRetryableError(errorString(msg)) {
			t.Errorf("expected %q to not be retryable", msg)
		}
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
