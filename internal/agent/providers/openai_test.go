package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/magi/internal/agent"
	"github.com/haasonsaas/magi/pkg/models"
)

func TestOpenAIProvider_ConvertMessages(t *testing.T) {
	provider := &OpenAIProvider{}

	tests := []struct {
		name     string
		messages []models.Message
		system   string
		wantLen  int
	}{
		{
			name: "basic text messages",
			messages: []models.Message{
				models.NewTextMessage(models.RoleUser, "Hello"),
				models.NewTextMessage(models.RoleAssistant, "Hi there!"),
			},
			system:  "You are a helpful assistant",
			wantLen: 3,
		},
		{
			name: "function call and output",
			messages: []models.Message{
				models.NewTextMessage(models.RoleUser, "What's the weather?"),
				models.NewFunctionCall("call_123", "get_weather", `{"location":"NYC"}`),
				models.NewFunctionCallOutput("call_123", "get_weather", "Sunny, 72F", models.StatusCompleted),
			},
			wantLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.convertMessages(tt.messages, tt.system)
			if err != nil {
				t.Fatalf("convertMessages() error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("convertMessages() got %d messages, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestOpenAIProvider_ConvertTools(t *testing.T) {
	provider := &OpenAIProvider{}
	tools := []models.ToolDefinition{
		{
			Name:        "test_tool",
			Description: "A test tool",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"arg":{"type":"string"}}}`),
		},
	}

	got := provider.convertTools(tools)
	if len(got) != 1 {
		t.Fatalf("convertTools() got %d tools, want 1", len(got))
	}
	if got[0].Function.Name != "test_tool" {
		t.Errorf("convertTools() name = %v, want test_tool", got[0].Function.Name)
	}
}

func TestOpenAIProvider_NameSupportsToolsModels(t *testing.T) {
	provider := &OpenAIProvider{}
	if got := provider.Name(); got != "openai" {
		t.Errorf("Name() = %v, want openai", got)
	}
	if !provider.SupportsTools() {
		t.Error("SupportsTools() = false, want true")
	}

	models := provider.Models()
	if len(models) == 0 {
		t.Fatal("Models() returned empty list")
	}
	for _, m := range models {
		if m.ContextSize <= 0 {
			t.Errorf("model %s has invalid context size: %d", m.ID, m.ContextSize)
		}
		if m.Class == "" {
			t.Errorf("model %s has no class assigned", m.ID)
		}
	}
}

func TestOpenAIProvider_IsRetryableError(t *testing.T) {
	provider := &OpenAIProvider{maxRetries: 3, retryDelay: time.Millisecond * 10}

	tests := []struct {
		name      string
		err       error
		wantRetry bool
	}{
		{"rate limit error", fmt.Errorf("rate limit exceeded"), true},
		{"429 status", fmt.Errorf("HTTP 429"), true},
		{"500 server error", fmt.Errorf("HTTP 500"), true},
		{"timeout", fmt.Errorf("timeout exceeded"), true},
		{"invalid API key", fmt.Errorf("invalid API key"), false},
		{"no error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.isRetryableError(tt.err); got != tt.wantRetry {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestOpenAIProvider_StreamWithoutAPIKeyReturnsErrorEvent(t *testing.T) {
	provider := NewOpenAIProvider("")
	req := &agent.CompletionRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []models.Message{models.NewTextMessage(models.RoleUser, "Hello")},
	}

	ch, err := provider.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var last models.StreamingEvent
	for evt := range ch {
		last = evt
	}
	if last.Type != models.EventError {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
}
