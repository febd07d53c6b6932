package models

import "testing"

func TestNewFunctionCallOutput_EmptyOutputIsDistinctFromNone(t *testing.T) {
	out := NewFunctionCallOutput("call_1", "search", "", StatusCompleted)
	if out.Output != "" {
		t.Fatalf("expected empty output, got %q", out.Output)
	}
	if out.Kind != KindFunctionCallOutput {
		t.Fatalf("expected KindFunctionCallOutput, got %s", out.Kind)
	}
}

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "hello")
	if msg.Role != RoleUser || msg.Content != "hello" || msg.Status != StatusCompleted {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestNewFunctionCall(t *testing.T) {
	call := NewFunctionCall("call_1", "search", `{"q":"go"}`)
	if call.Kind != KindFunctionCall || call.CallID != "call_1" || call.Name != "search" {
		t.Fatalf("unexpected function call: %+v", call)
	}
}
