package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/magi/pkg/models"
)

// scriptedRouter replays a fixed sequence of event batches, one batch per
// call to Stream, regardless of the requested class.
type scriptedRouter struct {
	batches [][]models.StreamingEvent
	calls   int
}

func (r *scriptedRouter) Stream(ctx context.Context, req *CompletionRequest, class models.ModelClass) (<-chan models.StreamingEvent, error) {
	i := r.calls
	r.calls++
	ch := make(chan models.StreamingEvent, len(r.batches[i]))
	for _, evt := range r.batches[i] {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func drainEvents(t *testing.T, ch <-chan models.StreamingEvent) []models.StreamingEvent {
	t.Helper()
	var got []models.StreamingEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestRunStreamed_NoToolCallsEndsAfterOneTurn(t *testing.T) {
	router := &scriptedRouter{batches: [][]models.StreamingEvent{
		{
			{Type: models.EventMessageStart},
			{Type: models.EventMessageDelta, Delta: "hi"},
			{Type: models.EventMessageComplete, Status: models.StatusCompleted},
		},
	}}

	rt := NewRuntime(router, NewToolRegistry(), NewExecutor(NewToolRegistry(), nil), RunOptions{})
	def := &models.AgentDefinition{Name: "greeter", Instructions: "be nice"}

	ch, err := rt.RunStreamed(context.Background(), def, "hello", nil)
	if err != nil {
		t.Fatalf("RunStreamed() error: %v", err)
	}
	events := drainEvents(t, ch)
	if router.calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", router.calls)
	}
	last := events[len(events)-1]
	if last.Type != models.EventMessageComplete {
		t.Fatalf("expected terminal message_complete, got %+v", last)
	}
	for _, evt := range events {
		if evt.Agent == nil || evt.Agent.Name != "greeter" {
			t.Fatalf("expected every event tagged with the agent export, got %+v", evt)
		}
	}
}

func TestRunStreamed_ToolCallDispatchesAndContinues(t *testing.T) {
	router := &scriptedRouter{batches: [][]models.StreamingEvent{
		{
			{Type: models.EventToolStart, ToolCallID: "call-1", ToolName: "echo"},
			{Type: models.EventToolDelta, ToolCallID: "call-1", ToolArgsJSON: `{"text":`},
			{Type: models.EventToolDelta, ToolCallID: "call-1", ToolArgsJSON: `"hi"}`},
			{Type: models.EventToolDone, ToolCallID: "call-1"},
		},
		{
			{Type: models.EventMessageStart},
			{Type: models.EventMessageDelta, Delta: "done"},
			{Type: models.EventMessageComplete, Status: models.StatusCompleted},
		},
	}}

	registry := NewToolRegistry()
	var gotArgs string
	registry.Register(&mockTool{
		name:   "echo",
		schema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			gotArgs = string(params)
			return &ToolResult{Content: "echoed"}, nil
		},
	})

	rt := NewRuntime(router, registry, NewExecutor(registry, nil), RunOptions{})
	def := &models.AgentDefinition{Name: "worker"}

	ch, err := rt.RunStreamed(context.Background(), def, "echo hi", nil)
	if err != nil {
		t.Fatalf("RunStreamed() error: %v", err)
	}
	events := drainEvents(t, ch)
	if router.calls != 2 {
		t.Fatalf("expected a continuation turn after the tool call, got %d calls", router.calls)
	}
	if gotArgs != `{"text":"hi"}` {
		t.Fatalf("tool received args %q, want merged fragments", gotArgs)
	}
	last := events[len(events)-1]
	if last.Type != models.EventMessageComplete {
		t.Fatalf("expected terminal message_complete, got %+v", last)
	}
}

func TestRunStreamed_TaskCompleteEndsRunWithoutFurtherModelCalls(t *testing.T) {
	router := &scriptedRouter{batches: [][]models.StreamingEvent{
		{
			{Type: models.EventToolStart, ToolCallID: "call-1", ToolName: ToolTaskComplete},
			{Type: models.EventToolDone, ToolCallID: "call-1", ToolArgsJSON: `{"result":"42"}`},
		},
	}}

	registry := NewToolRegistry()
	rt := NewRuntime(router, registry, NewExecutor(registry, nil), RunOptions{})
	def := &models.AgentDefinition{Name: "solver"}

	ch, err := rt.RunStreamed(context.Background(), def, "solve it", nil)
	if err != nil {
		t.Fatalf("RunStreamed() error: %v", err)
	}
	events := drainEvents(t, ch)
	if router.calls != 1 {
		t.Fatalf("expected no continuation call after task_complete, got %d", router.calls)
	}
	last := events[len(events)-1]
	if last.Type != models.EventMessageComplete || last.Content != "42" {
		t.Fatalf("expected terminal message_complete carrying the result, got %+v", last)
	}
}

func TestRunStreamed_TaskFatalErrorEndsRunWithErrorEvent(t *testing.T) {
	router := &scriptedRouter{batches: [][]models.StreamingEvent{
		{
			{Type: models.EventToolStart, ToolCallID: "call-1", ToolName: ToolTaskFatalError},
			{Type: models.EventToolDone, ToolCallID: "call-1", ToolArgsJSON: `{"error":"unrecoverable"}`},
		},
	}}

	registry := NewToolRegistry()
	rt := NewRuntime(router, registry, NewExecutor(registry, nil), RunOptions{})
	def := &models.AgentDefinition{Name: "solver"}

	ch, err := rt.RunStreamed(context.Background(), def, "solve it", nil)
	if err != nil {
		t.Fatalf("RunStreamed() error: %v", err)
	}
	events := drainEvents(t, ch)
	last := events[len(events)-1]
	if last.Type != models.EventError || last.Error != "unrecoverable" {
		t.Fatalf("expected terminal error event carrying the fatal message, got %+v", last)
	}
}

func TestRunStreamed_MaxToolCallRoundsTerminatesLoop(t *testing.T) {
	var batches [][]models.StreamingEvent
	for i := 0; i < 10; i++ {
		batches = append(batches, []models.StreamingEvent{
			{Type: models.EventToolStart, ToolCallID: "call-loop", ToolName: "noop"},
			{Type: models.EventToolDone, ToolCallID: "call-loop", ToolArgsJSON: `{}`},
		})
	}
	router := &scriptedRouter{batches: batches}

	registry := NewToolRegistry()
	registry.Register(&mockTool{name: "noop", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "ok"}, nil
	}})

	rt := NewRuntime(router, registry, NewExecutor(registry, nil), RunOptions{MaxToolCallRounds: 2})
	def := &models.AgentDefinition{Name: "looper"}

	ch, err := rt.RunStreamed(context.Background(), def, "loop forever", nil)
	if err != nil {
		t.Fatalf("RunStreamed() error: %v", err)
	}
	events := drainEvents(t, ch)
	if router.calls != 2 {
		t.Fatalf("expected exactly MaxToolCallRounds model calls, got %d", router.calls)
	}
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("expected terminal error on round exhaustion, got %+v", last)
	}
}
