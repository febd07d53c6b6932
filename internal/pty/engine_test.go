package pty

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/magi/pkg/models"
)

func drainEvents(t *testing.T, h *Handle, timeout time.Duration) []models.StreamingEvent {
	t.Helper()
	var got []models.StreamingEvent
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-h.Events():
			if !ok {
				return got
			}
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("timed out waiting for events, collected so far: %+v", got)
		}
	}
}

func TestRunPTY_SuccessfulExitClosesWithoutTerminalEvent(t *testing.T) {
	h, err := RunPTY(context.Background(), "/bin/sh", []string{"-c", "echo hello world; exit 0"}, Options{
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("RunPTY failed: %v", err)
	}

	events := drainEvents(t, h, 5*time.Second)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if events[0].Type != models.EventMessageStart {
		t.Fatalf("expected first event to be message_start, got %v", events[0].Type)
	}
	// spec.md §4.1: raw stream has no final message_complete on success.
	for _, e := range events {
		if e.Type == models.EventMessageComplete || e.Type == models.EventError {
			t.Fatalf("expected no terminal event on successful exit, got %v", e.Type)
		}
	}

	var content strings.Builder
	for _, e := range events {
		content.WriteString(e.Delta)
	}
	if !strings.Contains(content.String(), "hello world") {
		t.Fatalf("expected output to contain 'hello world', got %q", content.String())
	}

	for i := 1; i < len(events); i++ {
		if events[i].Order <= events[i-1].Order {
			t.Fatalf("expected strictly increasing order, got %d then %d", events[i-1].Order, events[i].Order)
		}
	}
}

func TestRunPTY_NonSuccessExitEmitsError(t *testing.T) {
	h, err := RunPTY(context.Background(), "/bin/sh", []string{"-c", "exit 3"}, Options{
		WorkDir:          t.TempDir(),
		SuccessExitCodes: []int{0},
	})
	if err != nil {
		t.Fatalf("RunPTY failed: %v", err)
	}

	events := drainEvents(t, h, 5*time.Second)
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("expected terminal error event for exit code 3, got %v", last.Type)
	}
	if !strings.Contains(last.Error, "3") {
		t.Fatalf("expected error to mention exit code 3, got %q", last.Error)
	}
}

func TestRunPTY_KillTerminatesLongRunningProcess(t *testing.T) {
	h, err := RunPTY(context.Background(), "/bin/sh", []string{"-c", "sleep 30"}, Options{
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("RunPTY failed: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = h.Kill()
	}()

	events := drainEvents(t, h, 15*time.Second)
	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("expected killed process to terminate with an error event, got %v", last.Type)
	}
}

func TestRunPTY_CompleteSentinelTriggersCleanExitWithNoContent(t *testing.T) {
	h, err := RunPTY(context.Background(), "/bin/sh", []string{"-c", "echo [complete]"}, Options{
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("RunPTY failed: %v", err)
	}

	events := drainEvents(t, h, 5*time.Second)
	for _, e := range events {
		if e.Type == models.EventError {
			t.Fatalf("expected no error event for a clean [complete] exit, got %v", e.Error)
		}
		if e.Type == models.EventMessageDelta && e.Delta != "" {
			t.Fatalf("expected the [complete] line itself to be suppressed, got delta %q", e.Delta)
		}
	}
}

func TestRegistry_PauseResumeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Pause()
	r.Pause()
	if !r.IsPaused() {
		t.Fatal("expected registry to be paused")
	}
	r.Resume()
	r.Resume()
	if r.IsPaused() {
		t.Fatal("expected registry to be resumed")
	}
}
