// Package pipeline implements the Pipeline Runner: a named, finite stage
// graph whose transitions are computed from each stage's own output, per
// spec.md §4.4.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/magi/internal/agent"
	"github.com/haasonsaas/magi/pkg/models"
)

// Sentinel errors for RunSequential's terminal failure modes.
var (
	ErrUnknownStage          = errors.New("pipeline: unknown stage")
	ErrStageRetriesExceeded  = errors.New("pipeline: stage exceeded its retry budget")
	ErrTotalRetriesExceeded  = errors.New("pipeline: total retry budget exceeded")
	ErrNoAgentDefinition     = errors.New("pipeline: stage's AgentFactory returned nil")
)

// InputFn builds the message history handed to a stage's agent from the
// pipeline's running history and the outputs recorded by prior stages.
// A nil InputFn means the stage runs against the unmodified history.
type InputFn func(history []models.Message, lastOutput map[string]string) []models.Message

// AgentFactory returns the AgentDefinition that should execute a stage.
// Called fresh on every invocation of the stage, so a factory that clones
// a template definition per call keeps concurrent pipeline runs isolated.
type AgentFactory func() *models.AgentDefinition

// NextFn inspects a stage's aggregated output and decides the transition:
// ("", false) means the pipeline has succeeded; (name, true) continues at
// "name" — the stage's own name is a retry of this stage, any other known
// stage name is a forward-or-back jump to it.
type NextFn func(output string) (string, bool)

// Stage is one node of a pipeline's stage graph.
type Stage struct {
	InputFn      InputFn
	AgentFactory AgentFactory
	NextFn       NextFn
}

// Pipeline is a named, finite stage graph. Start names the first stage run
// by RunSequential.
type Pipeline struct {
	Name   string
	Start  string
	Stages map[string]Stage
}

// StageRun records one executed invocation of a stage, in execution order.
type StageRun struct {
	Stage   string
	Output  string
	Attempt int
}

// Result is the outcome of a successful RunSequential call.
type Result struct {
	Output     string
	LastOutput map[string]string
	Runs       []StageRun
}

// StageError reports which stage and attempt a RunSequential call failed
// at, grounded on the Agent Runtime's own LoopError phase-tagging shape.
type StageError struct {
	Pipeline string
	Stage    string
	Attempt  int
	Cause    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q stage %q (attempt %d): %v", e.Pipeline, e.Stage, e.Attempt, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Runner drives Pipeline stage graphs through an internal/agent.Runtime.
type Runner struct {
	runtime            *agent.Runtime
	maxRetriesPerStage int
	maxTotalRetries    int
}

// NewRunner creates a Runner bound to runtime. maxRetriesPerStage bounds
// how many times any single stage may be re-invoked (whether by a literal
// same-stage retry or a loop-back through an earlier stage);
// maxTotalRetries bounds the sum of every stage's retries across the
// whole run, per spec.md §4.4 and the pipeline-loopback scenario in §8.
func NewRunner(runtime *agent.Runtime, maxRetriesPerStage, maxTotalRetries int) *Runner {
	return &Runner{
		runtime:            runtime,
		maxRetriesPerStage: maxRetriesPerStage,
		maxTotalRetries:    maxTotalRetries,
	}
}

// RunSequential executes p starting at p.Start with history = [{user,
// input}] and lastOutput = {}, per spec.md §4.4's four-step algorithm.
// ctx's EventSink (internal/agent.WithEventSink), if any, receives every
// event from each stage's underlying RunStreamed call, same forwarding
// mechanism as internal/agent/subagent's sub-agent-as-tool adapter.
func (r *Runner) RunSequential(ctx context.Context, p Pipeline, input string) (*Result, error) {
	if _, ok := p.Stages[p.Start]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, p.Start)
	}

	sink, hasSink := agent.EventSinkFromContext(ctx)

	history := []models.Message{models.NewTextMessage(models.RoleUser, input)}
	lastOutput := make(map[string]string)
	seen := make(map[string]int) // stage name -> invocation count so far
	stageRetries := make(map[string]int)
	totalRetries := 0

	current := p.Start
	var runs []StageRun

	for {
		stage, ok := p.Stages[current]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, current)
		}

		if seen[current] > 0 {
			stageRetries[current]++
			totalRetries++
			if stageRetries[current] > r.maxRetriesPerStage {
				return nil, &StageError{Pipeline: p.Name, Stage: current, Attempt: seen[current] + 1, Cause: ErrStageRetriesExceeded}
			}
			if totalRetries > r.maxTotalRetries {
				return nil, &StageError{Pipeline: p.Name, Stage: current, Attempt: seen[current] + 1, Cause: ErrTotalRetriesExceeded}
			}
		}
		seen[current]++

		effectiveHistory := history
		if stage.InputFn != nil {
			effectiveHistory = stage.InputFn(history, lastOutput)
		}

		def := stage.AgentFactory()
		if def == nil {
			return nil, &StageError{Pipeline: p.Name, Stage: current, Attempt: seen[current], Cause: ErrNoAgentDefinition}
		}

		// input is carried solely via effectiveHistory (history[0] is the
		// original user message, per spec.md §4.4's forwarding rule); passing
		// it again as RunStreamed's own input parameter would duplicate it,
		// since assemblePrompt appends a non-empty input as a trailing
		// message on top of history.
		events, err := r.runtime.RunStreamed(ctx, def, "", effectiveHistory)
		if err != nil {
			return nil, &StageError{Pipeline: p.Name, Stage: current, Attempt: seen[current], Cause: err}
		}

		output, runErr := drainStage(ctx, events, sink, hasSink)
		if runErr != nil {
			return nil, &StageError{Pipeline: p.Name, Stage: current, Attempt: seen[current], Cause: runErr}
		}

		lastOutput[current] = output
		runs = append(runs, StageRun{Stage: current, Output: output, Attempt: seen[current]})
		history = append(history, models.NewTextMessage(models.RoleAssistant, output))

		next, hasNext := stage.NextFn(output)
		if !hasNext {
			return &Result{Output: output, LastOutput: lastOutput, Runs: runs}, nil
		}
		current = next
	}
}

// drainStage accumulates a stage's aggregated assistant text from its
// RunStreamed channel, forwarding every event to sink if present. Mirrors
// internal/agent/subagent.Tool.Execute's own drain loop.
func drainStage(ctx context.Context, events <-chan models.StreamingEvent, sink agent.EventSink, hasSink bool) (string, error) {
	var text []byte
	var runErr error

	for evt := range events {
		if hasSink {
			sink(ctx, evt)
		}
		switch evt.Type {
		case models.EventMessageDelta:
			text = append(text, evt.Delta...)
		case models.EventMessageComplete:
			if evt.Content != "" {
				text = []byte(evt.Content)
			}
		case models.EventError:
			runErr = errors.New(evt.Error)
		}
	}

	if runErr != nil {
		return "", runErr
	}
	return string(text), nil
}
