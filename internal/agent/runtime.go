package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/magi/pkg/models"
)

// DefaultMaxToolCallRounds bounds tool-call rounds within a single run when
// neither AgentDefinition.MaxToolCallRounds nor RunOptions.MaxToolCallRounds
// say otherwise (§4.3 step 5). Tuned down from the teacher's
// LoopConfig.MaxIterations default of 10, since spec.md calls for "small."
const DefaultMaxToolCallRounds = 8

// Reserved tool names the dispatcher recognizes as run-ending signals
// (§4.3 step 6, §9). Neither is ever looked up in the Tool Registry.
const (
	ToolTaskComplete   = "task_complete"
	ToolTaskFatalError = "task_fatal_error"
)

// ModelRouter is the narrow interface RunStreamed depends on for model
// selection. routing.Router satisfies it; the interface lives here instead
// of there so internal/agent does not import internal/agent/routing, which
// imports internal/agent.
type ModelRouter interface {
	Stream(ctx context.Context, req *CompletionRequest, class models.ModelClass) (<-chan models.StreamingEvent, error)
}

// Runtime implements the Agent Runtime (§4.3): model selection via a
// ModelRouter, prompt assembly, stream forwarding, tool dispatch through a
// ToolRegistry/Executor pair, and turn continuation.
type Runtime struct {
	router   ModelRouter
	registry *ToolRegistry
	executor *Executor
	opts     RunOptions
}

// NewRuntime builds a Runtime. opts fills in any fields DefaultRunOptions
// leaves unset.
func NewRuntime(router ModelRouter, registry *ToolRegistry, executor *Executor, opts RunOptions) *Runtime {
	return &Runtime{
		router:   router,
		registry: registry,
		executor: executor,
		opts:     mergeRunOptions(DefaultRunOptions(), opts),
	}
}

// dispatchKind discriminates the outcome of one tool-dispatch round.
// task_complete/task_fatal_error unwind the run as an explicit result
// variant here rather than as an ambient Go exception (§9).
type dispatchKind int

const (
	dispatchContinue dispatchKind = iota
	dispatchTaskComplete
	dispatchTaskFatalError
)

// dispatchOutcome is what one round of tool dispatch produced: messages to
// append to history, and whether the run should continue.
type dispatchOutcome struct {
	kind    dispatchKind
	result  string
	fatal   error
	outputs []models.Message
}

// RunStreamed runs def against input and history (§4.3). Events on the
// returned channel are tagged with def's AgentExport. opts, if given,
// overrides the Runtime's own RunOptions for this call only.
func (rt *Runtime) RunStreamed(ctx context.Context, def *models.AgentDefinition, input string, history []models.Message, opts ...RunOptions) (<-chan models.StreamingEvent, error) {
	if def == nil {
		return nil, fmt.Errorf("agent runtime: definition is nil")
	}

	runOpts := rt.opts
	if len(opts) > 0 {
		runOpts = mergeRunOptions(rt.opts, opts[0])
	}

	export := &models.AgentExport{
		AgentID: uuid.NewString(),
		Name:    def.Name,
		Model:   def.Model,
	}

	out := make(chan models.StreamingEvent, 8)
	go rt.run(ctx, def, input, history, runOpts, export, out)
	return out, nil
}

func (rt *Runtime) run(ctx context.Context, def *models.AgentDefinition, input string, history []models.Message, opts RunOptions, export *models.AgentExport, out chan<- models.StreamingEvent) {
	defer close(out)

	maxRounds := def.MaxToolCallRounds
	if maxRounds <= 0 {
		maxRounds = opts.MaxToolCallRounds
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolCallRounds
	}

	// ModelClass inference for agents that leave it unset is the caller's
	// job (routing.InferClass); internal/agent cannot import
	// internal/agent/routing without a cycle. Standard is the safe default.
	class := def.ModelClass
	if class == "" {
		class = models.ClassStandard
	}

	messages := assemblePrompt(def, input, history, export)
	totalToolCalls := 0

	for turn := 0; ; turn++ {
		req := &CompletionRequest{
			Model:    def.Model,
			Messages: messages,
			Tools:    def.Tools,
		}

		ch, err := rt.router.Stream(ctx, req, class)
		if err != nil {
			emit(ctx, out, models.StreamingEvent{Type: models.EventError, Agent: export, Error: err.Error()})
			return
		}

		text, calls, streamErr := rt.forward(ctx, ch, export, out)
		if streamErr != nil {
			return
		}
		if len(calls) == 0 {
			return
		}

		if opts.MaxToolCalls > 0 && totalToolCalls+len(calls) > opts.MaxToolCalls {
			emit(ctx, out, models.StreamingEvent{
				Type:  models.EventError,
				Agent: export,
				Error: fmt.Sprintf("agent runtime: tool calls exceed maximum of %d for run", opts.MaxToolCalls),
			})
			return
		}
		totalToolCalls += len(calls)

		if text != "" {
			messages = append(messages, models.NewTextMessage(models.RoleAssistant, text))
		}
		for _, c := range calls {
			messages = append(messages, models.NewFunctionCall(c.ID, c.Name, c.Arguments))
		}

		dispatchCtx := WithParentAgent(WithEventSink(ctx, func(c context.Context, evt models.StreamingEvent) {
			emit(c, out, evt)
		}), export)
		outcome := rt.dispatch(dispatchCtx, def, calls, export, turn)
		messages = append(messages, outcome.outputs...)

		switch outcome.kind {
		case dispatchTaskComplete:
			emit(ctx, out, models.StreamingEvent{
				Type:    models.EventMessageComplete,
				Agent:   export,
				Content: outcome.result,
				Status:  models.StatusCompleted,
			})
			return
		case dispatchTaskFatalError:
			emit(ctx, out, models.StreamingEvent{Type: models.EventError, Agent: export, Error: outcome.fatal.Error()})
			return
		}

		if turn+1 >= maxRounds {
			err := fmt.Errorf("%w: reached max tool-call rounds (%d)", ErrMaxIterations, maxRounds)
			emit(ctx, out, models.StreamingEvent{Type: models.EventError, Agent: export, Error: err.Error()})
			return
		}

		select {
		case <-ctx.Done():
			emit(ctx, out, models.StreamingEvent{Type: models.EventError, Agent: export, Error: ctx.Err().Error()})
			return
		default:
		}
	}
}

// assemblePrompt builds the initial message list: instructions as a system
// message, caller-supplied history, onRequest hook additions, then the new
// user input (§4.3 step 2).
func assemblePrompt(def *models.AgentDefinition, input string, history []models.Message, export *models.AgentExport) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	if def.Instructions != "" {
		messages = append(messages, models.Message{
			Kind:    models.KindText,
			Role:    models.RoleSystem,
			Content: def.Instructions,
			Status:  models.StatusCompleted,
		})
	}
	messages = append(messages, history...)

	if def.Hooks != nil && def.Hooks.OnRequest != nil {
		hookCtx := models.HookContext{AgentID: export.AgentID, Turn: 0}
		messages = append(messages, def.Hooks.OnRequest(hookCtx)...)
	}

	if input != "" {
		messages = append(messages, models.NewTextMessage(models.RoleUser, input))
	}
	return messages
}

// toolAccum gathers the fragments of one in-progress tool call across its
// tool_start/tool_delta*/tool_done events.
type toolAccum struct {
	name string
	args strings.Builder
}

// forward reads evt off ch, tags each with export, and forwards it to out.
// It accumulates assistant text and completed tool calls along the way
// (§4.3 step 3). It returns once ch closes or the context is cancelled.
func (rt *Runtime) forward(ctx context.Context, ch <-chan models.StreamingEvent, export *models.AgentExport, out chan<- models.StreamingEvent) (text string, calls []models.ToolCall, streamErr error) {
	var textBuilder strings.Builder
	pending := make(map[string]*toolAccum)

	for evt := range ch {
		evt.Agent = export
		if !emit(ctx, out, evt) {
			return textBuilder.String(), calls, ctx.Err()
		}

		switch evt.Type {
		case models.EventMessageDelta:
			textBuilder.WriteString(evt.Delta)
		case models.EventToolStart:
			pending[evt.ToolCallID] = &toolAccum{name: evt.ToolName}
		case models.EventToolDelta:
			if acc, ok := pending[evt.ToolCallID]; ok {
				acc.args.WriteString(evt.ToolArgsJSON)
			}
		case models.EventToolDone:
			acc, ok := pending[evt.ToolCallID]
			name := evt.ToolName
			args := evt.ToolArgsJSON
			if ok {
				if name == "" {
					name = acc.name
				}
				if args == "" {
					args = acc.args.String()
				}
				delete(pending, evt.ToolCallID)
			}
			calls = append(calls, models.ToolCall{ID: evt.ToolCallID, Name: name, Arguments: args})
		case models.EventError:
			streamErr = fmt.Errorf("%s", evt.Error)
		}
	}
	return textBuilder.String(), calls, streamErr
}

// dispatch runs one round of tool calls (§4.3 step 4) and recognizes
// task_complete/task_fatal_error as reserved signal names (§4.3 step 6). A
// signal found among calls short-circuits the round: no further tool is
// executed, and its companion function-call-output is synthesized directly
// rather than run through the Tool Registry.
func (rt *Runtime) dispatch(ctx context.Context, def *models.AgentDefinition, calls []models.ToolCall, export *models.AgentExport, turn int) dispatchOutcome {
	for _, call := range calls {
		switch call.Name {
		case ToolTaskComplete:
			result := extractSignalField(call.Arguments, "result")
			return dispatchOutcome{
				kind:    dispatchTaskComplete,
				result:  result,
				outputs: []models.Message{models.NewFunctionCallOutput(call.ID, call.Name, result, models.StatusCompleted)},
			}
		case ToolTaskFatalError:
			msg := extractSignalField(call.Arguments, "error")
			return dispatchOutcome{
				kind:    dispatchTaskFatalError,
				fatal:   fmt.Errorf("%s", msg),
				outputs: []models.Message{models.NewFunctionCallOutput(call.ID, call.Name, msg, models.StatusIncomplete)},
			}
		}
	}

	hookCtx := models.HookContext{AgentID: export.AgentID, Turn: turn}
	if def.Hooks != nil && def.Hooks.OnToolCall != nil {
		for _, call := range calls {
			def.Hooks.OnToolCall(hookCtx, call)
		}
	}

	var results []*ExecutionResult
	if def.Sequential {
		results = make([]*ExecutionResult, len(calls))
		for i, call := range calls {
			results[i] = rt.executor.Execute(ctx, call)
		}
	} else {
		results = rt.executor.ExecuteAll(ctx, calls)
	}

	outputs := make([]models.Message, 0, len(results))
	for i, res := range results {
		call := calls[i]
		switch {
		case res.Error != nil:
			if def.Hooks != nil && def.Hooks.OnToolResult != nil {
				def.Hooks.OnToolResult(hookCtx, call, "", res.Error)
			}
			outputs = append(outputs, models.NewFunctionCallOutput(call.ID, call.Name, res.Error.Error(), models.StatusIncomplete))
		case res.Result != nil:
			status := models.StatusCompleted
			if res.Result.IsError {
				status = models.StatusIncomplete
			}
			if def.Hooks != nil && def.Hooks.OnToolResult != nil {
				def.Hooks.OnToolResult(hookCtx, call, res.Result.Content, nil)
			}
			outputs = append(outputs, models.NewFunctionCallOutput(call.ID, call.Name, res.Result.Content, status))
		default:
			outputs = append(outputs, models.NewFunctionCallOutput(call.ID, call.Name, "", models.StatusIncomplete))
		}
	}

	return dispatchOutcome{kind: dispatchContinue, outputs: outputs}
}

// extractSignalField pulls a named string field out of a task_complete or
// task_fatal_error call's JSON arguments, treating "" as "{}" per §8.
func extractSignalField(arguments, field string) string {
	args := arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		return args
	}
	v, ok := decoded[field]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return ""
}

// emit sends evt on out, returning false instead of blocking forever if ctx
// is cancelled first.
func emit(ctx context.Context, out chan<- models.StreamingEvent, evt models.StreamingEvent) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
