// Package subagent adapts an internal/agent.Runtime into a Tool a parent
// agent can call to delegate work to a specialized worker agent, per
// spec.md §4.3's sub-agent-as-tool composition.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	"github.com/haasonsaas/magi/pkg/models"
)

// schema is exactly {prompt: string (required), working_directory: string
// (optional)} per spec.md §4.3 — a deliberate narrowing of the teacher's
// internal/tools/subagent/spawn.go SpawnTool.Schema(), which also carried
// name/allowed_tools/denied_tools. Those are replaced here by one Tool
// instance per worker AgentDefinition (see Manager.Tool): the worker's own
// name and tool-policy already came from wherever the parent's
// ToolRegistry was assembled.
const schemaJSON = `{"type":"object","properties":{"prompt":{"type":"string","description":"The task or question to hand to the sub-agent."},"working_directory":{"type":"string","description":"Working directory the sub-agent's own tools should resolve relative paths against."}},"required":["prompt"]}`

// Run records one sub-agent invocation's lifecycle, grounded on the
// teacher's SubAgent struct, trimmed to the fields this schema supports.
type Run struct {
	ID          string
	WorkerName  string
	Prompt      string
	WorkingDir  string
	Status      string // running, completed, failed
	CreatedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string
}

// Manager tracks active and completed sub-agent runs and enforces a
// concurrency cap, grounded on the teacher's Manager (atomic activeCount +
// maxActive, announcer callback).
type Manager struct {
	mu        sync.RWMutex
	runtime   *agent.Runtime
	runs      map[string]*Run
	maxActive int
	active    int64
	announcer func(ctx context.Context, workerName, prompt string)
}

// NewManager creates a Manager bound to runtime, which drives every
// sub-agent's RunStreamed call. maxActive caps concurrently running
// sub-agents across all Tool instances sharing this Manager; zero defaults
// to 5, matching the teacher's default.
func NewManager(runtime *agent.Runtime, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &Manager{
		runtime:   runtime,
		runs:      make(map[string]*Run),
		maxActive: maxActive,
	}
}

// SetAnnouncer sets a callback invoked (best-effort) each time a sub-agent
// run starts.
func (m *Manager) SetAnnouncer(fn func(ctx context.Context, workerName, prompt string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcer = fn
}

// Get returns a recorded run by ID.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// ActiveCount returns the number of sub-agent runs currently in flight.
func (m *Manager) ActiveCount() int {
	return int(atomic.LoadInt64(&m.active))
}

// Tool returns a Tool delegating to worker. Register one per entry of an
// AgentDefinition's Workers list; the tool's name is the worker's own name,
// so the parent model calls it exactly like any other declared tool.
func (m *Manager) Tool(worker *models.AgentDefinition) *Tool {
	return &Tool{manager: m, worker: worker}
}

// RegisterWorkers registers one Tool per entry of workers into registry,
// the usual way an AgentDefinition's own Workers list is turned into
// callable sub-agent tools before a run.
func RegisterWorkers(registry *agent.ToolRegistry, manager *Manager, workers []*models.AgentDefinition) {
	for _, worker := range workers {
		registry.Register(manager.Tool(worker))
	}
}

// record inserts a new running Run, enforcing maxActive. Returns an error
// if the cap is already reached.
func (m *Manager) record(worker *models.AgentDefinition, prompt, workingDir string) (*Run, error) {
	if atomic.AddInt64(&m.active, 1) > int64(m.maxActive) {
		atomic.AddInt64(&m.active, -1)
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}

	run := &Run{
		ID:         uuid.NewString(),
		WorkerName: worker.Name,
		Prompt:     prompt,
		WorkingDir: workingDir,
		Status:     "running",
		CreatedAt:  time.Now(),
	}
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	return run, nil
}

func (m *Manager) complete(id, result, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return
	}
	run.CompletedAt = time.Now()
	if errMsg != "" {
		run.Status = "failed"
		run.Error = errMsg
	} else {
		run.Status = "completed"
		run.Result = result
	}
}

// Tool implements agent.Tool by delegating one call to a single worker
// AgentDefinition via Manager.
type Tool struct {
	manager *Manager
	worker  *models.AgentDefinition
}

func (t *Tool) Name() string { return t.worker.Name }

func (t *Tool) Description() string {
	if t.worker.Description != "" {
		return t.worker.Description
	}
	return fmt.Sprintf("Delegate a task to the %q sub-agent.", t.worker.Name)
}

func (t *Tool) Schema() json.RawMessage { return json.RawMessage(schemaJSON) }

// Execute spawns a run of t.worker against the given prompt and blocks
// until it completes, forwarding every event from the nested RunStreamed
// stream to the outer stream via the EventSink carried on ctx (if any)
// before returning the accumulated text as the ToolResult.
//
// Unlike the teacher's fire-and-forget Spawn (background goroutine, polled
// via a separate status tool), this adapter's call blocks: spec.md's
// {prompt, working_directory}-only schema has no id for a caller to poll
// with afterward, so the result has to come back synchronously as the
// function-call-output. ctx is threaded through to the nested RunStreamed
// call (rather than context.Background(), as the teacher does) so
// cancelling the parent run also cancels every in-flight sub-agent.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Prompt           string `json:"prompt"`
		WorkingDirectory string `json:"working_directory"`
	}
	if len(strings.TrimSpace(string(params))) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("subagent %s: invalid arguments: %w", t.worker.Name, err)
		}
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, fmt.Errorf("subagent %s: prompt is required", t.worker.Name)
	}

	run, err := t.manager.record(t.worker, input.Prompt, input.WorkingDirectory)
	if err != nil {
		return nil, err
	}
	defer atomic.AddInt64(&t.manager.active, -1)

	t.manager.mu.RLock()
	announcer := t.manager.announcer
	t.manager.mu.RUnlock()
	if announcer != nil {
		announcer(ctx, t.worker.Name, input.Prompt)
	}

	runCtx := ctx
	if input.WorkingDirectory != "" {
		runCtx = agent.WithWorkingDirectory(runCtx, input.WorkingDirectory)
	}

	sink, hasSink := agent.EventSinkFromContext(ctx)
	parent, _ := agent.ParentAgentFromContext(ctx)
	parentID := ""
	if parent != nil {
		parentID = parent.AgentID
	}

	if hasSink {
		sink(ctx, models.StreamingEvent{
			Type:      models.EventAgentStart,
			MessageID: run.ID,
			Agent:     &models.AgentExport{AgentID: run.ID, Name: t.worker.Name, Parent: parentID},
		})
	}

	events, err := t.manager.runtime.RunStreamed(runCtx, t.worker, input.Prompt, nil)
	if err != nil {
		t.manager.complete(run.ID, "", err.Error())
		return nil, err
	}

	var text strings.Builder
	var runErr error
	for evt := range events {
		if hasSink {
			sink(ctx, evt)
		}
		switch evt.Type {
		case models.EventMessageDelta:
			text.WriteString(evt.Delta)
		case models.EventMessageComplete:
			if evt.Content != "" {
				text.Reset()
				text.WriteString(evt.Content)
			}
		case models.EventError:
			runErr = fmt.Errorf("%s", evt.Error)
		}
	}

	if hasSink {
		sink(ctx, models.StreamingEvent{Type: models.EventAgentDone, MessageID: run.ID})
	}

	if runErr != nil {
		t.manager.complete(run.ID, "", runErr.Error())
		return &agent.ToolResult{Content: runErr.Error(), IsError: true}, nil
	}

	result := text.String()
	t.manager.complete(run.ID, result, "")
	return &agent.ToolResult{Content: result}, nil
}
