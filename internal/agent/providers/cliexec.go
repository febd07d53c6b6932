package providers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	"github.com/haasonsaas/magi/internal/cost"
	"github.com/haasonsaas/magi/internal/pty"
	"github.com/haasonsaas/magi/pkg/models"
)

// CLIProvider implements agent.LLMProvider by driving an interactive CLI
// tool over a pseudo-terminal (internal/pty) instead of an HTTP API.
// Grounded on spec.md §4.2(b): it concatenates message content into one
// prompt, spawns the tool, forwards the PTY engine's raw event stream, then
// parses the accumulated clean-copy output for a final cost/duration/token
// summary before synthesizing the message_complete the raw engine never
// emits on a successful exit.
type CLIProvider struct {
	name         string
	command      string
	args         []string
	workDir      string
	defaultModel string

	separator       string
	promptSeparator string
	isNoise         func(string) bool
	isStart         func(string) bool

	silenceTimeout time.Duration
	grace          *pty.GraceExtension

	tracker *cost.Tracker
}

// CLIConfig configures a CLIProvider.
type CLIConfig struct {
	// Name identifies this provider (e.g. "claude-cli", "codex-cli").
	Name string

	// Command and Args spawn the CLI tool; Args is passed through to
	// exec.Command verbatim.
	Command string
	Args    []string

	// WorkDir is the subprocess working directory.
	WorkDir string

	// DefaultModel is reported by Models() and used when a request's
	// Model field is empty.
	DefaultModel string

	// Separator joins message text content into one prompt. Defaults to
	// "\n\n".
	Separator string

	// PromptSeparator is the sentinel line the CLI echoes to mark the
	// boundary between the echoed prompt and its actual response.
	PromptSeparator string

	// IsNoise and IsStart are forwarded to pty.Options verbatim.
	IsNoise func(line string) bool
	IsStart func(line string) bool

	// SilenceTimeout overrides the PTY engine's watchdog interval.
	SilenceTimeout time.Duration

	// Grace extends the silence watchdog for commands known to run long
	// without intermediate output.
	Grace *pty.GraceExtension

	// Tracker receives the parsed cost/token summary after each run. A
	// nil Tracker disables reporting.
	Tracker *cost.Tracker
}

// NewCLIProvider creates a CLIProvider from cfg.
func NewCLIProvider(cfg CLIConfig) *CLIProvider {
	separator := cfg.Separator
	if separator == "" {
		separator = "\n\n"
	}
	return &CLIProvider{
		name:            cfg.Name,
		command:         cfg.Command,
		args:            cfg.Args,
		workDir:         cfg.WorkDir,
		defaultModel:    cfg.DefaultModel,
		separator:       separator,
		promptSeparator: cfg.PromptSeparator,
		isNoise:         cfg.IsNoise,
		isStart:         cfg.IsStart,
		silenceTimeout:  cfg.SilenceTimeout,
		grace:           cfg.Grace,
		tracker:         cfg.Tracker,
	}
}

func (p *CLIProvider) Name() string { return p.name }

// Models reports a single synthetic model entry for the wrapped CLI tool,
// since CLI tools expose no per-model catalogue the way a native HTTP API
// does.
func (p *CLIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: p.defaultModel, Name: p.name, ContextSize: 0, Class: models.ClassStandard},
	}
}

// SupportsTools reports false: the CLI-over-PTY provider has no structured
// tool_start/tool_delta/tool_done channel of its own — the wrapped CLI
// handles its own tool use internally and this provider only sees its
// terminal text output.
func (p *CLIProvider) SupportsTools() bool { return false }

// Stream builds a prompt from req.Messages, spawns the CLI tool over a
// PTY, and forwards its event stream. On a clean exit (channel closed, no
// terminal error observed) it parses the accumulated output for a cost
// summary and synthesizes message_complete, since the raw PTY engine
// itself never does (§4.1).
func (p *CLIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	out := make(chan models.StreamingEvent)
	msgID := uuid.NewString()
	// procID tracks the subprocess lifecycle (process_start/running/done/
	// failed/terminated) as its own eventbus stream, separate from msgID's
	// message_start/delta/complete stream: eventbus.Sequencer allows exactly
	// one terminal event per MessageID, so a process_done sharing msgID
	// would cause the Sequencer to silently drop the message_complete that
	// follows it.
	procID := uuid.NewString()

	go func() {
		defer close(out)

		var cleanCopy strings.Builder
		var lastOrder int64 = -1

		opts := pty.Options{
			WorkDir:         p.workDir,
			MessageID:       msgID,
			InitialPrompt:   p.buildPrompt(req),
			PromptSeparator: p.promptSeparator,
			IsNoise:         p.isNoise,
			IsStart:         p.isStart,
			SilenceTimeout:  p.silenceTimeout,
			Grace:           p.grace,
			LineHook: func(line string) []string {
				cleanCopy.WriteString(line)
				cleanCopy.WriteString("\n")
				return nil
			},
		}

		handle, err := pty.RunPTY(ctx, p.command, p.args, opts)
		if err != nil {
			emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessFailed, MessageID: procID, Error: err.Error()})
			emitCLI(ctx, out, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			emitCLI(ctx, out, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: fmt.Sprintf("%s: %v", p.name, err)})
			return
		}

		if !emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessStart, MessageID: procID}) {
			return
		}

		terminalErr := false
		sawDelta := false
		for evt := range handle.Events() {
			lastOrder = evt.Order
			if evt.Type == models.EventError {
				terminalErr = true
			}
			if !sawDelta && evt.Type == models.EventMessageDelta {
				sawDelta = true
				emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessRunning, MessageID: procID})
			}
			if !emitCLI(ctx, out, evt) {
				emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessTerminated, MessageID: procID})
				return
			}
		}

		if ctx.Err() != nil {
			emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessTerminated, MessageID: procID})
			return
		}

		if terminalErr {
			emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessFailed, MessageID: procID})
			return
		}

		model := req.Model
		if model == "" {
			model = p.defaultModel
		}
		summary := parseCLISummary(cleanCopy.String())
		p.reportUsage(model, summary)

		emitCLI(ctx, out, models.StreamingEvent{Type: models.EventProcessDone, MessageID: procID})
		emitCLI(ctx, out, models.StreamingEvent{
			Type:      models.EventMessageComplete,
			MessageID: msgID,
			Order:     lastOrder + 1,
			Content:   cleanCopy.String(),
			Status:    models.StatusCompleted,
		})
	}()

	return out, nil
}

// buildPrompt concatenates the text content of req.Messages, joined by
// p.separator, per spec.md §4.2(b). Only text-bearing message kinds
// contribute; tool-call/tool-result bookkeeping has no meaning to a CLI
// tool that manages its own tool use.
func (p *CLIProvider) buildPrompt(req *agent.CompletionRequest) string {
	var parts []string
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for _, msg := range req.Messages {
		text := flattenMessageText(msg)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, p.separator)
}

// reportUsage applies spec.md §4.2(b)'s three-tier cost resolution: an
// explicit total-cost line (tier 1) covers the whole run outright; failing
// that, a parsed per-model token breakdown is priced per model via
// internal/cost.Resolve (tier 2) or a linear fallback estimate for a model
// the pricing table doesn't know (tier 3); failing that, the aggregate
// token counts (if any were parsed at all) are priced the same way against
// the request's own model.
func (p *CLIProvider) reportUsage(model string, summary cliSummary) {
	if p.tracker == nil {
		return
	}
	switch {
	case summary.totalCost > 0:
		p.tracker.AddUsage(models.Usage{
			Model:        model,
			Cost:         summary.totalCost,
			InputTokens:  summary.inputTokens,
			OutputTokens: summary.outputTokens,
		})
	case len(summary.perModel) > 0:
		for m, tokens := range summary.perModel {
			p.tracker.AddUsage(models.Usage{
				Model:        m,
				Cost:         estimateCLICost(m, tokens.input, tokens.output),
				InputTokens:  tokens.input,
				OutputTokens: tokens.output,
			})
		}
	case summary.hasTokens():
		p.tracker.AddUsage(models.Usage{
			Model:        model,
			Cost:         estimateCLICost(model, summary.inputTokens, summary.outputTokens),
			InputTokens:  summary.inputTokens,
			OutputTokens: summary.outputTokens,
		})
	}
}

// estimateCLICost resolves tier (2)/(3) of spec.md §4.2(b)'s cost policy
// for one model's parsed token counts: a pricing-table lookup first, a
// linear per-token fallback estimate otherwise.
func estimateCLICost(model string, input, output int) float64 {
	if pricing, ok := cost.Resolve(model); ok {
		return cost.Estimate(input, output, 0, pricing)
	}
	const fallbackPerTokenUSD = 0.000003
	return float64(input+output) * fallbackPerTokenUSD
}

// emitCLI forwards evt, honoring ctx cancellation. Returns false if the
// caller should stop forwarding (ctx done).
func emitCLI(ctx context.Context, out chan<- models.StreamingEvent, evt models.StreamingEvent) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

type cliTokenCounts struct {
	input  int
	output int
}

// cliSummary holds the cost/duration/token metadata parsed from a CLI
// tool's final structured summary, per spec.md §4.2(b)'s three-tier cost
// resolution: (1) an explicit total-cost line, (2) a per-model pricing
// lookup via internal/cost.Resolve against parsed per-model token counts,
// (3) a linear fallback estimate the caller applies when neither is
// available. The per-model breakdown shape is grounded on the teacher's
// internal/usage.UsageBreakdown (model name + input/output token pair).
type cliSummary struct {
	totalCost    float64
	apiDuration  time.Duration
	wallDuration time.Duration
	inputTokens  int
	outputTokens int
	perModel     map[string]cliTokenCounts
}

func (s cliSummary) hasTokens() bool {
	return s.inputTokens > 0 || s.outputTokens > 0
}

var (
	totalCostRe    = regexp.MustCompile(`(?i)total\s+cost:?\s*\$?([0-9]+(?:\.[0-9]+)?)`)
	apiDurationRe  = regexp.MustCompile(`(?i)api\s+duration:?\s*([0-9]+(?:\.[0-9]+)?)\s*s`)
	wallDurationRe = regexp.MustCompile(`(?i)wall\s+duration:?\s*([0-9]+(?:\.[0-9]+)?)\s*s`)
	totalTokensRe  = regexp.MustCompile(`(?i)(?:total\s+)?(?:tokens|usage):?\s*([0-9,]+)\s*input,?\s*([0-9,]+)\s*output`)
	perModelLineRe = regexp.MustCompile(`(?i)^\s*([\w.\-/:]+):\s*([0-9,]+)\s*input,?\s*([0-9,]+)\s*output`)
)

// parseCLISummary scans output (the clean-copy text accumulated by the
// LineHook) for a trailing cost/duration/token summary, per spec.md
// §4.2(b)'s regex-based parsing of the CLI tool's final structured report.
// A summary the CLI tool never prints yields a zero-value cliSummary; the
// caller then has nothing to report, which is the documented degrade path
// for a malformed or absent summary (spec.md's "CLI parse failures degrade
// to cost estimation rather than abort").
func parseCLISummary(output string) cliSummary {
	var summary cliSummary
	summary.perModel = make(map[string]cliTokenCounts)

	if m := totalCostRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			summary.totalCost = v
		}
	}
	if m := apiDurationRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			summary.apiDuration = time.Duration(v * float64(time.Second))
		}
	}
	if m := wallDurationRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			summary.wallDuration = time.Duration(v * float64(time.Second))
		}
	}
	if m := totalTokensRe.FindStringSubmatch(output); m != nil {
		summary.inputTokens = parseCommaInt(m[1])
		summary.outputTokens = parseCommaInt(m[2])
	}

	for _, line := range strings.Split(output, "\n") {
		m := perModelLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		summary.perModel[m[1]] = cliTokenCounts{
			input:  parseCommaInt(m[2]),
			output: parseCommaInt(m[3]),
		}
	}

	return summary
}

func parseCommaInt(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
