package pty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/haasonsaas/magi/pkg/models"
)

type lifecycleState int32

const (
	stateInitial lifecycleState = iota
	stateReadyPending
	stateStartPending
	stateStreaming
	stateExitRequested
	stateExited
)

type rawChunk struct {
	data []byte
	err  error
}

type waitResult struct {
	code int
	err  error
}

type cmdKind int

const (
	cmdWrite cmdKind = iota
	cmdRequestExit
	cmdKill
	cmdFreezeSilence
	cmdRearmSilence
)

type handleCmd struct {
	kind   cmdKind
	data   []byte
	result chan error
}

// Handle is a live PTY instance. The zero value is not usable; obtain one
// via RunPTY.
type Handle struct {
	opts    Options
	command string
	args    []string
	cmd     *exec.Cmd
	ptmx    *os.File

	events chan models.StreamingEvent
	cmdCh  chan handleCmd
	rawCh  chan rawChunk
	waitCh chan waitResult
	done   chan struct{}

	tiers []TierEntry
	dedup *dedupWindow

	// The following fields are touched only by the single goroutine
	// running (*Handle).run, so they need no synchronization.
	order               int64
	state               lifecycleState
	lineBuf             lineBuffer
	batch               deltaBatch
	batchTimer          *time.Timer
	currentBatchTimeout time.Duration

	silenceTimer     *time.Timer
	silenceDeadline  time.Time
	silenceRemaining time.Duration
	silencePaused    bool
	lastActivity     time.Time

	promptTimer   *time.Timer
	promptAttempt int

	exitTimer      *time.Timer
	exitRequested  bool
	terminalEmitted bool
}

// RunPTY spawns command/args attached to a pseudo-terminal and drives it
// per opts, returning a Handle immediately once the subprocess has been
// started; the engine's event-producing loop runs in the background.
func RunPTY(ctx context.Context, command string, args []string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	if opts.WorkDir == "" {
		return nil, errors.New("pty: WorkDir is required")
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: uint16(opts.Rows),
		Cols: uint16(opts.Cols),
	})
	if err != nil {
		return nil, fmt.Errorf("pty: start %q: %w", command, err)
	}

	h := &Handle{
		opts:    opts,
		command: command,
		args:    args,
		cmd:    cmd,
		ptmx:   ptmx,
		events: make(chan models.StreamingEvent, 256),
		cmdCh:  make(chan handleCmd, 8),
		rawCh:  make(chan rawChunk, 8),
		waitCh: make(chan waitResult, 1),
		done:   make(chan struct{}),
		tiers:  sortedTiers(opts.Tiers),
		dedup:  newDedupWindow(opts.DedupWindow),
	}

	Default().register(h)

	go h.readLoop()
	go h.waitLoop()
	go h.run(ctx)

	return h, nil
}

// Events returns the ordered stream of events produced by this instance.
// Per spec.md §4.1, the raw stream has no final message_complete: on a
// successful exit the channel is simply closed; on a silence timeout or
// non-success exit, one error event precedes closure (§7). Callers that
// need a message_complete (e.g. the CLI-over-PTY provider) synthesize it
// from end-of-stream.
func (h *Handle) Events() <-chan models.StreamingEvent {
	return h.events
}

// Write sends raw bytes to the subprocess's pseudo-terminal. A write to
// an already-exited instance is a no-op.
func (h *Handle) Write(data []byte) error {
	result := make(chan error, 1)
	select {
	case h.cmdCh <- handleCmd{kind: cmdWrite, data: data, result: result}:
	case <-h.done:
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-h.done:
		return nil
	}
}

// RequestExit asks the instance to exit gracefully: the configured exit
// command is written, followed by a hard kill if the process has not
// exited within 10s.
func (h *Handle) RequestExit() error {
	select {
	case h.cmdCh <- handleCmd{kind: cmdRequestExit}:
	case <-h.done:
	}
	return nil
}

// Kill immediately terminates the subprocess without attempting a
// graceful exit first.
func (h *Handle) Kill() error {
	result := make(chan error, 1)
	select {
	case h.cmdCh <- handleCmd{kind: cmdKill, result: result}:
	case <-h.done:
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-h.done:
		return nil
	}
}

func (h *Handle) freezeSilenceTimer() {
	select {
	case h.cmdCh <- handleCmd{kind: cmdFreezeSilence}:
	default:
	}
}

func (h *Handle) rearmSilenceTimer() {
	select {
	case h.cmdCh <- handleCmd{kind: cmdRearmSilence}:
	default:
	}
}

func (h *Handle) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.rawCh <- rawChunk{data: data}
		}
		if err != nil {
			h.rawCh <- rawChunk{err: err}
			return
		}
	}
}

func (h *Handle) waitLoop() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	h.waitCh <- waitResult{code: code, err: err}
}

// run is the engine's single state-machine goroutine. Every field above
// the synchronization note is owned exclusively by this goroutine.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer Default().unregister(h.opts.MessageID)
	defer h.ptmx.Close()

	h.emit(models.StreamingEvent{Type: models.EventMessageStart})

	h.state = stateInitial
	if h.opts.IsReady == nil {
		h.onReady()
	} else {
		h.state = stateReadyPending
	}
	h.resetSilenceTimer(h.opts.SilenceTimeout)

	ctxDone := ctx.Done()

	for {
		select {
		case <-ctxDone:
			h.requestExitLocked()
			ctxDone = nil

		case chunk, ok := <-h.rawCh:
			if !ok {
				continue
			}
			if chunk.err == nil {
				h.handleChunk(chunk.data)
			}

		case res := <-h.waitCh:
			h.finish(res)
			return

		case cmd := <-h.cmdCh:
			h.handleCmd(cmd)

		case <-h.timerC(h.batchTimer):
			h.flushBatch()

		case <-h.timerC(h.silenceTimer):
			h.onSilenceFire()

		case <-h.timerC(h.promptTimer):
			h.onPromptTimer()

		case <-h.timerC(h.exitTimer):
			h.hardKill()
		}
	}
}

func (h *Handle) handleCmd(cmd handleCmd) {
	switch cmd.kind {
	case cmdWrite:
		_, err := h.ptmx.Write(cmd.data)
		if cmd.result != nil {
			cmd.result <- err
		}
	case cmdRequestExit:
		h.requestExitLocked()
	case cmdKill:
		h.hardKill()
		if cmd.result != nil {
			cmd.result <- nil
		}
	case cmdFreezeSilence:
		h.doFreezeSilence()
	case cmdRearmSilence:
		h.doRearmSilence()
	}
}

func (h *Handle) handleChunk(data []byte) {
	h.noteActivity()
	for _, line := range h.lineBuf.feed(string(data)) {
		h.handleLine(line)
	}
}

func (h *Handle) handleLine(line string) {
	if isFlushSentinel(line) {
		h.flushBatch()
		return
	}
	if isCompleteSentinel(line) {
		h.requestExitLocked()
		return
	}

	if h.state == stateInitial || h.state == stateReadyPending {
		if h.opts.IsReady == nil || h.opts.IsReady(line) {
			h.onReady()
		}
		return
	}

	if h.state == stateStartPending {
		matched := false
		if h.opts.IsStart != nil {
			matched = h.opts.IsStart(line)
		} else if h.opts.PromptSeparator != "" {
			matched = strings.Contains(line, h.opts.PromptSeparator)
		}
		if matched {
			h.onStarted()
		}
		return
	}

	if h.opts.LineHook != nil {
		for _, extra := range h.opts.LineHook(line) {
			h.emitProgress(extra)
		}
	}
	if h.opts.IsNoise != nil && h.opts.IsNoise(line) {
		return
	}

	if h.dedup.shouldSuppress(line) {
		return
	}
	h.dedup.record(line)
	h.appendToBatch(line)
}

func (h *Handle) onReady() {
	if h.state != stateInitial && h.state != stateReadyPending {
		return
	}
	h.schedulePromptStaged()
	if h.opts.IsStart == nil && h.opts.PromptSeparator == "" {
		// Nothing to detect processing_started on; stream immediately.
		h.state = stateStreaming
		return
	}
	h.state = stateStartPending
}

func (h *Handle) onStarted() {
	if h.state != stateStartPending {
		return
	}
	h.state = stateStreaming
	if h.promptTimer != nil {
		h.promptTimer.Stop()
		h.promptTimer = nil
	}
}

func (h *Handle) schedulePromptStaged() {
	if h.opts.InitialPrompt == "" {
		return
	}
	h.promptAttempt = 0
	h.promptTimer = time.NewTimer(2 * time.Second)
}

// onPromptTimer fires the staged initial-prompt send: one send at t=2s
// after processing_ready, then up to four retries every 3s until
// processing_started is observed (spec.md §4.1 "Lifecycle gating").
func (h *Handle) onPromptTimer() {
	h.promptTimer = nil
	if h.state == stateStreaming {
		return
	}
	if h.promptAttempt > 4 {
		return
	}
	h.writeRaw(h.opts.InitialPrompt + h.opts.Newline)
	h.promptAttempt++
	if h.promptAttempt <= 4 {
		h.promptTimer = time.NewTimer(3 * time.Second)
	}
}

func (h *Handle) appendToBatch(line string) {
	h.batch.append(line)
	newTimeout := tierTimeout(h.tiers, h.batch.len())
	if h.batchTimer == nil || newTimeout != h.currentBatchTimeout {
		if h.batchTimer != nil {
			h.batchTimer.Stop()
		}
		h.batchTimer = time.NewTimer(newTimeout)
		h.currentBatchTimeout = newTimeout
	}
}

// emitProgress emits an out-of-band message_delta immediately, bypassing
// tiered batching, for progress info surfaced by LineHook (e.g. token
// counts) rather than actual response content.
func (h *Handle) emitProgress(content string) {
	h.emit(models.StreamingEvent{Type: models.EventMessageDelta, Delta: content, Content: content})
}

func (h *Handle) flushBatch() {
	if h.batchTimer != nil {
		h.batchTimer.Stop()
		h.batchTimer = nil
	}
	h.currentBatchTimeout = 0
	if h.batch.empty() {
		return
	}
	content := h.batch.flush()
	h.emit(models.StreamingEvent{Type: models.EventMessageDelta, Delta: content, Content: content})
}

func (h *Handle) noteActivity() {
	h.lastActivity = time.Now()
	if !h.silencePaused {
		h.resetSilenceTimer(h.opts.SilenceTimeout)
	}
}

func (h *Handle) resetSilenceTimer(d time.Duration) {
	if h.silenceTimer != nil {
		h.silenceTimer.Stop()
	}
	h.silenceTimer = time.NewTimer(d)
	h.silenceDeadline = time.Now().Add(d)
}

// onSilenceFire implements spec.md §4.1 "Silence timeout": reschedule if
// data is buffered, events are queued, or a silence-grace window is
// active; otherwise mark a fatal timeout and request graceful exit.
func (h *Handle) onSilenceFire() {
	h.silenceTimer = nil

	graceActive := false
	if h.opts.Grace != nil && h.opts.Grace.GraceMatcher != nil && h.opts.Grace.GraceMatcher(h.command, h.args) {
		graceActive = time.Since(h.lastActivity) < h.opts.Grace.GraceTimeout
	}
	if !h.batch.empty() || len(h.events) > 0 || graceActive {
		h.resetSilenceTimer(h.opts.SilenceTimeout)
		return
	}

	secs := int(h.opts.SilenceTimeout / time.Second)
	h.requestExitLocked()
	h.emitTerminal(models.StreamingEvent{
		Type:  models.EventError,
		Error: fmt.Sprintf("PTY timed out after %d seconds of silence", secs),
	})
}

func (h *Handle) doFreezeSilence() {
	if h.silencePaused {
		return
	}
	h.silencePaused = true
	if h.silenceTimer != nil {
		h.silenceTimer.Stop()
		h.silenceTimer = nil
	}
	h.silenceRemaining = time.Until(h.silenceDeadline)
	if h.silenceRemaining < 0 {
		h.silenceRemaining = 0
	}
}

func (h *Handle) doRearmSilence() {
	if !h.silencePaused {
		return
	}
	h.silencePaused = false
	h.resetSilenceTimer(h.silenceRemaining)
}

// requestExitLocked writes the configured exit command and arms the
// hard-kill fallback timer. Idempotent: a second call while already
// exit-requested is a no-op.
func (h *Handle) requestExitLocked() {
	if h.exitRequested {
		return
	}
	h.exitRequested = true
	h.state = stateExitRequested
	h.writeRaw(h.opts.ExitCommand + h.opts.Newline)
	h.exitTimer = time.NewTimer(10 * time.Second)
}

func (h *Handle) hardKill() {
	h.exitTimer = nil
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

func (h *Handle) writeRaw(s string) {
	_, _ = h.ptmx.Write([]byte(s))
}

// emit stamps evt with this instance's MessageID and the next strictly
// increasing Order.
func (h *Handle) emit(evt models.StreamingEvent) {
	evt.MessageID = h.opts.MessageID
	evt.Order = h.order
	h.order++
	h.events <- evt
}

// emitTerminal emits evt as this stream's one and only terminal event,
// then prevents finish() from emitting a second one at actual process
// exit (spec.md §8: "at most one message_complete").
func (h *Handle) emitTerminal(evt models.StreamingEvent) {
	if h.terminalEmitted {
		return
	}
	h.terminalEmitted = true
	h.emit(evt)
}

// finish runs exit classification: drain any residual partial line,
// flush the pending delta, then — per spec.md §4.1/§7 — emit an error
// event only for a non-success exit code (a successful exit has no
// terminal event at all; the channel is simply closed), unless a
// terminal event was already emitted earlier (e.g. by the silence
// watchdog).
func (h *Handle) finish(res waitResult) {
	if h.promptTimer != nil {
		h.promptTimer.Stop()
	}
	if h.silenceTimer != nil {
		h.silenceTimer.Stop()
	}
	if h.exitTimer != nil {
		h.exitTimer.Stop()
	}
	h.state = stateExited

	if h.terminalEmitted {
		close(h.events)
		return
	}

	if rest := h.lineBuf.flushPartial(); rest != "" {
		h.handleLine(rest)
	}
	h.flushBatch()

	if !h.opts.isSuccessExitCode(res.code) {
		h.emitTerminal(models.StreamingEvent{
			Type:  models.EventError,
			Error: fmt.Sprintf("subprocess exited with code %d", res.code),
		})
	}
	close(h.events)
}

func (h *Handle) timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
