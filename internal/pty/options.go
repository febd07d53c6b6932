// Package pty drives an interactive CLI tool over a pseudo-terminal and
// projects its raw terminal output into an ordered sequence of typed
// events, grounded on the teacher's agent.Executor goroutine+channel
// pattern (executeWithTimeout's result-channel-plus-select shape)
// generalized to a long-lived producer.
package pty

import (
	"time"

	"github.com/google/uuid"
)

// TierEntry is one row of the tiered-batching timer table: once the
// pending delta buffer reaches MinChars bytes, flushes are scheduled
// Timeout after the last flush (or after the buffer first crossed the
// tier), whichever is sooner to trigger.
type TierEntry struct {
	MinChars int
	Timeout  time.Duration
}

// defaultTiers is sorted descending by MinChars, the order the tier
// lookup expects (linear search, first entry whose MinChars the buffer
// meets or exceeds wins).
var defaultTiers = []TierEntry{
	{MinChars: 10000, Timeout: 10 * time.Millisecond},
	{MinChars: 2000, Timeout: 100 * time.Millisecond},
	{MinChars: 100, Timeout: 2 * time.Second},
	{MinChars: 0, Timeout: 4 * time.Second},
}

// Options configures one RunPTY invocation.
type Options struct {
	// WorkDir is the subprocess working directory. Required.
	WorkDir string

	// Env is appended to the subprocess environment (os.Environ() is
	// always inherited first).
	Env []string

	// Cols/Rows size the pseudo-terminal. Default 80x60.
	Cols int
	Rows int

	// SilenceTimeout is the watchdog interval with no subprocess
	// output before the stream is declared fatally timed out. Default
	// 5s.
	SilenceTimeout time.Duration

	// Tiers is the tiered-batching timer table. Default defaultTiers.
	Tiers []TierEntry

	// DedupWindow is the number of most-recent lines kept for
	// deduplication. Default 16.
	DedupWindow int

	// IsNoise, if set, marks a line to be dropped entirely before it
	// reaches dedup/batching.
	IsNoise func(line string) bool

	// IsReady, if set, marks the line that signals the subprocess has
	// finished booting (processing_ready latch). If nil, the engine
	// treats the process as ready immediately after spawn.
	IsReady func(line string) bool

	// IsStart, if set, marks the line that signals the subprocess has
	// begun processing the initial prompt (processing_started latch).
	// If nil, the first non-noise line after the initial prompt send
	// satisfies the latch.
	IsStart func(line string) bool

	// LineHook, if set, is invoked for every extracted line once
	// streaming has started (before noise filtering and dedup); each
	// returned string is emitted immediately as an out-of-band
	// message_delta (e.g. a parsed token-count progress line),
	// bypassing tiered batching.
	LineHook func(line string) []string

	// InitialPrompt is written to the PTY (terminated by Newline)
	// once the processing_ready latch is satisfied.
	InitialPrompt string

	// PromptSeparator, if set, is a sentinel line the engine looks for
	// to mark the boundary between the echoed prompt and the actual
	// response.
	PromptSeparator string

	// ExitCommand is written (terminated by Newline) to request a
	// graceful exit. Default "/exit".
	ExitCommand string

	// SuccessExitCodes classifies a subprocess exit status as a normal
	// completion rather than a fatal error. Default {0, 1}.
	SuccessExitCodes []int

	// MessageID correlates every event this instance produces.
	// Generated via google/uuid if empty.
	MessageID string

	// Newline terminates every write to the PTY. Default "\r\n".
	Newline string

	// Grace, if set, extends the silence watchdog for commands the
	// caller recognizes as long-running (spec.md §9's open question on
	// generalizing the "claude, >=30s timeout" leniency): once
	// GraceMatcher(command, args) reports true, the watchdog reschedules
	// instead of firing, up to GraceTimeout since the last activity,
	// before falling back to the configured SilenceTimeout behavior.
	Grace *GraceExtension
}

// GraceExtension generalizes the "long-running command" silence leniency
// to an explicit, caller-supplied policy rather than a hard-coded
// command-name match.
type GraceExtension struct {
	GraceMatcher func(cmd string, args []string) bool
	GraceTimeout time.Duration
}

// withDefaults returns a copy of o with every zero-valued field
// populated from the documented defaults.
func (o Options) withDefaults() Options {
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.Rows == 0 {
		o.Rows = 60
	}
	if o.SilenceTimeout == 0 {
		o.SilenceTimeout = 5 * time.Second
	}
	if len(o.Tiers) == 0 {
		o.Tiers = defaultTiers
	}
	if o.DedupWindow == 0 {
		o.DedupWindow = 16
	}
	if o.ExitCommand == "" {
		o.ExitCommand = "/exit"
	}
	if len(o.SuccessExitCodes) == 0 {
		o.SuccessExitCodes = []int{0, 1}
	}
	if o.MessageID == "" {
		o.MessageID = uuid.NewString()
	}
	if o.Newline == "" {
		o.Newline = "\r\n"
	}
	return o
}

func (o Options) isSuccessExitCode(code int) bool {
	for _, c := range o.SuccessExitCodes {
		if c == code {
			return true
		}
	}
	return false
}
