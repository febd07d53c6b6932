package pty

import "sync"

// Registry is the process-wide table of live PTY instances keyed by
// message_id, plus the global pause flag shared by every instance and
// (per SPEC_FULL.md §4.2) checked by native providers before issuing a
// new request. Grounded on spec.md §9's "Global mutable state... must
// be a single well-known process-wide registry behind a small interface"
// and implemented with a broadcast channel rather than flag polling, per
// the same section's guidance.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Handle
	paused    bool
	resumeCh  chan struct{}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide Registry shared by every RunPTY
// invocation and by provider pause-awareness checks.
func Default() *Registry { return defaultRegistry }

// NewRegistry creates an empty, unpaused Registry. Most callers should
// use Default(); a fresh Registry is useful in tests that need
// isolation from global pause/resume state.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Handle),
		resumeCh:  make(chan struct{}),
	}
}

func (r *Registry) register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[h.opts.MessageID] = h
}

func (r *Registry) unregister(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, messageID)
}

// Lookup returns the live Handle for messageID, if any.
func (r *Registry) Lookup(messageID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.instances[messageID]
	return h, ok
}

// Pause freezes silence timers across every registered PTY and signals
// native providers to block before issuing new requests. A repeated call
// with no intervening Resume is a no-op (§8 idempotence).
func (r *Registry) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return
	}
	r.paused = true
	for _, h := range r.instances {
		h.freezeSilenceTimer()
	}
}

// Resume re-arms every frozen silence timer with its captured remaining
// time and unblocks providers waiting on IsPaused. A repeated call with
// no intervening Pause is a no-op.
func (r *Registry) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return
	}
	r.paused = false
	close(r.resumeCh)
	r.resumeCh = make(chan struct{})
	for _, h := range r.instances {
		h.rearmSilenceTimer()
	}
}

// IsPaused reports the current global pause state.
func (r *Registry) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// WaitResume blocks until the next Resume call, or returns immediately
// if the registry is not currently paused. Callers (notably native
// providers) should re-check IsPaused in a loop since pause can be
// re-asserted between the unblock and the next request attempt.
func (r *Registry) WaitResume() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.resumeCh
}

// RequestExitAll requests graceful exit of every live instance. Wired
// from cmd/magi's SIGINT/SIGTERM handler.
func (r *Registry) RequestExitAll() {
	r.mu.Lock()
	instances := make([]*Handle, 0, len(r.instances))
	for _, h := range r.instances {
		instances = append(instances, h)
	}
	r.mu.Unlock()
	for _, h := range instances {
		h.RequestExit()
	}
}
