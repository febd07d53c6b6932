// Package eventbus provides the in-process, ordered fan-out of typed
// streaming events from producers (Model Provider, PTY Stream Engine, tool
// dispatch) to exactly one consumer channel and one optional external sink
// (§3: EventBus).
package eventbus

import (
	"sync"

	"github.com/haasonsaas/magi/pkg/models"
)

// Sequencer stamps a strictly increasing Order onto every StreamingEvent
// sharing a MessageID, and enforces that each message_id sees exactly one
// *_start, zero or more *_delta, and exactly one terminal event (unless cut
// short by an error event for that message_id).
//
// A Sequencer is safe for concurrent use by multiple producer goroutines.
type Sequencer struct {
	mu      sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	next      int64
	started   bool
	completed bool
}

// NewSequencer creates an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{streams: make(map[string]*streamState)}
}

// Next stamps Order on evt and returns it, along with false if the event is
// a protocol violation (an event for a message_id that has already reached
// a terminal state, or a *_delta/*_complete with no preceding *_start) that
// should be dropped rather than forwarded.
func (s *Sequencer) Next(evt models.StreamingEvent) (models.StreamingEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[evt.MessageID]
	if !ok {
		st = &streamState{}
		s.streams[evt.MessageID] = st
	}

	if st.completed {
		return evt, false
	}

	if isStartEvent(evt.Type) {
		st.started = true
	} else if !st.started {
		return evt, false
	}

	evt.Order = st.next
	st.next++

	if isTerminalEvent(evt.Type) {
		st.completed = true
	}

	return evt, true
}

// Reset discards sequencing state for a message_id, allowing it to be
// reused by a later, unrelated stream (e.g. a retried request reusing the
// same correlation id after a full fallback chain exhaustion).
func (s *Sequencer) Reset(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, messageID)
}

func isStartEvent(t models.EventType) bool {
	switch t {
	case models.EventMessageStart, models.EventToolStart, models.EventAgentStart, models.EventProcessStart:
		return true
	default:
		return false
	}
}

func isTerminalEvent(t models.EventType) bool {
	switch t {
	case models.EventMessageComplete, models.EventToolDone, models.EventAgentDone,
		models.EventProcessDone, models.EventProcessFailed, models.EventProcessTerminated,
		models.EventError:
		return true
	default:
		return false
	}
}
