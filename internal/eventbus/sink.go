package eventbus

import (
	"context"

	"github.com/haasonsaas/magi/pkg/models"
)

// ChanSink forwards events to a channel, dropping them if the channel is
// full rather than blocking the publisher.
type ChanSink struct {
	ch chan<- models.StreamingEvent
}

// NewChanSink creates a sink that sends to a buffered channel.
func NewChanSink(ch chan<- models.StreamingEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event, dropping it if the channel is full or ctx is done.
func (s *ChanSink) Emit(ctx context.Context, e models.StreamingEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans an event out to multiple sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that dispatches to all of sinks. Nil sinks
// are filtered out.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches the event to every wrapped sink in turn.
func (s *MultiSink) Emit(ctx context.Context, e models.StreamingEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as a Sink.
type CallbackSink struct {
	fn func(ctx context.Context, e models.StreamingEvent)
}

// NewCallbackSink creates a sink that invokes fn for each event.
func NewCallbackSink(fn func(ctx context.Context, e models.StreamingEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, e models.StreamingEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards every event. Useful as a default when no external sink
// is configured.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e models.StreamingEvent) {}
