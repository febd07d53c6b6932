package eventbus

import (
	"context"
	"sync/atomic"

	"github.com/haasonsaas/magi/pkg/models"
)

// Sink receives a copy of every event published to a Bus. Implementations
// must be safe to call from multiple goroutines and should not block the
// publisher for long — use a buffered channel internally if slow.
type Sink interface {
	Emit(ctx context.Context, e models.StreamingEvent)
}

// Bus is the ordered fan-out of StreamingEvents to one consumer channel and
// one optional external Sink. Consumer is the primary channel driving the
// Agent Runtime's own stream forwarding; Sink is for side consumers
// (tracing, dashboards) that must never block or break the primary stream.
type Bus struct {
	seq      *Sequencer
	consumer chan models.StreamingEvent
	sink     Sink
	closed   uint32
}

// Config controls the Bus's consumer channel buffer size.
type Config struct {
	// ConsumerBuffer sizes the primary output channel. Default 64.
	ConsumerBuffer int

	// Sink receives every event in addition to the consumer channel. May be nil.
	Sink Sink
}

// New creates a Bus. Call Events to obtain the consumer channel, Publish to
// send events, and Close when the producer is done.
func New(cfg Config) *Bus {
	buf := cfg.ConsumerBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Bus{
		seq:      NewSequencer(),
		consumer: make(chan models.StreamingEvent, buf),
		sink:     cfg.Sink,
	}
}

// Events returns the consumer channel. Closed once Close is called.
func (b *Bus) Events() <-chan models.StreamingEvent {
	return b.consumer
}

// Publish stamps Order via the Sequencer and forwards the event to the
// consumer channel (blocking, backpressure-applying) and the sink
// (best-effort). Malformed events (see Sequencer.Next) are dropped.
func (b *Bus) Publish(ctx context.Context, evt models.StreamingEvent) {
	if atomic.LoadUint32(&b.closed) == 1 {
		return
	}

	stamped, ok := b.seq.Next(evt)
	if !ok {
		return
	}

	select {
	case b.consumer <- stamped:
	case <-ctx.Done():
		return
	}

	if b.sink != nil {
		b.sink.Emit(ctx, stamped)
	}
}

// Close closes the consumer channel. No further Publish calls are valid.
func (b *Bus) Close() {
	if !atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		return
	}
	close(b.consumer)
}

// ResetMessage discards sequencing state for a message_id so it can be
// reused by a later, unrelated stream.
func (b *Bus) ResetMessage(messageID string) {
	b.seq.Reset(messageID)
}
