package emit

import "context"

// NullEmitter implements Emitter by discarding all events.
//
// Use it to disable observability without changing simulation code; it is the
// default emitter everywhere one is optional.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. Zero overhead, safe for concurrent
// use.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(_ Event) {}

// EmitBatch discards the events.
func (n *NullEmitter) EmitBatch(_ context.Context, _ []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(_ context.Context) error { return nil }
