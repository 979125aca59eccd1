package event

import "github.com/flowforge/graphrun/graph"

// NullEmitter discards every step. Useful when streaming is wired through
// Options but no observer is configured.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (n *NullEmitter) Emit(graph.ExecutionStep) {}

func (n *NullEmitter) Flush() error { return nil }
