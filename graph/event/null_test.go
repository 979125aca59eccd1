package event

import (
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func TestNullEmitter_DiscardsEverything(t *testing.T) {
	emitter := NewNullEmitter()
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a"})
	if err := emitter.Flush(); err != nil {
		t.Errorf("expected nil error from Flush, got %v", err)
	}
}
