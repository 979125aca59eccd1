package event

import (
	"sync"
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func TestBufferedEmitter_GetHistory(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a", Metadata: map[string]any{"executionID": "run-1"}})
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeComplete, NodeID: "a", Metadata: map[string]any{"executionID": "run-1"}})
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "b", Metadata: map[string]any{"executionID": "run-2"}})

	history := emitter.GetHistory("run-1")
	if len(history) != 2 {
		t.Fatalf("expected 2 steps for run-1, got %d", len(history))
	}

	other := emitter.GetHistory("run-2")
	if len(other) != 1 {
		t.Fatalf("expected 1 step for run-2, got %d", len(other))
	}

	missing := emitter.GetHistory("does-not-exist")
	if len(missing) != 0 {
		t.Fatalf("expected empty slice for unknown execution, got %d", len(missing))
	}
}

func TestBufferedEmitter_GetHistoryWithFilter(t *testing.T) {
	emitter := NewBufferedEmitter()
	meta := map[string]any{"executionID": "run-1"}
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "validator", Metadata: meta})
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeError, NodeID: "validator", Metadata: meta})
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "fetch", Metadata: meta})

	errs := emitter.GetHistoryWithFilter("run-1", StepFilter{NodeID: "validator", Kind: graph.StepNodeError})
	if len(errs) != 1 {
		t.Fatalf("expected 1 filtered step, got %d", len(errs))
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	meta := map[string]any{"executionID": "run-1"}
	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a", Metadata: meta})

	emitter.Clear("run-1")
	if len(emitter.GetHistory("run-1")) != 0 {
		t.Fatal("expected history to be empty after Clear(runID)")
	}

	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a", Metadata: meta})
	emitter.Clear("")
	if len(emitter.GetHistory("run-1")) != 0 {
		t.Fatal("expected history to be empty after Clear(\"\")")
	}
}

func TestBufferedEmitter_ConcurrentAccess(t *testing.T) {
	emitter := NewBufferedEmitter()
	meta := map[string]any{"executionID": "run-1"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a", Metadata: meta})
		}()
	}
	wg.Wait()

	if len(emitter.GetHistory("run-1")) != 50 {
		t.Fatalf("expected 50 steps, got %d", len(emitter.GetHistory("run-1")))
	}
}
