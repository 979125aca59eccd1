package store

import (
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func TestMemoryBackend_StoreAndLoadState(t *testing.T) {
	b := NewMemoryBackend()
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{
		ExecutionID: "exec-1",
		GraphID:     "graph-1",
		Status:      graph.StatusRunning,
		Completed:   []string{"a"},
		Pending:     []string{"b"},
	})

	if err := b.StoreState("exec-1", state); err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	loaded, err := b.LoadState("exec-1")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.ExecutionID != "exec-1" || loaded.GraphID != "graph-1" {
		t.Errorf("unexpected rehydrated state: %+v", loaded)
	}
	if len(loaded.Completed()) != 1 || loaded.Completed()[0] != "a" {
		t.Errorf("expected completed set [a], got %v", loaded.Completed())
	}
}

func TestMemoryBackend_LoadStateNotFound(t *testing.T) {
	b := NewMemoryBackend()
	if _, err := b.LoadState("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryBackend_StoreAndLoadCheckpoints(t *testing.T) {
	b := NewMemoryBackend()
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1"})
	cp := &graph.Checkpoint{ID: "cp-1", State: state, Metadata: graph.CheckpointMetadata{Label: "before-deploy"}}

	if err := b.StoreCheckpoint("exec-1", cp); err != nil {
		t.Fatalf("StoreCheckpoint failed: %v", err)
	}

	checkpoints, err := b.LoadCheckpoints("exec-1")
	if err != nil {
		t.Fatalf("LoadCheckpoints failed: %v", err)
	}
	if len(checkpoints) != 1 || checkpoints[0].ID != "cp-1" {
		t.Fatalf("expected 1 checkpoint cp-1, got %+v", checkpoints)
	}
	if checkpoints[0].Metadata.Label != "before-deploy" {
		t.Errorf("expected label to round-trip, got %q", checkpoints[0].Metadata.Label)
	}
}

func TestMemoryBackend_Cleanup(t *testing.T) {
	b := NewMemoryBackend()
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1"})
	_ = b.StoreState("exec-1", state)
	_ = b.StoreCheckpoint("exec-1", &graph.Checkpoint{ID: "cp-1", State: state})

	if err := b.Cleanup("exec-1"); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := b.LoadState("exec-1"); err != ErrNotFound {
		t.Errorf("expected state to be gone after Cleanup, got err=%v", err)
	}
	checkpoints, _ := b.LoadCheckpoints("exec-1")
	if len(checkpoints) != 0 {
		t.Errorf("expected no checkpoints after Cleanup, got %d", len(checkpoints))
	}
}
