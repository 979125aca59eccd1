package store

import (
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func TestSQLiteBackend_StoreAndLoadState(t *testing.T) {
	b := newTestSQLiteBackend(t)
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{
		ExecutionID: "exec-1",
		GraphID:     "graph-1",
		Status:      graph.StatusCompleted,
		Completed:   []string{"a", "b"},
	})

	if err := b.StoreState("exec-1", state); err != nil {
		t.Fatalf("StoreState failed: %v", err)
	}

	loaded, err := b.LoadState("exec-1")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.Status != graph.StatusCompleted {
		t.Errorf("expected status completed, got %v", loaded.Status)
	}
	if len(loaded.Completed()) != 2 {
		t.Errorf("expected 2 completed nodes, got %d", len(loaded.Completed()))
	}
}

func TestSQLiteBackend_StoreStateOverwrites(t *testing.T) {
	b := newTestSQLiteBackend(t)
	first := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1", Status: graph.StatusRunning})
	second := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1", Status: graph.StatusCompleted})

	_ = b.StoreState("exec-1", first)
	_ = b.StoreState("exec-1", second)

	loaded, err := b.LoadState("exec-1")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.Status != graph.StatusCompleted {
		t.Errorf("expected overwritten status completed, got %v", loaded.Status)
	}
}

func TestSQLiteBackend_LoadStateNotFound(t *testing.T) {
	b := newTestSQLiteBackend(t)
	if _, err := b.LoadState("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteBackend_CheckpointsOrdered(t *testing.T) {
	b := newTestSQLiteBackend(t)
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1"})

	for _, id := range []string{"cp-1", "cp-2", "cp-3"} {
		if err := b.StoreCheckpoint("exec-1", &graph.Checkpoint{ID: id, State: state}); err != nil {
			t.Fatalf("StoreCheckpoint(%s) failed: %v", id, err)
		}
	}

	checkpoints, err := b.LoadCheckpoints("exec-1")
	if err != nil {
		t.Fatalf("LoadCheckpoints failed: %v", err)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(checkpoints))
	}
	for i, want := range []string{"cp-1", "cp-2", "cp-3"} {
		if checkpoints[i].ID != want {
			t.Errorf("checkpoint[%d] = %q, want %q", i, checkpoints[i].ID, want)
		}
	}
}

func TestSQLiteBackend_Cleanup(t *testing.T) {
	b := newTestSQLiteBackend(t)
	state := graph.RehydrateExecutionState(graph.ExecutionStateData{ExecutionID: "exec-1"})
	_ = b.StoreState("exec-1", state)
	_ = b.StoreCheckpoint("exec-1", &graph.Checkpoint{ID: "cp-1", State: state})

	if err := b.Cleanup("exec-1"); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := b.LoadState("exec-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after Cleanup, got %v", err)
	}
	checkpoints, _ := b.LoadCheckpoints("exec-1")
	if len(checkpoints) != 0 {
		t.Errorf("expected no checkpoints after Cleanup, got %d", len(checkpoints))
	}
}

func TestSQLiteBackend_ShutdownClosesConnection(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := b.Shutdown(); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
}
