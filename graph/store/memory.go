// Package store provides StateBackend implementations for persisting
// execution state and checkpoints: an in-memory backend for tests and
// single-process runs, and SQLite/MySQL backends for durable storage.
package store

import (
	"sync"

	"github.com/flowforge/graphrun/graph"
)

// MemoryBackend implements graph.StateBackend by keeping every execution's
// latest state and checkpoints in process memory. Data does not survive
// process restart; intended for tests and short-lived local runs.
type MemoryBackend struct {
	mu          sync.RWMutex
	states      map[string]graph.ExecutionStateData
	checkpoints map[string][]graph.CheckpointData
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states:      make(map[string]graph.ExecutionStateData),
		checkpoints: make(map[string][]graph.CheckpointData),
	}
}

func (m *MemoryBackend) Initialize() error { return nil }

func (m *MemoryBackend) StoreState(executionID string, state *graph.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[executionID] = state.Export()
	return nil
}

func (m *MemoryBackend) LoadState(executionID string) (*graph.ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.states[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return graph.RehydrateExecutionState(d), nil
}

func (m *MemoryBackend) StoreCheckpoint(executionID string, cp *graph.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[executionID] = append(m.checkpoints[executionID], cp.Export())
	return nil
}

func (m *MemoryBackend) LoadCheckpoints(executionID string) ([]*graph.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data := m.checkpoints[executionID]
	result := make([]*graph.Checkpoint, 0, len(data))
	for _, d := range data {
		result = append(result, graph.RehydrateCheckpoint(d))
	}
	return result, nil
}

func (m *MemoryBackend) Cleanup(executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, executionID)
	delete(m.checkpoints, executionID)
	return nil
}

func (m *MemoryBackend) Shutdown() error { return nil }
