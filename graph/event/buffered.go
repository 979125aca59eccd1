package event

import (
	"sync"

	"github.com/flowforge/graphrun/graph"
)

// BufferedEmitter stores ExecutionSteps in memory, grouped by the execution
// metadata key "executionID" when present, else under "". Intended for tests
// and interactive inspection, not long-running production workflows.
type BufferedEmitter struct {
	mu    sync.RWMutex
	steps map[string][]graph.ExecutionStep
}

// StepFilter narrows GetHistoryWithFilter results. Zero-value fields are
// unconstrained; all set fields combine with AND logic.
type StepFilter struct {
	NodeID string
	Kind   graph.StepKind
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{steps: make(map[string][]graph.ExecutionStep)}
}

func (b *BufferedEmitter) executionKey(step graph.ExecutionStep) string {
	if v, ok := step.Metadata["executionID"].(string); ok {
		return v
	}
	return ""
}

func (b *BufferedEmitter) Emit(step graph.ExecutionStep) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := b.executionKey(step)
	b.steps[key] = append(b.steps[key], step)
}

func (b *BufferedEmitter) Flush() error {
	return nil
}

// GetHistory returns every step recorded for the given execution, in emit
// order.
func (b *BufferedEmitter) GetHistory(executionID string) []graph.ExecutionStep {
	b.mu.RLock()
	defer b.mu.RUnlock()
	steps := b.steps[executionID]
	result := make([]graph.ExecutionStep, len(steps))
	copy(result, steps)
	return result
}

// GetHistoryWithFilter returns steps for the given execution matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(executionID string, filter StepFilter) []graph.ExecutionStep {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var result []graph.ExecutionStep
	for _, step := range b.steps[executionID] {
		if filter.NodeID != "" && step.NodeID != filter.NodeID {
			continue
		}
		if filter.Kind != "" && step.Kind != filter.Kind {
			continue
		}
		result = append(result, step)
	}
	if result == nil {
		return []graph.ExecutionStep{}
	}
	return result
}

// Clear removes steps for a specific execution, or every execution if
// executionID is empty.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if executionID == "" {
		b.steps = make(map[string][]graph.ExecutionStep)
		return
	}
	delete(b.steps, executionID)
}
