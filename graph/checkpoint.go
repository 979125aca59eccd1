package graph

import (
	"time"

	"github.com/google/uuid"
)

// CheckpointMetadata carries the descriptive fields attached to a Checkpoint.
type CheckpointMetadata struct {
	Label          string
	ExecutionID    string
	CompletedCount int
	ProgressPct    float64
}

// Checkpoint is a point-in-time snapshot of one execution's state, suitable
// for RestoreFromCheckpoint. Snapshots use structural (value-type) copies for
// the in-memory backend; pluggable backends may serialize instead.
type Checkpoint struct {
	ID        string
	Timestamp time.Time
	State     *ExecutionState
	DataState map[string]any
	Metadata  CheckpointMetadata
}

// CreateCheckpoint deep-copies the execution's current state, assigns an id
// and timestamp, stores it under the configured retention policy (discarding
// the oldest checkpoint when over capacity), and emits `checkpointCreated`.
func (sm *StateManager) CreateCheckpoint(executionID, label string) (*Checkpoint, error) {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return nil, err
	}
	lock.mu.RLock()
	snap := lock.state.snapshot()
	lock.mu.RUnlock()

	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		State:     snap,
		DataState: cloneAnyMap(snap.DataState),
		Metadata: CheckpointMetadata{
			Label:          label,
			ExecutionID:    executionID,
			CompletedCount: len(snap.completed),
			ProgressPct:    snap.Progress.Percentage,
		},
	}

	sm.mu.Lock()
	list := append(sm.checkpoints[executionID], cp)
	if len(list) > sm.retention {
		list = list[len(list)-sm.retention:]
	}
	sm.checkpoints[executionID] = list
	sm.mu.Unlock()

	if sm.backend != nil {
		if err := sm.backend.StoreCheckpoint(executionID, cp); err != nil && sm.onPersistError != nil {
			sm.onPersistError(executionID, err)
		}
	}
	sm.bus.Emit("checkpointCreated", map[string]any{"executionId": executionID, "checkpointId": cp.ID})
	return cp, nil
}

// maybeCheckpointOnNodeCompletion creates a checkpoint iff checkpointing is
// enabled with frequency=="node"; used by the Executor after each
// CompleteNode call.
func (sm *StateManager) maybeCheckpointOnNodeCompletion(executionID string, checkpointing CheckpointingConfig) {
	if !checkpointing.Enabled || checkpointing.Frequency != "node" {
		return
	}
	_, _ = sm.CreateCheckpoint(executionID, "")
}

// RestoreFromCheckpoint replaces the execution's state with the checkpoint's
// snapshot; CurrentTime is always reset to now. Fails STATE_INCONSISTENT if
// either id is unknown.
func (sm *StateManager) RestoreFromCheckpoint(executionID, checkpointID string) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}

	sm.mu.Lock()
	var found *Checkpoint
	for _, cp := range sm.checkpoints[executionID] {
		if cp.ID == checkpointID {
			found = cp
			break
		}
	}
	sm.mu.Unlock()
	if found == nil {
		return NewError(ErrStateInconsistent, "unknown checkpoint", ErrorContext{ExecutionID: executionID, AdditionalInfo: map[string]any{"checkpointId": checkpointID}})
	}

	restored := found.State.snapshot()
	restored.CurrentTime = time.Now()

	lock.mu.Lock()
	lock.state = restored
	lock.mu.Unlock()

	sm.persist(executionID, restored)
	return nil
}

// GetCheckpoints returns every retained checkpoint for executionID, ordered
// oldest-first.
func (sm *StateManager) GetCheckpoints(executionID string) []*Checkpoint {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]*Checkpoint(nil), sm.checkpoints[executionID]...)
}

// CheckpointData is the exported, JSON-serializable view of a Checkpoint,
// used by StateBackend implementations outside this package.
type CheckpointData struct {
	ID        string
	Timestamp time.Time
	State     ExecutionStateData
	DataState map[string]any
	Metadata  CheckpointMetadata
}

// Export converts cp into its serializable form.
func (cp *Checkpoint) Export() CheckpointData {
	return CheckpointData{
		ID:        cp.ID,
		Timestamp: cp.Timestamp,
		State:     cp.State.Export(),
		DataState: cp.DataState,
		Metadata:  cp.Metadata,
	}
}

// RehydrateCheckpoint reconstructs a Checkpoint from the exported form a
// StateBackend persisted.
func RehydrateCheckpoint(d CheckpointData) *Checkpoint {
	return &Checkpoint{
		ID:        d.ID,
		Timestamp: d.Timestamp,
		State:     RehydrateExecutionState(d.State),
		DataState: d.DataState,
		Metadata:  d.Metadata,
	}
}

// CheckpointingConfig configures the State Manager / Executor's checkpoint
// behavior (§4.3 configuration table).
type CheckpointingConfig struct {
	Enabled     bool
	Frequency   string // "node" | "time" | "manual"
	Interval    time.Duration
	Storage     string
	Compression bool
	Retention   int
}
