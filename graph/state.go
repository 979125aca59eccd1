package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of one execution. completed/failed/
// cancelled are terminal; no further transitions occur once reached.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// NodeStatus is the membership set a node currently belongs to.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeExecuting NodeStatus = "executing"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeResultMetadata carries timing and resource bookkeeping for one node
// completion or failure.
type NodeResultMetadata struct {
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	RetryCount  int
	MemoryBytes int64
	CPUPercent  float64
}

// NodeResult is the outcome of one node's execution, written exactly once
// per node via CompleteNode or FailNode.
type NodeResult struct {
	NodeID        string
	Status        NodeStatus
	Output        any
	Err           *WorkflowError
	Metadata      NodeResultMetadata
	ResourceUsage map[string]any
}

// Progress summarizes completion percentage and throughput for one
// execution, per the formulas in §4.2.
type Progress struct {
	CompletedNodes         int
	TotalNodes             int
	Percentage             float64
	Throughput             float64
	EstimatedTimeRemaining time.Duration
	ParallelEfficiency     float64
}

// ExecutionState is the mutable per-execution record owned exclusively by
// the StateManager. The four node-id sets always partition the graph's node
// ids (invariant 1).
type ExecutionState struct {
	ExecutionID string
	GraphID     string
	Status      Status

	pending   map[string]bool
	executing map[string]bool
	completed map[string]bool
	failed    map[string]bool
	skipped   map[string]bool

	NodeResults map[string]*NodeResult
	DataState   map[string]any

	Progress    Progress
	StartTime   time.Time
	CurrentTime time.Time

	Context map[string]any

	// concurrentSamples/concurrentSum back the parallel-efficiency estimate.
	concurrentSamples int
	concurrentSum     int
}

func newExecutionState(executionID, graphID string, nodeIDs []string) *ExecutionState {
	now := time.Now()
	st := &ExecutionState{
		ExecutionID: executionID,
		GraphID:     graphID,
		Status:      StatusPending,
		pending:     map[string]bool{},
		executing:   map[string]bool{},
		completed:   map[string]bool{},
		failed:      map[string]bool{},
		skipped:     map[string]bool{},
		NodeResults: map[string]*NodeResult{},
		DataState:   map[string]any{},
		StartTime:   now,
		CurrentTime: now,
		Context:     map[string]any{},
	}
	for _, id := range nodeIDs {
		st.pending[id] = true
	}
	st.Progress.TotalNodes = len(nodeIDs)
	return st
}

// snapshot returns a deep structural copy, used for both checkpoints and
// lock-free reads.
func (st *ExecutionState) snapshot() *ExecutionState {
	clone := &ExecutionState{
		ExecutionID: st.ExecutionID,
		GraphID:     st.GraphID,
		Status:      st.Status,
		pending:     cloneBoolSet(st.pending),
		executing:   cloneBoolSet(st.executing),
		completed:   cloneBoolSet(st.completed),
		failed:      cloneBoolSet(st.failed),
		skipped:     cloneBoolSet(st.skipped),
		NodeResults: map[string]*NodeResult{},
		DataState:   cloneAnyMap(st.DataState),
		Progress:    st.Progress,
		StartTime:   st.StartTime,
		CurrentTime: st.CurrentTime,
		Context:     cloneAnyMap(st.Context),
		concurrentSamples: st.concurrentSamples,
		concurrentSum:     st.concurrentSum,
	}
	for id, r := range st.NodeResults {
		rc := *r
		clone.NodeResults[id] = &rc
	}
	return clone
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Pending/Executing/Completed/Failed/Skipped return copies of the four (five,
// counting skipped) membership sets, safe for the caller to range over.
func (st *ExecutionState) Pending() []string   { return setKeys(st.pending) }
func (st *ExecutionState) Executing() []string { return setKeys(st.executing) }
func (st *ExecutionState) Completed() []string { return setKeys(st.completed) }
func (st *ExecutionState) Failed() []string    { return setKeys(st.failed) }
func (st *ExecutionState) Skipped() []string   { return setKeys(st.skipped) }

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// ExecutionStateData is the exported, JSON-serializable view of an
// ExecutionState. StateBackend implementations live outside this package and
// cannot reach the unexported membership sets directly, so Export/
// RehydrateExecutionState is the sanctioned round trip between the two.
type ExecutionStateData struct {
	ExecutionID string
	GraphID     string
	Status      Status
	Pending     []string
	Executing   []string
	Completed   []string
	Failed      []string
	Skipped     []string
	NodeResults map[string]*NodeResult
	DataState   map[string]any
	Progress    Progress
	StartTime   time.Time
	CurrentTime time.Time
	Context     map[string]any
}

// Export converts st into its serializable form.
func (st *ExecutionState) Export() ExecutionStateData {
	return ExecutionStateData{
		ExecutionID: st.ExecutionID,
		GraphID:     st.GraphID,
		Status:      st.Status,
		Pending:     st.Pending(),
		Executing:   st.Executing(),
		Completed:   st.Completed(),
		Failed:      st.Failed(),
		Skipped:     st.Skipped(),
		NodeResults: st.NodeResults,
		DataState:   st.DataState,
		Progress:    st.Progress,
		StartTime:   st.StartTime,
		CurrentTime: st.CurrentTime,
		Context:     st.Context,
	}
}

// RehydrateExecutionState reconstructs an ExecutionState from the exported
// form a StateBackend persisted.
func RehydrateExecutionState(d ExecutionStateData) *ExecutionState {
	st := &ExecutionState{
		ExecutionID: d.ExecutionID,
		GraphID:     d.GraphID,
		Status:      d.Status,
		pending:     boolSetFrom(d.Pending),
		executing:   boolSetFrom(d.Executing),
		completed:   boolSetFrom(d.Completed),
		failed:      boolSetFrom(d.Failed),
		skipped:     boolSetFrom(d.Skipped),
		NodeResults: d.NodeResults,
		DataState:   d.DataState,
		Progress:    d.Progress,
		StartTime:   d.StartTime,
		CurrentTime: d.CurrentTime,
		Context:     d.Context,
	}
	if st.NodeResults == nil {
		st.NodeResults = map[string]*NodeResult{}
	}
	if st.DataState == nil {
		st.DataState = map[string]any{}
	}
	if st.Context == nil {
		st.Context = map[string]any{}
	}
	return st
}

func boolSetFrom(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// EventBus is a synchronous, local publish/subscribe bus with exception
// isolation: a handler panic is recovered and passed to the onPanic hook (if
// any), never propagated to the publisher.
type EventBus struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any)
	onPanic  func(event string, recovered any)
}

// NewEventBus constructs an empty bus. onPanic, if non-nil, is invoked
// whenever a handler panics (the panic is always recovered regardless).
func NewEventBus(onPanic func(event string, recovered any)) *EventBus {
	return &EventBus{handlers: map[string][]func(payload any){}, onPanic: onPanic}
}

// On registers a handler for eventName.
func (b *EventBus) On(eventName string, handler func(payload any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Off removes every handler registered for eventName.
func (b *EventBus) Off(eventName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, eventName)
}

// Emit synchronously fans out payload to every handler of eventName, in the
// publisher's goroutine. A handler panic is recovered and reported via
// onPanic; it never escapes Emit.
func (b *EventBus) Emit(eventName string, payload any) {
	b.mu.Lock()
	handlers := append([]func(payload any){}, b.handlers[eventName]...)
	b.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil && b.onPanic != nil {
					b.onPanic(eventName, r)
				}
			}()
			h(payload)
		}()
	}
}

// StateBackend is the pluggable persistence contract (§4.2, §9). Persistence
// failures are logged and swallowed by the StateManager — they never break
// execution.
type StateBackend interface {
	Initialize() error
	StoreState(executionID string, state *ExecutionState) error
	LoadState(executionID string) (*ExecutionState, error)
	StoreCheckpoint(executionID string, cp *Checkpoint) error
	LoadCheckpoints(executionID string) ([]*Checkpoint, error)
	Cleanup(executionID string) error
	Shutdown() error
}

// executionLock bundles the per-execution RWMutex with the state it guards.
type executionLock struct {
	mu    sync.RWMutex
	state *ExecutionState
}

// StateManager is the sole owner of mutable execution state. Every mutating
// operation acquires the per-execution lock for its duration; reads take the
// same lock in read mode (the tightened Open Question resolution in §9).
type StateManager struct {
	mu         sync.Mutex
	executions map[string]*executionLock
	checkpoints map[string][]*Checkpoint
	retention  int
	backend    StateBackend
	bus        *EventBus
	onPersistError func(executionID string, err error)
}

// NewStateManager constructs a StateManager backed by the given StateBackend
// (pass store.NewMemoryBackend() when no pluggable persistence is needed)
// with the given checkpoint retention.
func NewStateManager(backend StateBackend, retention int, bus *EventBus) *StateManager {
	if retention <= 0 {
		retention = 10
	}
	if bus == nil {
		bus = NewEventBus(nil)
	}
	return &StateManager{
		executions:  map[string]*executionLock{},
		checkpoints: map[string][]*Checkpoint{},
		retention:   retention,
		backend:     backend,
		bus:         bus,
	}
}

// OnPersistError installs a hook invoked whenever the backend reports an
// error; it is purely observational (errors are always swallowed).
func (sm *StateManager) OnPersistError(fn func(executionID string, err error)) {
	sm.onPersistError = fn
}

// On subscribes handler to eventName on the state manager's event bus.
func (sm *StateManager) On(eventName string, handler func(payload any)) { sm.bus.On(eventName, handler) }

// Off unsubscribes every handler of eventName.
func (sm *StateManager) Off(eventName string) { sm.bus.Off(eventName) }

// Initialize creates fresh state for executionID with every node pending.
// Fails STATE_INCONSISTENT if executionID is already initialized.
func (sm *StateManager) Initialize(executionID string, def *GraphDefinition) (*ExecutionState, error) {
	sm.mu.Lock()
	if _, exists := sm.executions[executionID]; exists {
		sm.mu.Unlock()
		return nil, NewError(ErrStateInconsistent, "execution already initialized", ErrorContext{ExecutionID: executionID})
	}
	nodeIDs := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	lock := &executionLock{state: newExecutionState(executionID, def.ID, nodeIDs)}
	sm.executions[executionID] = lock
	sm.mu.Unlock()

	sm.bus.Emit("initialized", map[string]any{"executionId": executionID})
	return lock.state.snapshot(), nil
}

func (sm *StateManager) lockFor(executionID string) (*executionLock, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	lock, ok := sm.executions[executionID]
	if !ok {
		return nil, NewError(ErrStateInconsistent, "unknown execution", ErrorContext{ExecutionID: executionID})
	}
	return lock, nil
}

func (sm *StateManager) persist(executionID string, state *ExecutionState) {
	if sm.backend == nil {
		return
	}
	if err := sm.backend.StoreState(executionID, state.snapshot()); err != nil {
		if sm.onPersistError != nil {
			sm.onPersistError(executionID, err)
		}
	}
}

// UpdateExecutionStatus sets the execution's status. Setting `completed`
// also sets progress to 100%. Emits `statusChanged`.
func (sm *StateManager) UpdateExecutionStatus(executionID string, newStatus Status) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	previous := lock.state.Status
	lock.state.Status = newStatus
	lock.state.CurrentTime = time.Now()
	if newStatus == StatusCompleted {
		lock.state.Progress.Percentage = 100
	}
	snap := lock.state.snapshot()
	lock.mu.Unlock()

	sm.persist(executionID, snap)
	sm.bus.Emit("statusChanged", map[string]any{"executionId": executionID, "previous": previous, "new": newStatus, "timestamp": snap.CurrentTime})
	return nil
}

// StartNode moves nodeId from pending to executing. Fails
// STATE_INCONSISTENT if the node is absent, already executing, or already
// completed/failed.
func (sm *StateManager) StartNode(executionID, nodeID string, input any) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()

	st := lock.state
	if !st.pending[nodeID] {
		return NewError(ErrStateInconsistent, fmt.Sprintf("node %q is not pending", nodeID), ErrorContext{ExecutionID: executionID, NodeID: nodeID})
	}
	delete(st.pending, nodeID)
	st.executing[nodeID] = true
	sm.recordConcurrencySample(st)
	st.CurrentTime = time.Now()
	sm.updateProgressLocked(st)
	if input != nil {
		st.DataState[nodeID+"_input"] = input
	}
	snap := st.snapshot()

	sm.persist(executionID, snap)
	sm.bus.Emit("nodeStarted", map[string]any{"executionId": executionID, "nodeId": nodeID, "input": input})
	return nil
}

func (sm *StateManager) recordConcurrencySample(st *ExecutionState) {
	st.concurrentSamples++
	st.concurrentSum += len(st.executing)
}

// CompleteNode requires nodeId to be executing. Moves it to completed,
// stores the result, stores a non-absent output in dataState, updates
// progress, and persists. It does not checkpoint; the scheduler calls
// maybeCheckpointOnNodeCompletion after a successful CompleteNode.
func (sm *StateManager) CompleteNode(executionID, nodeID string, result *NodeResult) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	st := lock.state
	if !st.executing[nodeID] {
		lock.mu.Unlock()
		return NewError(ErrStateInconsistent, fmt.Sprintf("node %q is not executing", nodeID), ErrorContext{ExecutionID: executionID, NodeID: nodeID})
	}
	delete(st.executing, nodeID)
	st.completed[nodeID] = true
	result.Status = NodeCompleted
	st.NodeResults[nodeID] = result
	if result.Output != nil {
		st.DataState[nodeID] = result.Output
	}
	st.CurrentTime = time.Now()
	sm.updateProgressLocked(st)
	snap := st.snapshot()
	lock.mu.Unlock()

	sm.persist(executionID, snap)
	sm.bus.Emit("nodeCompleted", map[string]any{"executionId": executionID, "nodeId": nodeID, "result": result})
	return nil
}

// FailNode requires nodeId to be executing. Moves it to failed, stores a
// synthesized error result, updates progress, and emits nodeFailed. Does
// not itself change the execution's overall status.
func (sm *StateManager) FailNode(executionID, nodeID string, execErr *WorkflowError) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	st := lock.state
	if !st.executing[nodeID] {
		lock.mu.Unlock()
		return NewError(ErrStateInconsistent, fmt.Sprintf("node %q is not executing", nodeID), ErrorContext{ExecutionID: executionID, NodeID: nodeID})
	}
	delete(st.executing, nodeID)
	st.failed[nodeID] = true
	st.NodeResults[nodeID] = &NodeResult{
		NodeID:        nodeID,
		Status:        NodeFailed,
		Err:           execErr,
		Metadata:      NodeResultMetadata{EndTime: time.Now(), RetryCount: 0},
		ResourceUsage: map[string]any{},
	}
	st.CurrentTime = time.Now()
	sm.updateProgressLocked(st)
	snap := st.snapshot()
	lock.mu.Unlock()

	sm.persist(executionID, snap)
	sm.bus.Emit("nodeFailed", map[string]any{"executionId": executionID, "nodeId": nodeID, "error": execErr})
	return nil
}

// SkipNode marks nodeId as skipped — used under errorHandling=continue to
// mark transitive descendants of a failed node that will never become
// ready. Skipped nodes join the `failed` set (a node that will never run
// is, for the partition invariant and for progress/totalNodes accounting,
// indistinguishable from one that ran and failed); `skipped` itself is
// kept only as a finer-grained tag for Skipped()/NodeStatus reporting, not
// as a fifth set outside the partition.
func (sm *StateManager) SkipNode(executionID, nodeID string) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	st := lock.state
	delete(st.pending, nodeID)
	st.failed[nodeID] = true
	st.skipped[nodeID] = true
	st.NodeResults[nodeID] = &NodeResult{
		NodeID:        nodeID,
		Status:        NodeSkipped,
		Metadata:      NodeResultMetadata{EndTime: time.Now()},
		ResourceUsage: map[string]any{},
	}
	st.CurrentTime = time.Now()
	sm.updateProgressLocked(st)
	snap := st.snapshot()
	lock.mu.Unlock()

	sm.persist(executionID, snap)
	sm.bus.Emit("nodeSkipped", map[string]any{"executionId": executionID, "nodeId": nodeID})
	return nil
}

// SetNodeInput writes an explicit input for nodeId into
// dataState[nodeId+"_input"].
func (sm *StateManager) SetNodeInput(executionID, nodeID string, input any) error {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return err
	}
	lock.mu.Lock()
	lock.state.DataState[nodeID+"_input"] = input
	snap := lock.state.snapshot()
	lock.mu.Unlock()
	sm.persist(executionID, snap)
	return nil
}

func (sm *StateManager) updateProgressLocked(st *ExecutionState) {
	completed := len(st.completed)
	total := st.Progress.TotalNodes
	st.Progress.CompletedNodes = completed
	if total > 0 {
		st.Progress.Percentage = float64(completed) / float64(total) * 100
	}
	elapsed := time.Since(st.StartTime).Seconds()
	if elapsed > 0 {
		st.Progress.Throughput = float64(completed) / elapsed
	}
	if completed > 0 {
		avgPerNode := elapsed / float64(completed)
		remaining := len(st.pending) + len(st.executing)
		st.Progress.EstimatedTimeRemaining = time.Duration(avgPerNode*float64(remaining)) * time.Second
	} else {
		st.Progress.EstimatedTimeRemaining = 0
	}
	if st.concurrentSamples > 0 {
		avgConcurrent := float64(st.concurrentSum) / float64(st.concurrentSamples)
		denom := total
		if denom > 10 {
			denom = 10
		}
		if denom > 0 {
			st.Progress.ParallelEfficiency = avgConcurrent / float64(denom) * 100
		}
	}
}

// GetNodeOutput returns dataState[nodeID] and whether it is present.
func (sm *StateManager) GetNodeOutput(executionID, nodeID string) (any, bool, error) {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return nil, false, err
	}
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	out, ok := lock.state.DataState[nodeID]
	return out, ok, nil
}

// GetProgress returns a copy of the execution's current progress.
func (sm *StateManager) GetProgress(executionID string) (Progress, error) {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return Progress{}, err
	}
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	return lock.state.Progress, nil
}

// PerformanceMetrics summarizes timing/throughput numbers for the output
// shape's `performance` block (§6.5).
type PerformanceMetrics struct {
	Duration            time.Duration
	NodeTimes           map[string]time.Duration
	ParallelEfficiency  float64
	ResourceUtilization float64
	Throughput          float64
	ErrorRate           float64
	RetryRate           float64
}

// GetPerformanceMetrics computes the performance block from the current
// execution state.
func (sm *StateManager) GetPerformanceMetrics(executionID string) (PerformanceMetrics, error) {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return PerformanceMetrics{}, err
	}
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	st := lock.state

	metrics := PerformanceMetrics{
		Duration:           st.CurrentTime.Sub(st.StartTime),
		NodeTimes:          map[string]time.Duration{},
		ParallelEfficiency: st.Progress.ParallelEfficiency,
		Throughput:         st.Progress.Throughput,
	}
	var totalRetries, totalNodes int
	for id, r := range st.NodeResults {
		metrics.NodeTimes[id] = r.Metadata.Duration
		totalRetries += r.Metadata.RetryCount
		totalNodes++
	}
	if totalNodes > 0 {
		metrics.ErrorRate = float64(len(st.failed)) / float64(totalNodes)
		metrics.RetryRate = float64(totalRetries) / float64(totalNodes)
	}
	if st.Progress.TotalNodes > 0 {
		metrics.ResourceUtilization = float64(len(st.completed)+len(st.executing)) / float64(st.Progress.TotalNodes) * 100
	}
	return metrics, nil
}

// GetCurrentState returns a deep-copy snapshot of the execution's state.
func (sm *StateManager) GetCurrentState(executionID string) (*ExecutionState, error) {
	lock, err := sm.lockFor(executionID)
	if err != nil {
		return nil, err
	}
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	return lock.state.snapshot(), nil
}

// Cleanup removes state, checkpoints, and the lock for executionID, and
// notifies the persistence backend.
func (sm *StateManager) Cleanup(executionID string) error {
	sm.mu.Lock()
	delete(sm.executions, executionID)
	delete(sm.checkpoints, executionID)
	sm.mu.Unlock()

	if sm.backend != nil {
		if err := sm.backend.Cleanup(executionID); err != nil && sm.onPersistError != nil {
			sm.onPersistError(executionID, err)
		}
	}
	return nil
}

// Shutdown tears down the backend and clears all tracked state.
func (sm *StateManager) Shutdown() error {
	sm.mu.Lock()
	sm.executions = map[string]*executionLock{}
	sm.checkpoints = map[string][]*Checkpoint{}
	sm.mu.Unlock()

	if sm.backend != nil {
		return sm.backend.Shutdown()
	}
	return nil
}

// newExecutionID generates a fresh execution identifier.
func newExecutionID() string { return uuid.NewString() }
