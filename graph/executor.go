package graph

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExecutionInput is the input shape accepted by ExecuteGraph/Stream (§6.4).
type ExecutionInput struct {
	Data            any
	SessionID       string
	UserID          string
	Graph           *GraphDefinition
	NodeInputs      map[string]any
	ExecutionConfig map[string]any
	Streaming       bool

	// ExecutionID, if set, is used instead of generating a new one. Lets a
	// caller (e.g. an HTTP transport accepting a stream subscription before
	// the run starts) know the id up front.
	ExecutionID string
}

func (in ExecutionInput) executionID() string {
	if in.ExecutionID != "" {
		return in.ExecutionID
	}
	return newExecutionID()
}

// Validate rejects an ExecutionInput missing sessionId, or missing both Data
// and NodeInputs.
func (in ExecutionInput) Validate() error {
	if in.SessionID == "" {
		return NewError(ErrConfigurationInvalid, "sessionId is required", ErrorContext{})
	}
	if in.Data == nil && len(in.NodeInputs) == 0 {
		return NewError(ErrConfigurationInvalid, "one of data or nodeInputs is required", ErrorContext{})
	}
	return nil
}

// ExecutionSummary is the `execution` block of the output shape (§6.5).
type ExecutionSummary struct {
	ExecutionID     string
	Start           time.Time
	End             time.Time
	Duration        time.Duration
	Status          Status
	NodeCount       int
	CompletedNodes  int
	FailedNodes     int
	Strategy        Strategy
	CheckpointsCount int
}

// ExecutionOutput is the full output shape (§6.5).
type ExecutionOutput struct {
	Success       bool
	Result        map[string]any
	Execution     ExecutionSummary
	NodeResults   map[string]*NodeResult
	ExecutionPath []string
	Performance   PerformanceMetrics
	Checkpoints   []*Checkpoint
	Warnings      []string
}

// execEntry tracks the cooperative lifecycle-control state for one
// in-flight execution.
type execEntry struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	cancel    context.CancelFunc
	resumeCh  chan struct{}
}

func newExecEntry(cancel context.CancelFunc) *execEntry {
	return &execEntry{cancel: cancel, resumeCh: make(chan struct{})}
}

func (e *execEntry) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *execEntry) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *execEntry) pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

func (e *execEntry) resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		close(e.resumeCh)
		e.resumeCh = make(chan struct{})
	}
}

func (e *execEntry) waitIfPaused(ctx context.Context) {
	for e.isPaused() && !e.isCancelled() {
		e.mu.Lock()
		ch := e.resumeCh
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (e *execEntry) cancelNow() {
	e.mu.Lock()
	e.cancelled = true
	paused := e.paused
	e.paused = false
	ch := e.resumeCh
	e.mu.Unlock()
	if paused {
		close(ch)
	}
	e.cancel()
}

// Executor drives one or more executions of ExecutableGraphs, dispatching
// ready nodes to the closed NodeKind -> Handler table through a per-execution
// bounded ResourcePool, honoring strategy/timeout/errorHandling/retry
// configuration and lifecycle controls.
type Executor struct {
	sm       *StateManager
	handlers map[NodeKind]Handler
	hctx     *HandlerContext
	options  Options

	mu      sync.Mutex
	entries map[string]*execEntry
	history []ExecutionSummary
}

// NewExecutor constructs an Executor from functional options. A fresh
// in-memory StateManager backend is used unless WithBackend overrides it.
func NewExecutor(opts ...Option) (*Executor, error) {
	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}
	var backend StateBackend = o.Backend
	bus := NewEventBus(func(event string, recovered any) {
		if o.Emitter != nil {
			o.Emitter.Emit(ExecutionStep{Kind: StepNodeError, Status: "warning", Metadata: map[string]any{"event": event, "panic": recovered}})
		}
	})
	sm := NewStateManager(backend, o.Checkpointing.Retention, bus)

	return &Executor{
		sm:       sm,
		handlers: defaultHandlers(),
		hctx:     &HandlerContext{Agents: o.AgentLookup, Tools: o.ToolInvoker},
		options:  o,
		entries:  map[string]*execEntry{},
	}, nil
}

// SetHandler overrides the built-in handler for kind; useful for tests and
// for extending the reserved kinds beyond pass-through.
func (ex *Executor) SetHandler(kind NodeKind, h Handler) { ex.handlers[kind] = h }

// ValidateGraph runs Validate over a GraphDefinition.
func (ex *Executor) ValidateGraph(def *GraphDefinition) ValidationResult { return Validate(def) }

// BuildGraph compiles a Builder into an ExecutableGraph.
func (ex *Executor) BuildGraph(b *Builder, runtimeConfig map[string]any) (*ExecutableGraph, error) {
	return b.BuildExecutable(runtimeConfig)
}

// GetExecutionState returns a snapshot of one execution's current state.
func (ex *Executor) GetExecutionState(executionID string) (*ExecutionState, error) {
	return ex.sm.GetCurrentState(executionID)
}

// PauseExecution sets the paused flag; status transitions to paused. Returns
// false when the execution is unknown.
func (ex *Executor) PauseExecution(executionID string) bool {
	entry := ex.entry(executionID)
	if entry == nil {
		return false
	}
	entry.pause()
	_ = ex.sm.UpdateExecutionStatus(executionID, StatusPaused)
	return true
}

// ResumeExecution clears the paused flag; status returns to running.
func (ex *Executor) ResumeExecution(executionID string) bool {
	entry := ex.entry(executionID)
	if entry == nil {
		return false
	}
	entry.resume()
	_ = ex.sm.UpdateExecutionStatus(executionID, StatusRunning)
	return true
}

// CancelExecution sets cancelled; the scheduling loop exits at the next
// opportunity and in-flight nodes are allowed to finish.
func (ex *Executor) CancelExecution(executionID string) bool {
	entry := ex.entry(executionID)
	if entry == nil {
		return false
	}
	entry.cancelNow()
	_ = ex.sm.UpdateExecutionStatus(executionID, StatusCancelled)
	return true
}

// GetExecutionHistory returns every completed ExecutionSummary recorded so
// far, most recent first. filters is currently unused (reserved for
// future status/date filtering) and accepted for interface stability.
func (ex *Executor) GetExecutionHistory(filters map[string]any) []ExecutionSummary {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	out := make([]ExecutionSummary, len(ex.history))
	copy(out, ex.history)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out
}

// GetCapabilities reports the closed sets this Executor supports.
func (ex *Executor) GetCapabilities() map[string]any {
	kinds := make([]string, 0, len(ex.handlers))
	for k := range ex.handlers {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return map[string]any{
		"nodeKinds":  kinds,
		"strategies": []string{string(StrategySequential), string(StrategyParallel), string(StrategyHybrid), string(StrategyAdaptive)},
		"errorHandling": []string{string(ErrorHandlingFailFast), string(ErrorHandlingContinue)},
	}
}

// Shutdown cancels every active execution and tears down the StateManager.
func (ex *Executor) Shutdown() error {
	ex.mu.Lock()
	for _, e := range ex.entries {
		e.cancelNow()
	}
	ex.mu.Unlock()
	return ex.sm.Shutdown()
}

func (ex *Executor) entry(executionID string) *execEntry {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.entries[executionID]
}

// ExecuteGraph runs a graph synchronously to completion and returns the
// final output shape.
func (ex *Executor) ExecuteGraph(ctx context.Context, graph *ExecutableGraph, input ExecutionInput) (*ExecutionOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	executionID := input.executionID()
	_, err := ex.sm.Initialize(executionID, graph.Definition)
	if err != nil {
		return nil, err
	}
	for nodeID, v := range input.NodeInputs {
		_ = ex.sm.SetNodeInput(executionID, nodeID, v)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if ex.options.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, ex.options.Timeout)
		defer timeoutCancel()
	}
	entry := newExecEntry(cancel)
	ex.mu.Lock()
	ex.entries[executionID] = entry
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		delete(ex.entries, executionID)
		ex.mu.Unlock()
	}()

	_ = ex.sm.UpdateExecutionStatus(executionID, StatusRunning)

	runErr := ex.run(runCtx, executionID, graph, input, entry)

	if runCtx.Err() == context.DeadlineExceeded {
		runErr = NewError(ErrTimeout, "execution exceeded overall timeout", ErrorContext{ExecutionID: executionID})
	}

	finalStatus := StatusCompleted
	switch {
	case entry.isCancelled():
		finalStatus = StatusCancelled
	case runErr != nil:
		finalStatus = StatusFailed
	}
	_ = ex.sm.UpdateExecutionStatus(executionID, finalStatus)

	output, buildErr := ex.buildOutput(executionID, graph, finalStatus, runErr)
	if buildErr != nil {
		return nil, buildErr
	}

	ex.mu.Lock()
	ex.history = append(ex.history, output.Execution)
	ex.mu.Unlock()

	if runErr != nil {
		return output, runErr
	}
	return output, nil
}

func (ex *Executor) buildOutput(executionID string, graph *ExecutableGraph, status Status, runErr error) (*ExecutionOutput, error) {
	state, err := ex.sm.GetCurrentState(executionID)
	if err != nil {
		return nil, err
	}
	perf, _ := ex.sm.GetPerformanceMetrics(executionID)
	checkpoints := ex.sm.GetCheckpoints(executionID)

	result := make(map[string]any, len(state.DataState))
	for k, v := range state.DataState {
		if _, isNode := graph.Definition.Nodes[k]; isNode {
			result[k] = v
		}
	}

	var path []string
	for _, id := range graph.SortedNodes {
		if _, ok := state.NodeResults[id]; ok {
			path = append(path, id)
		}
	}

	var warnings []string
	for _, w := range graph.Validation.Warnings {
		warnings = append(warnings, w.Message)
	}

	return &ExecutionOutput{
		Success: status == StatusCompleted,
		Result:  result,
		Execution: ExecutionSummary{
			ExecutionID:      executionID,
			Start:            state.StartTime,
			End:              state.CurrentTime,
			Duration:         state.CurrentTime.Sub(state.StartTime),
			Status:           status,
			NodeCount:        len(graph.Definition.Nodes),
			CompletedNodes:   len(state.completed),
			FailedNodes:      len(state.failed),
			Strategy:         ex.options.Strategy,
			CheckpointsCount: len(checkpoints),
		},
		NodeResults:   state.NodeResults,
		ExecutionPath: path,
		Performance:   perf,
		Checkpoints:   checkpoints,
		Warnings:      warnings,
	}, nil
}

// Stream runs a graph and emits ExecutionStep events to emit as they occur.
// It blocks until the execution reaches a terminal status (or ctx is done)
// and returns the same error ExecuteGraph would.
func (ex *Executor) Stream(ctx context.Context, graph *ExecutableGraph, input ExecutionInput, emit func(ExecutionStep)) (*ExecutionOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	executionID := input.executionID()
	_, err := ex.sm.Initialize(executionID, graph.Definition)
	if err != nil {
		return nil, err
	}
	for nodeID, v := range input.NodeInputs {
		_ = ex.sm.SetNodeInput(executionID, nodeID, v)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if ex.options.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, ex.options.Timeout)
		defer timeoutCancel()
	}
	entry := newExecEntry(cancel)
	ex.mu.Lock()
	ex.entries[executionID] = entry
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		delete(ex.entries, executionID)
		ex.mu.Unlock()
	}()

	_ = ex.sm.UpdateExecutionStatus(executionID, StatusRunning)
	runErr := ex.runWithEmit(runCtx, executionID, graph, input, entry, emit)

	if runCtx.Err() == context.DeadlineExceeded {
		runErr = NewError(ErrTimeout, "execution exceeded overall timeout", ErrorContext{ExecutionID: executionID})
	}

	finalStatus := StatusCompleted
	switch {
	case entry.isCancelled():
		finalStatus = StatusCancelled
	case runErr != nil:
		finalStatus = StatusFailed
	}
	_ = ex.sm.UpdateExecutionStatus(executionID, finalStatus)
	output, buildErr := ex.buildOutput(executionID, graph, finalStatus, runErr)
	if buildErr != nil {
		return nil, buildErr
	}
	return output, runErr
}

func (ex *Executor) runWithEmit(ctx context.Context, executionID string, graph *ExecutableGraph, input ExecutionInput, entry *execEntry, emit func(ExecutionStep)) error {
	if emit == nil {
		emit = func(ExecutionStep) {}
	}
	return ex.run(ctx, executionID, graph, input, entry, emit)
}

func (ex *Executor) run(ctx context.Context, executionID string, graph *ExecutableGraph, input ExecutionInput, entry *execEntry, emitters ...func(ExecutionStep)) error {
	emit := func(step ExecutionStep) {
		for _, fn := range emitters {
			fn(step)
		}
		if ex.options.Emitter != nil {
			ex.options.Emitter.Emit(step)
		}
	}

	pool := NewResourcePool(ex.options.MaxConcurrency, ex.options.RateLimiter)
	if ex.options.Metrics != nil {
		pool = pool.WithMetrics(ex.options.Metrics, executionID)
	}

	sched := &scheduler{
		ex:          ex,
		executionID: executionID,
		graph:       graph,
		input:       input,
		entry:       entry,
		pool:        pool,
		emit:        emit,
	}

	switch ex.options.Strategy {
	case StrategySequential:
		return sched.runSequential(ctx)
	case StrategyHybrid:
		return sched.runHybrid(ctx)
	case StrategyAdaptive:
		return sched.runAdaptive(ctx)
	default:
		if err := sched.runParallelOverSet(ctx, allNodeSet(graph), ex.options.MaxConcurrency); err != nil {
			return err
		}
		return sched.finish()
	}
}

func allNodeSet(graph *ExecutableGraph) map[string]bool {
	set := make(map[string]bool, len(graph.Definition.Nodes))
	for id := range graph.Definition.Nodes {
		set[id] = true
	}
	return set
}
