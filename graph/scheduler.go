package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// scheduler runs one execution's node-dispatch loop over its ExecutableGraph,
// under a particular Strategy. It is constructed fresh per ExecuteGraph/
// Stream call and is not reused across executions.
type scheduler struct {
	ex          *Executor
	executionID string
	graph       *ExecutableGraph
	input       ExecutionInput
	entry       *execEntry
	pool        *ResourcePool
	emit        func(ExecutionStep)

	mu                sync.Mutex
	consecutiveErrors int
	failures          []*WorkflowError
	firstErr          error
}

// runSequential iterates SortedNodes in topological order, dispatching each
// synchronously; a node whose activating predecessors are all absent is
// skipped (continue) or left pending forever (fail_fast).
func (s *scheduler) runSequential(ctx context.Context) error {
	for _, nodeID := range s.graph.SortedNodes {
		if s.entry.isCancelled() || ctx.Err() != nil {
			return NewError(ErrCancelled, "execution cancelled", ErrorContext{ExecutionID: s.executionID})
		}
		s.entry.waitIfPaused(ctx)

		snap, err := s.ex.sm.GetCurrentState(s.executionID)
		if err != nil {
			return err
		}
		if !boolSetContains(snap.pendingSet(), nodeID) {
			continue // already resolved (e.g. was marked skipped earlier)
		}

		active, skip := s.evaluateReadiness(snap, nodeID)
		if skip {
			_ = s.ex.sm.SkipNode(s.executionID, nodeID)
			continue
		}
		if !active {
			// A propagating predecessor is not yet resolved; since sequential
			// order already respects the topological sort this should not
			// happen outside conditional/failure edge cases covered above.
			continue
		}

		if err := s.dispatchNode(ctx, s.graph.Definition.Nodes[nodeID], snap); err != nil {
			if s.ex.options.ErrorHandling == ErrorHandlingFailFast {
				return err
			}
			s.recordFailure(err)
		}
	}
	return s.finish()
}

// runParallelOverSet drives nodes in nodeSet to a terminal status, dispatching
// every ready node concurrently up to limit, honoring pause/cancel/fail_fast.
// Dispatches run under an errgroup.Group: under fail_fast, a node failure's
// returned error cancels the group's derived context, which propagates into
// every in-flight dispatchNode call (its timeout/handler context and any
// blocked resource-pool Acquire) rather than merely stopping new dispatch.
func (s *scheduler) runParallelOverSet(ctx context.Context, nodeSet map[string]bool, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	dispatched := map[string]bool{}
	wake := make(chan struct{}, len(nodeSet)+1)
	var inFlight int
	var mu sync.Mutex

	for {
		if s.entry.isCancelled() || gctx.Err() != nil {
			break
		}
		s.entry.waitIfPaused(gctx)
		if s.entry.isCancelled() || gctx.Err() != nil {
			break
		}

		snap, err := s.ex.sm.GetCurrentState(s.executionID)
		if err != nil {
			return err
		}

		ready, toSkip := s.computeReady(snap, nodeSet, dispatched)
		for _, id := range toSkip {
			_ = s.ex.sm.SkipNode(s.executionID, id)
			dispatched[id] = true
		}

		mu.Lock()
		slots := limit - inFlight
		mu.Unlock()
		if slots < 0 {
			slots = 0
		}
		if slots > len(ready) {
			slots = len(ready)
		}
		toDispatch := ready[:slots]

		if len(toDispatch) == 0 {
			mu.Lock()
			n := inFlight
			mu.Unlock()
			if n == 0 && len(ready) == 0 {
				break
			}
			<-wake
			continue
		}

		for _, nodeID := range toDispatch {
			dispatched[nodeID] = true
			mu.Lock()
			inFlight++
			mu.Unlock()
			node := s.graph.Definition.Nodes[nodeID]
			g.Go(func() error {
				defer func() {
					mu.Lock()
					inFlight--
					mu.Unlock()
					select {
					case wake <- struct{}{}:
					default:
					}
				}()
				dispatchSnap, _ := s.ex.sm.GetCurrentState(s.executionID)
				err := s.dispatchNode(gctx, node, dispatchSnap)
				if err == nil {
					s.onNodeSuccess()
					return nil
				}
				s.onNodeError(err)
				if s.ex.options.ErrorHandling == ErrorHandlingFailFast {
					return err // cancels gctx for every sibling dispatch
				}
				return nil
			})
		}
	}

	waitErr := g.Wait()
	if s.entry.isCancelled() || ctx.Err() != nil {
		return NewError(ErrCancelled, "execution cancelled", ErrorContext{ExecutionID: s.executionID})
	}
	return waitErr
}

// runHybrid executes the plan's antichain phases in order, running each
// phase's nodes in parallel with a barrier between phases, then aggregates
// every recorded failure exactly once at the end.
func (s *scheduler) runHybrid(ctx context.Context) error {
	for _, phase := range s.graph.Plan.Phases {
		set := make(map[string]bool, len(phase))
		for _, id := range phase {
			set[id] = true
		}
		if err := s.runParallelOverSet(ctx, set, s.ex.options.MaxConcurrency); err != nil {
			return err
		}
		if s.entry.isCancelled() || ctx.Err() != nil {
			return NewError(ErrCancelled, "execution cancelled", ErrorContext{ExecutionID: s.executionID})
		}
	}
	return s.finish()
}

// runAdaptive behaves like parallel over every node. The limit is halved only
// when two or more consecutive failures are already recorded, and that count
// is read once, before dispatch starts, on a fresh scheduler where it is zero;
// the run therefore uses MaxConcurrency throughout and does not narrow the
// limit as node failures occur.
func (s *scheduler) runAdaptive(ctx context.Context) error {
	limit := s.ex.options.MaxConcurrency
	s.mu.Lock()
	if s.consecutiveErrors >= 2 && limit > 1 {
		limit = limit / 2
		if limit < 1 {
			limit = 1
		}
	}
	s.mu.Unlock()
	if err := s.runParallelOverSet(ctx, allNodeSet(s.graph), limit); err != nil {
		return err
	}
	return s.finish()
}

func (s *scheduler) onNodeError(err error) {
	s.mu.Lock()
	s.consecutiveErrors++
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if we, ok := err.(*WorkflowError); ok {
		s.recordFailure(we)
	}
}

func (s *scheduler) onNodeSuccess() {
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
}

func (s *scheduler) recordFailure(err error) {
	we := Wrap(err, ErrorContext{ExecutionID: s.executionID})
	s.mu.Lock()
	s.failures = append(s.failures, we)
	s.mu.Unlock()
}

func (s *scheduler) hasFirstErr() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr != nil
}

func (s *scheduler) firstErrValue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// finish returns the aggregated MULTIPLE_NODE_FAILURES error when two or more
// failures were recorded under continue mode, the single failure's error
// otherwise, or nil on a clean run.
func (s *scheduler) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch len(s.failures) {
	case 0:
		return nil
	case 1:
		return s.failures[0]
	default:
		return NewMultipleNodeFailures(s.failures, ErrorContext{ExecutionID: s.executionID})
	}
}

// computeReady scans nodeSet's still-pending members and classifies each as
// ready, to-be-skipped (continue mode, zero remaining activating
// predecessors), or still-waiting. The returned ready slice is deterministic
// (sorted by node priority then id) so repeated ticks behave predictably.
func (s *scheduler) computeReady(snap *ExecutionState, nodeSet map[string]bool, dispatched map[string]bool) (ready []string, toSkip []string) {
	for nodeID := range nodeSet {
		if dispatched[nodeID] || !boolSetContains(snap.pendingSet(), nodeID) {
			continue
		}
		active, skip := s.evaluateReadiness(snap, nodeID)
		if skip {
			toSkip = append(toSkip, nodeID)
		} else if active {
			ready = append(ready, nodeID)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		ni, nj := s.graph.Definition.Nodes[ready[i]], s.graph.Definition.Nodes[ready[j]]
		if ni.Priority != nj.Priority {
			return ni.Priority < nj.Priority
		}
		return ready[i] < ready[j]
	})
	return ready, toSkip
}

// evaluateReadiness classifies nodeID against the current snapshot. A node
// activates when at least one incoming edge resolves to an activating
// predecessor: a completed source on a data/control/loop edge, a completed
// source on a conditional edge whose condition evaluated true, or a failed
// source on an error edge (the compensation/error-handler path). skip means
// every incoming edge resolved without activating the node, under
// errorHandling=continue.
func (s *scheduler) evaluateReadiness(snap *ExecutionState, nodeID string) (active, skip bool) {
	edges := s.graph.Definition.incomingEdges(nodeID)
	if len(edges) == 0 {
		return true, false
	}

	completed := snap.completedSet()
	failed := snap.failedSet()
	skipped := snap.skippedSet()

	activeCount := 0
	for _, e := range edges {
		if e.Kind == EdgeError {
			switch {
			// skipped is checked first: a skipped predecessor is folded into
			// `failed` for the partition invariant, but it never actually ran
			// and must not trigger its error-handler/compensation successor.
			case skipped[e.From]:
				continue // source never failed: this edge never activates
			case failed[e.From]:
				activeCount++
			case completed[e.From]:
				continue // source never failed: this edge never activates
			default:
				return false, false // source not yet resolved: must wait
			}
			continue
		}
		if !e.Kind.propagatesDependency() {
			continue // unrecognized/non-dependency edge kind: ignore
		}
		switch {
		case completed[e.From]:
			if e.Kind == EdgeConditional {
				ok, err := evaluateEdgeCondition(e, snap.DataState[e.From])
				if err != nil || !ok {
					continue // deactivated: doesn't block, doesn't activate
				}
			}
			activeCount++
		case failed[e.From] || skipped[e.From]:
			continue // predecessor never produced output: edge absent
		default:
			return false, false // still pending/executing: must wait
		}
	}

	if activeCount > 0 {
		return true, false
	}
	if s.ex.options.ErrorHandling == ErrorHandlingContinue {
		return false, true
	}
	return false, false
}

// evaluateEdgeCondition runs an edge's ConditionSpec against the source
// node's output. An edge with no condition, or an expression-kind condition
// with no declared engine, is treated as unconditionally true (§9).
func evaluateEdgeCondition(e Edge, sourceOutput any) (bool, error) {
	if e.Condition == nil {
		return true, nil
	}
	if e.Condition.Kind == "function" && e.Condition.Function != nil {
		return e.Condition.Function(sourceOutput, nil)
	}
	return true, nil
}

// assembleInput gathers every completed activating predecessor's output plus
// any explicitly-set node input and the global execution input, per §4.3's
// node dispatch algorithm step 2.
func (s *scheduler) assembleInput(snap *ExecutionState, node Node) map[string]any {
	assembled := map[string]any{}
	for _, e := range s.graph.Definition.incomingEdges(node.ID) {
		if e.Kind == EdgeError {
			if r, ok := snap.NodeResults[e.From]; ok && r.Status == NodeFailed && r.Err != nil {
				assembled[e.From] = r.Err
			}
			continue
		}
		if !e.Kind.propagatesDependency() {
			continue
		}
		if out, ok := snap.DataState[e.From]; ok {
			if e.Transform != nil && e.Transform.Kind == "function" && e.Transform.Function != nil {
				if transformed, err := e.Transform.Function(out, nil); err == nil {
					out = transformed
				}
			}
			assembled[e.From] = out
		}
	}
	if explicit, ok := snap.DataState[node.ID+"_input"]; ok {
		assembled["_nodeInput"] = explicit
	}
	if node.Kind == KindInput {
		if s.input.Data != nil {
			assembled["_globalInput"] = s.input.Data
		} else if v, ok := s.input.NodeInputs[node.ID]; ok {
			assembled["_globalInput"] = v
		}
	}
	return assembled
}

// dispatchNode runs one node through its handler, retrying per its effective
// RetryPolicy on a retryable failure, honoring the node's timeout on every
// attempt, and recording the outcome via the StateManager.
func (s *scheduler) dispatchNode(ctx context.Context, node Node, snap *ExecutionState) error {
	input := s.assembleInput(snap, node)

	if err := s.ex.sm.StartNode(s.executionID, node.ID, input); err != nil {
		return err
	}
	start := time.Now()
	s.emit(ExecutionStep{Kind: StepNodeStart, NodeID: node.ID, Timestamp: start, Input: input, Status: "executing"})

	policy := node.RetryPolicy
	if policy == nil {
		fallback := s.ex.options.Retry
		policy = &fallback
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		werr := NewError(ErrCancelled, "cancelled waiting for a resource pool slot", ErrorContext{ExecutionID: s.executionID, NodeID: node.ID})
		_ = s.ex.sm.FailNode(s.executionID, node.ID, werr)
		return werr
	}

	var output any
	var lastErr *WorkflowError
	retryCount := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			release, err = s.pool.Acquire(ctx)
			if err != nil {
				lastErr = NewError(ErrCancelled, "cancelled waiting to retry", ErrorContext{ExecutionID: s.executionID, NodeID: node.ID})
				break
			}
		}

		errCtx := ErrorContext{ExecutionID: s.executionID, NodeID: node.ID, NodeKind: node.Kind, RetryCount: attempt, MaxRetries: maxAttempts - 1}
		handler := s.ex.handlers[node.Kind]
		out, herr := runWithTimeout(ctx, node, s.ex.options.Timeout, func(dctx context.Context) (any, error) {
			return handler.Handle(dctx, node.Config, input, s.ex.hctx)
		}, errCtx)
		release()

		if herr == nil {
			output = out
			lastErr = nil
			break
		}

		we := Wrap(herr, errCtx)
		lastErr = we
		if attempt == maxAttempts-1 || !isRetryableError(policy, we) {
			break
		}
		retryCount = attempt + 1
		if s.ex.options.Metrics != nil {
			s.ex.options.Metrics.IncrementRetries(s.executionID, node.ID, string(we.Kind))
		}
		delay := computeBackoff(policy, retryCount)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = NewError(ErrCancelled, "cancelled during retry backoff", errCtx)
				goto done
			}
		}
	}

done:
	duration := time.Since(start)
	if s.ex.options.Metrics != nil {
		status := "completed"
		if lastErr != nil {
			status = "failed"
			if lastErr.Kind == ErrTimeout {
				status = "timeout"
			}
		}
		s.ex.options.Metrics.RecordStepLatency(s.executionID, node.ID, duration, status)
	}

	if lastErr == nil {
		result := &NodeResult{
			NodeID: node.ID,
			Output: output,
			Metadata: NodeResultMetadata{StartTime: start, EndTime: time.Now(), Duration: duration, RetryCount: retryCount},
			ResourceUsage: map[string]any{},
		}
		if err := s.ex.sm.CompleteNode(s.executionID, node.ID, result); err != nil {
			return err
		}
		s.ex.sm.maybeCheckpointOnNodeCompletion(s.executionID, s.ex.options.Checkpointing)
		s.emit(ExecutionStep{Kind: StepNodeComplete, NodeID: node.ID, Timestamp: time.Now(), Duration: duration, Output: output, Status: "completed"})
		return nil
	}

	lastErr.Context.RetryCount = retryCount
	sanitized := lastErr.Sanitize()
	if err := s.ex.sm.FailNode(s.executionID, node.ID, sanitized); err != nil {
		return err
	}
	s.emit(ExecutionStep{Kind: StepNodeError, NodeID: node.ID, Timestamp: time.Now(), Duration: duration, Status: "failed", Metadata: map[string]any{"error": sanitized.Message, "kind": string(sanitized.Kind)}})
	return sanitized
}

func boolSetContains(set map[string]bool, id string) bool { return set[id] }

func (st *ExecutionState) pendingSet() map[string]bool   { return st.pending }
func (st *ExecutionState) completedSet() map[string]bool { return st.completed }
func (st *ExecutionState) failedSet() map[string]bool     { return st.failed }
func (st *ExecutionState) skippedSet() map[string]bool    { return st.skipped }
