package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentExecutionContext is the input an agent node assembles before calling
// an Agent's Execute method.
type AgentExecutionContext struct {
	Input      any
	Parameters map[string]any
}

// AgentResult is what an Agent returns; only Output is consumed by the
// agent-node handler contract (§4.3).
type AgentResult struct {
	Output any
}

// Agent is the narrow external-collaborator interface the Executor calls
// through for `agent`-kind nodes. Its internals (which model, which prompt
// template) are opaque to the core, per §1.
type Agent interface {
	Execute(ctx context.Context, execCtx AgentExecutionContext) (AgentResult, error)
}

// AgentLookup is `context.agents` from §6.1: a by-id lookup plus optional
// discovery.
type AgentLookup interface {
	Get(agentID string) (Agent, bool)
	List() []string
}

// ToolResult is what a tool invocation returns; only Output is consumed by
// the tool-node handler contract (§4.3).
type ToolResult struct {
	Output any
}

// ToolInvoker is `context.tools` from §6.1.
type ToolInvoker interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (ToolResult, error)
	List() []string
}

// StepKind is the closed set of ExecutionStep kinds streamed by stream().
type StepKind string

const (
	StepNodeStart     StepKind = "node_start"
	StepNodeComplete  StepKind = "node_complete"
	StepNodeError     StepKind = "node_error"
	StepEdgeTraverse  StepKind = "edge_traverse"
	StepCheckpoint    StepKind = "checkpoint"
)

// ExecutionStep is one transient streaming event yielded by the Executor. It
// is never retained beyond the observer.
type ExecutionStep struct {
	ID        string
	Kind      StepKind
	NodeID    string
	Timestamp time.Time
	Duration  time.Duration
	Status    string
	Input     any
	Output    any
	Metadata  map[string]any
}

func newExecutionStep(kind StepKind, nodeID string) ExecutionStep {
	return ExecutionStep{ID: uuid.NewString(), Kind: kind, NodeID: nodeID, Timestamp: time.Now()}
}

// EventEmitter turns ExecutionSteps into whatever observability sink an
// Options.Emitter wires up (logs, OpenTelemetry spans, an in-memory buffer
// for tests). The graph/event sub-package ships concrete implementations.
type EventEmitter interface {
	Emit(step ExecutionStep)
	Flush() error
}
