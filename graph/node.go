package graph

import "time"

// NodeKind is the closed set of node kinds a GraphDefinition may contain.
type NodeKind string

const (
	KindInput      NodeKind = "input"
	KindOutput     NodeKind = "output"
	KindAgent      NodeKind = "agent"
	KindTool       NodeKind = "tool"
	KindTransform  NodeKind = "transform"
	KindCondition  NodeKind = "condition"
	KindParallel   NodeKind = "parallel"
	KindSequential NodeKind = "sequential"
	KindMerge      NodeKind = "merge"
	KindSplit      NodeKind = "split"
	KindLoop       NodeKind = "loop"
	KindDelay      NodeKind = "delay"
	KindCustom     NodeKind = "custom"
)

// nodeKinds is the closed set used by validation to reject unknown kinds.
var nodeKinds = map[NodeKind]bool{
	KindInput: true, KindOutput: true, KindAgent: true, KindTool: true,
	KindTransform: true, KindCondition: true, KindParallel: true,
	KindSequential: true, KindMerge: true, KindSplit: true, KindLoop: true,
	KindDelay: true, KindCustom: true,
}

// IsValidNodeKind reports whether kind belongs to the closed set.
func IsValidNodeKind(kind NodeKind) bool { return nodeKinds[kind] }

// TransformFunc is a kind-specific handler for a transform node's config.
// It receives the assembled input and the node's parameters.
type TransformFunc func(input any, parameters map[string]any) (any, error)

// ConditionFunc evaluates a condition node's predicate against the assembled
// input and parameters.
type ConditionFunc func(input any, parameters map[string]any) (bool, error)

// TransformSpec is the `transform` field of a transform-node config, or of an
// edge's transform. Exactly one of Function or Expression is meaningful,
// selected by Kind.
type TransformSpec struct {
	// Kind is "function" or "expression".
	Kind       string
	Function   TransformFunc
	Expression string
}

// ConditionSpec is the `parameters.condition` field of a condition node, or
// an edge's condition. Exactly one of Function or Expression is meaningful.
type ConditionSpec struct {
	Kind       string
	Function   ConditionFunc
	Expression string
}

// RetryPolicy configures per-node retry behavior. See graph/policy.go for the
// backoff computation that consumes this.
type RetryPolicy struct {
	MaxAttempts      int
	BackoffStrategy  BackoffStrategy
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	RetryableErrors  []ErrorKind
}

// BackoffStrategy names the retry delay growth function.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// NodeConfig carries every kind-specific configuration field. Only the
// fields relevant to a node's Kind are consulted by its handler; the rest are
// zero-valued. Parameters is a free-form bag for kind-specific extras
// (condition predicates, delay duration, input-node defaults, custom config).
type NodeConfig struct {
	AgentID    string
	ToolName   string
	Transform  *TransformSpec
	Condition  *ConditionSpec
	Parameters map[string]any
}

// Node is a single unit of work inside a GraphDefinition.
type Node struct {
	ID           string
	Kind         NodeKind
	Name         string
	Config       NodeConfig
	InputSchema  any
	OutputSchema any
	Position     [2]float64
	Timeout      time.Duration
	Priority     int
	RetryPolicy  *RetryPolicy
}

// Clone returns a structural copy of the node suitable for Builder.Clone.
func (n Node) Clone() Node {
	clone := n
	if n.RetryPolicy != nil {
		rp := *n.RetryPolicy
		rp.RetryableErrors = append([]ErrorKind(nil), n.RetryPolicy.RetryableErrors...)
		clone.RetryPolicy = &rp
	}
	if n.Config.Parameters != nil {
		params := make(map[string]any, len(n.Config.Parameters))
		for k, v := range n.Config.Parameters {
			params[k] = v
		}
		clone.Config.Parameters = params
	}
	return clone
}
