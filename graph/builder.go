package graph

import (
	"fmt"
	"time"
)

// Builder accumulates nodes, edges, metadata, and config toward a frozen
// GraphDefinition. It is not safe for concurrent use; callers assemble a
// graph on one goroutine and then Build it.
type Builder struct {
	id           string
	name         string
	version      string
	metadata     GraphMetadata
	nodes        map[string]Node
	edges        map[string]Edge
	globalConfig map[string]any
	inputSchema  any
	outputSchema any
	tags         []string
}

// NewBuilder starts an empty graph with the given id.
func NewBuilder(id string) *Builder {
	now := time.Now()
	return &Builder{
		id:           id,
		name:         id,
		version:      "1.0.0",
		metadata:     GraphMetadata{Created: now, Updated: now, Extra: map[string]any{}},
		nodes:        map[string]Node{},
		edges:        map[string]Edge{},
		globalConfig: map[string]any{},
	}
}

// AddNode adds a node record. Rejects a missing id, a missing kind, or an id
// collision with CONFIGURATION_INVALID. Default name is the id.
func (b *Builder) AddNode(n Node) error {
	if n.ID == "" {
		return NewError(ErrConfigurationInvalid, "node id is required", ErrorContext{GraphID: b.id})
	}
	if n.Kind == "" {
		return NewError(ErrConfigurationInvalid, "node kind is required", ErrorContext{GraphID: b.id, NodeID: n.ID})
	}
	if _, exists := b.nodes[n.ID]; exists {
		return NewError(ErrConfigurationInvalid, fmt.Sprintf("node %q already exists", n.ID), ErrorContext{GraphID: b.id, NodeID: n.ID})
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	b.nodes[n.ID] = n
	b.touch()
	return nil
}

// AddEdge adds an edge record. Rejects missing from/to, an unknown endpoint,
// or a duplicate from->to pair with CONFIGURATION_INVALID. Default kind is
// `data`; default id is `"{from}->{to}"`.
func (b *Builder) AddEdge(e Edge) error {
	if e.From == "" || e.To == "" {
		return NewError(ErrConfigurationInvalid, "edge from/to are required", ErrorContext{GraphID: b.id})
	}
	if _, ok := b.nodes[e.From]; !ok {
		return NewError(ErrConfigurationInvalid, fmt.Sprintf("edge references unknown node %q", e.From), ErrorContext{GraphID: b.id})
	}
	if _, ok := b.nodes[e.To]; !ok {
		return NewError(ErrConfigurationInvalid, fmt.Sprintf("edge references unknown node %q", e.To), ErrorContext{GraphID: b.id})
	}
	for _, existing := range b.edges {
		if existing.From == e.From && existing.To == e.To {
			return NewError(ErrConfigurationInvalid, fmt.Sprintf("edge %q->%q already exists", e.From, e.To), ErrorContext{GraphID: b.id})
		}
	}
	if e.Kind == "" {
		e.Kind = EdgeData
	}
	if e.ID == "" {
		e.ID = defaultEdgeID(e.From, e.To)
	}
	b.edges[e.ID] = e
	b.touch()
	return nil
}

// RemoveNode removes a node and every edge incident on it.
func (b *Builder) RemoveNode(id string) error {
	if _, ok := b.nodes[id]; !ok {
		return NewError(ErrConfigurationInvalid, fmt.Sprintf("unknown node %q", id), ErrorContext{GraphID: b.id, NodeID: id})
	}
	delete(b.nodes, id)
	for eid, e := range b.edges {
		if e.From == id || e.To == id {
			delete(b.edges, eid)
		}
	}
	b.touch()
	return nil
}

// RemoveEdge removes the edge between from and to.
func (b *Builder) RemoveEdge(from, to string) error {
	for eid, e := range b.edges {
		if e.From == from && e.To == to {
			delete(b.edges, eid)
			b.touch()
			return nil
		}
	}
	return NewError(ErrConfigurationInvalid, fmt.Sprintf("unknown edge %q->%q", from, to), ErrorContext{GraphID: b.id})
}

// --- Typed per-kind helpers ---

// AddInputNode adds an `input` node; config.parameters is the default output
// used when no global input is supplied.
func (b *Builder) AddInputNode(id string, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: KindInput, Config: NodeConfig{Parameters: parameters}})
}

// AddOutputNode adds an `output` node.
func (b *Builder) AddOutputNode(id string) error {
	return b.AddNode(Node{ID: id, Kind: KindOutput})
}

// AddAgentNode adds an `agent` node; agentID is required by validation.
func (b *Builder) AddAgentNode(id, agentID string, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: KindAgent, Config: NodeConfig{AgentID: agentID, Parameters: parameters}})
}

// AddToolNode adds a `tool` node; toolName is required by validation.
func (b *Builder) AddToolNode(id, toolName string, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: KindTool, Config: NodeConfig{ToolName: toolName, Parameters: parameters}})
}

// AddTransformNode adds a `transform` node backed by a Go function.
func (b *Builder) AddTransformNode(id string, fn TransformFunc, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: KindTransform, Config: NodeConfig{
		Transform:  &TransformSpec{Kind: "function", Function: fn},
		Parameters: parameters,
	}})
}

// AddTransformExprNode adds a `transform` node backed by a named expression,
// evaluated per the expression engine described in §9 (identity when absent).
func (b *Builder) AddTransformExprNode(id, expression string, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: KindTransform, Config: NodeConfig{
		Transform:  &TransformSpec{Kind: "expression", Expression: expression},
		Parameters: parameters,
	}})
}

// AddConditionNode adds a `condition` node backed by a Go predicate.
func (b *Builder) AddConditionNode(id string, fn ConditionFunc, parameters map[string]any) error {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return b.AddNode(Node{ID: id, Kind: KindCondition, Config: NodeConfig{
		Condition:  &ConditionSpec{Kind: "function", Function: fn},
		Parameters: parameters,
	}})
}

// AddDelayNode adds a `delay` node; delayMillis defaults to 1000 when zero.
func (b *Builder) AddDelayNode(id string, delayMillis int) error {
	if delayMillis == 0 {
		delayMillis = 1000
	}
	return b.AddNode(Node{ID: id, Kind: KindDelay, Config: NodeConfig{Parameters: map[string]any{"delay": delayMillis}}})
}

// AddPassthroughNode adds one of the reserved kinds (`parallel`, `sequential`,
// `merge`, `split`, `loop`, `custom`) whose minimally valid implementation
// passes input through unchanged.
func (b *Builder) AddPassthroughNode(id string, kind NodeKind, parameters map[string]any) error {
	return b.AddNode(Node{ID: id, Kind: kind, Config: NodeConfig{Parameters: parameters}})
}

// --- Metadata / config ---

// SetMetadata shallow-merges extra metadata and bumps Updated.
func (b *Builder) SetMetadata(extra map[string]any) {
	for k, v := range extra {
		b.metadata.Extra[k] = v
	}
	b.touch()
}

// SetGlobalConfig shallow-merges into the graph-wide config.
func (b *Builder) SetGlobalConfig(cfg map[string]any) {
	for k, v := range cfg {
		b.globalConfig[k] = v
	}
	b.touch()
}

// SetInputSchema replaces the declared input schema.
func (b *Builder) SetInputSchema(schema any) { b.inputSchema = schema; b.touch() }

// SetOutputSchema replaces the declared output schema.
func (b *Builder) SetOutputSchema(schema any) { b.outputSchema = schema; b.touch() }

// SetName sets the graph's display name.
func (b *Builder) SetName(name string) { b.name = name; b.touch() }

// SetVersion sets the graph's version string.
func (b *Builder) SetVersion(version string) { b.version = version; b.touch() }

// SetTags replaces the graph's tag list.
func (b *Builder) SetTags(tags []string) { b.tags = tags; b.touch() }

func (b *Builder) touch() { b.metadata.Updated = time.Now() }

// Clone returns a deep copy of the builder with a new id suffix appended.
func (b *Builder) Clone(idSuffix string) *Builder {
	clone := NewBuilder(b.id + idSuffix)
	clone.name = b.name
	clone.version = b.version
	clone.metadata = GraphMetadata{Created: b.metadata.Created, Updated: time.Now(), Extra: cloneAnyMap(b.metadata.Extra)}
	clone.globalConfig = cloneAnyMap(b.globalConfig)
	clone.inputSchema = b.inputSchema
	clone.outputSchema = b.outputSchema
	clone.tags = append([]string(nil), b.tags...)
	for id, n := range b.nodes {
		clone.nodes[id] = n.Clone()
	}
	for id, e := range b.edges {
		clone.edges[id] = e.Clone()
	}
	return clone
}

// Merge adds every node/edge of other into b. When prefix is non-empty,
// every id from other (nodes and edge endpoints) is prefixed with
// "{prefix}_"; a collision that remains is silently preserved — the
// prefixed copy keeps its own id and the unprefixed original survives.
func (b *Builder) Merge(other *Builder, prefix string) {
	rename := func(id string) string {
		if prefix == "" {
			return id
		}
		return prefix + "_" + id
	}
	for id, n := range other.nodes {
		n.ID = rename(id)
		b.nodes[n.ID] = n
	}
	for id, e := range other.edges {
		e.From = rename(e.From)
		e.To = rename(e.To)
		e.ID = rename(id)
		b.edges[e.ID] = e
	}
	b.touch()
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Build runs validation and freezes a GraphDefinition. Fails
// VALIDATION_FAILED if any error-severity finding exists. Nodes and edges
// are deep-copied so the builder stays free to keep mutating its own maps
// (or Build again) without reaching into a definition an Executor may
// already be reading concurrently.
func (b *Builder) Build() (*GraphDefinition, error) {
	nodes := make(map[string]Node, len(b.nodes))
	for id, n := range b.nodes {
		nodes[id] = n.Clone()
	}
	edges := make(map[string]Edge, len(b.edges))
	for id, e := range b.edges {
		edges[id] = e.Clone()
	}

	def := &GraphDefinition{
		ID:           b.id,
		Name:         b.name,
		Version:      b.version,
		Metadata:     b.metadata,
		Nodes:        nodes,
		Edges:        edges,
		GlobalConfig: cloneAnyMap(b.globalConfig),
		InputSchema:  b.inputSchema,
		OutputSchema: b.outputSchema,
		Tags:         append([]string(nil), b.tags...),
	}

	result := Validate(def)
	if !result.Valid {
		return nil, NewError(ErrValidationFailed, "graph failed validation", ErrorContext{
			GraphID:        b.id,
			AdditionalInfo: map[string]any{"validation": result},
		})
	}
	return def, nil
}

// BuildExecutable calls Build, then compiles the dependency map,
// topological order, and ExecutionPlan.
func (b *Builder) BuildExecutable(runtimeConfig map[string]any) (*ExecutableGraph, error) {
	def, err := b.Build()
	if err != nil {
		return nil, err
	}
	return compilePlan(def, runtimeConfig)
}
