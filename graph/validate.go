package graph

import "sort"

// maxComplexityBeforeWarning is the |nodes|+|edges| threshold past which
// Validate emits a "high complexity" warning.
const maxComplexityBeforeWarning = 50

// maxFanBeforeWarning is the fan-in/fan-out count at or above which Validate
// emits a "potential bottleneck" warning.
const maxFanBeforeWarning = 8

// Validate runs structural, semantic, and performance checks over a
// GraphDefinition and returns a ValidationResult per §4.1.
func Validate(def *GraphDefinition) ValidationResult {
	result := ValidationResult{Valid: true}

	for id := range def.Nodes {
		n := def.Nodes[id]
		if !IsValidNodeKind(n.Kind) {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "UNKNOWN_NODE_KIND",
				Message: "node kind is not in the closed set", NodeID: id,
			})
		}
		result.Errors = append(result.Errors, validateNodeConfig(n)...)
	}

	for eid, e := range def.Edges {
		if _, ok := def.Nodes[e.From]; !ok {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "UNKNOWN_EDGE_ENDPOINT",
				Message: "edge references unknown source node", EdgeID: eid,
			})
		}
		if _, ok := def.Nodes[e.To]; !ok {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "UNKNOWN_EDGE_ENDPOINT",
				Message: "edge references unknown destination node", EdgeID: eid,
			})
		}
		if e.Kind == EdgeConditional && e.Condition == nil {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "MISSING_CONDITION",
				Message: "conditional edge must carry a condition", EdgeID: eid,
			})
		}
		if e.Transform != nil && e.Transform.Kind != "" && e.Transform.Function == nil && e.Transform.Expression == "" {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "MISSING_TRANSFORM_FUNCTION",
				Message: "edge transform declares a kind but no function or expression", EdgeID: eid,
			})
		}
	}

	cycles := detectCycles(def)
	if len(cycles) > 0 {
		for _, c := range cycles {
			result.Errors = append(result.Errors, ValidationFinding{
				Severity: SeverityFindingError, Code: "CYCLE_DETECTED",
				Message: "graph contains a cycle",
			})
		}
	}

	result.Warnings, result.Suggestions = collectAdvisories(def)
	result.Metadata = computeValidationMetadata(def, cycles)

	for _, f := range result.Errors {
		_ = f
	}
	result.Valid = len(result.Errors) == 0
	return result
}

func validateNodeConfig(n Node) []ValidationFinding {
	var out []ValidationFinding
	switch n.Kind {
	case KindAgent:
		if n.Config.AgentID == "" {
			out = append(out, ValidationFinding{Severity: SeverityFindingError, Code: "MISSING_AGENT_ID", Message: "agent node requires a non-empty agentId", NodeID: n.ID})
		}
	case KindTool:
		if n.Config.ToolName == "" {
			out = append(out, ValidationFinding{Severity: SeverityFindingError, Code: "MISSING_TOOL_NAME", Message: "tool node requires a non-empty toolName", NodeID: n.ID})
		}
	case KindTransform:
		spec := n.Config.Transform
		empty := spec == nil || (spec.Function == nil && spec.Expression == "")
		if empty {
			out = append(out, ValidationFinding{Severity: SeverityFindingError, Code: "MISSING_TRANSFORM", Message: "transform node requires a non-empty transform", NodeID: n.ID})
		}
	}
	return out
}

// detectCycles runs DFS over from->to and reports every minimal cyclic path.
func detectCycles(def *GraphDefinition) [][]string {
	adjacency := map[string][]string{}
	for _, e := range def.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Found a back-edge to `next`; extract the cyclic suffix.
				for i, s := range stack {
					if s == next {
						cyclePath := append([]string(nil), stack[i:]...)
						cyclePath = append(cyclePath, next)
						cycles = append(cycles, cyclePath)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := sortedNodeIDs(def)
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func sortedNodeIDs(def *GraphDefinition) []string {
	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func collectAdvisories(def *GraphDefinition) (warnings, suggestions []ValidationFinding) {
	undirected := map[string]map[string]bool{}
	addEdge := func(a, b string) {
		if undirected[a] == nil {
			undirected[a] = map[string]bool{}
		}
		undirected[a][b] = true
	}
	for _, e := range def.Edges {
		addEdge(e.From, e.To)
		addEdge(e.To, e.From)
	}

	visited := map[string]bool{}
	components := 0
	for _, id := range sortedNodeIDs(def) {
		if visited[id] {
			continue
		}
		components++
		queue := []string{id}
		visited[id] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for n := range undirected[cur] {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
	}
	if components > 1 {
		warnings = append(warnings, ValidationFinding{Severity: SeverityFindingWarning, Code: "DISCONNECTED_COMPONENTS", Message: "graph has more than one weakly connected component"})
	}

	inputIDs := def.nodesByKind(KindInput)
	reachable := map[string]bool{}
	for _, src := range inputIDs {
		queue := []string{src}
		reachable[src] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, e := range def.outgoingEdges(cur) {
				if !reachable[e.To] {
					reachable[e.To] = true
					queue = append(queue, e.To)
				}
			}
		}
	}
	var unreachable []string
	for _, id := range sortedNodeIDs(def) {
		if len(inputIDs) > 0 && !reachable[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		warnings = append(warnings, ValidationFinding{Severity: SeverityFindingWarning, Code: "UNREACHABLE_NODES", Message: "some nodes are unreachable from any input node"})
	}

	var deadEnds []string
	for _, id := range sortedNodeIDs(def) {
		n := def.Nodes[id]
		if n.Kind != KindOutput && len(def.outgoingEdges(id)) == 0 {
			deadEnds = append(deadEnds, id)
		}
	}
	if len(deadEnds) > 0 {
		warnings = append(warnings, ValidationFinding{Severity: SeverityFindingWarning, Code: "DEAD_END_NODES", Message: "some non-output nodes have no outgoing edges"})
	}

	if len(def.Nodes)+len(def.Edges) > maxComplexityBeforeWarning {
		warnings = append(warnings, ValidationFinding{Severity: SeverityFindingWarning, Code: "HIGH_COMPLEXITY", Message: "node+edge count exceeds the complexity threshold"})
	}

	fanIn, fanOut := map[string]int{}, map[string]int{}
	for _, e := range def.Edges {
		fanOut[e.From]++
		fanIn[e.To]++
	}
	for _, id := range sortedNodeIDs(def) {
		if fanIn[id] >= maxFanBeforeWarning || fanOut[id] >= maxFanBeforeWarning {
			warnings = append(warnings, ValidationFinding{Severity: SeverityFindingWarning, Code: "POTENTIAL_BOTTLENECK", Message: "node has high fan-in or fan-out", NodeID: id})
		}
	}

	if len(inputIDs) == 0 {
		suggestions = append(suggestions, ValidationFinding{Severity: SeverityFindingInfo, Code: "MISSING_INPUT_NODE", Message: "graph has no input-kind node"})
	}
	if len(def.nodesByKind(KindOutput)) == 0 {
		suggestions = append(suggestions, ValidationFinding{Severity: SeverityFindingInfo, Code: "MISSING_OUTPUT_NODE", Message: "graph has no output-kind node"})
	}
	for _, id := range sortedNodeIDs(def) {
		n := def.Nodes[id]
		if (n.Kind == KindAgent || n.Kind == KindTool) && n.RetryPolicy == nil {
			suggestions = append(suggestions, ValidationFinding{Severity: SeverityFindingInfo, Code: "MISSING_RETRY_POLICY", Message: "agent/tool node has no retry policy", NodeID: id})
		}
	}

	return warnings, suggestions
}

func computeValidationMetadata(def *GraphDefinition, cycles [][]string) ValidationMetadata {
	meta := ValidationMetadata{
		NodeCount:   len(def.Nodes),
		EdgeCount:   len(def.Edges),
		CyclicPaths: cycles,
	}

	depth := map[string]int{}
	var order []string
	indegree := map[string]int{}
	for id := range def.Nodes {
		indegree[id] = 0
	}
	for _, e := range def.Edges {
		if e.Kind.propagatesDependency() {
			indegree[e.To]++
		}
	}
	queue := []string{}
	for _, id := range sortedNodeIDs(def) {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	seen := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		order = append(order, cur)
		for _, e := range def.outgoingEdges(cur) {
			if !e.Kind.propagatesDependency() {
				continue
			}
			if depth[e.To] < depth[cur]+1 {
				depth[e.To] = depth[cur] + 1
			}
			indegree[e.To]--
			if indegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}
	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	meta.MaxDepth = maxDepth

	_, suggestions := collectAdvisories(def)
	_ = suggestions
	warnings, _ := collectAdvisories(def)
	for _, w := range warnings {
		if w.Code == "UNREACHABLE_NODES" {
			inputIDs := def.nodesByKind(KindInput)
			reachable := map[string]bool{}
			for _, src := range inputIDs {
				q := []string{src}
				reachable[src] = true
				for len(q) > 0 {
					cur := q[0]
					q = q[1:]
					for _, e := range def.outgoingEdges(cur) {
						if !reachable[e.To] {
							reachable[e.To] = true
							q = append(q, e.To)
						}
					}
				}
			}
			for _, id := range sortedNodeIDs(def) {
				if !reachable[id] {
					meta.UnreachableIDs = append(meta.UnreachableIDs, id)
				}
			}
		}
		if w.Code == "DEAD_END_NODES" {
			for _, id := range sortedNodeIDs(def) {
				n := def.Nodes[id]
				if n.Kind != KindOutput && len(def.outgoingEdges(id)) == 0 {
					meta.DeadEndIDs = append(meta.DeadEndIDs, id)
				}
			}
		}
	}

	return meta
}
