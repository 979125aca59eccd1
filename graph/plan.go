package graph

import "sort"

// Compile builds an ExecutableGraph from a GraphDefinition obtained some way
// other than Builder.BuildExecutable (e.g. deserialized from JSON by a
// transport or CLI layer). It runs the same validation and plan compilation
// Builder.Build/BuildExecutable run, failing VALIDATION_FAILED on the same
// terms.
func Compile(def *GraphDefinition, runtimeConfig map[string]any) (*ExecutableGraph, error) {
	result := Validate(def)
	if !result.Valid {
		return nil, NewError(ErrValidationFailed, "graph failed validation", ErrorContext{
			GraphID:        def.ID,
			AdditionalInfo: map[string]any{"validation": result},
		})
	}
	return compilePlan(def, runtimeConfig)
}

// compilePlan computes the dependency map, a topological order (Kahn's
// algorithm, tie-broken by ascending priority then node id), and an
// ExecutionPlan (phases/parallel groups via antichain peeling, critical path
// by estimated duration) for a validated GraphDefinition.
func compilePlan(def *GraphDefinition, runtimeConfig map[string]any) (*ExecutableGraph, error) {
	deps := dependencyMap(def)

	sorted, err := topologicalSort(def, deps)
	if err != nil {
		return nil, err
	}

	plan := buildExecutionPlan(def, deps)

	return &ExecutableGraph{
		Definition:    def,
		SortedNodes:   sorted,
		DependencyMap: deps,
		Plan:          plan,
		RuntimeConfig: runtimeConfig,
		Validation:    Validate(def),
	}, nil
}

// dependencyMap computes nodeId -> [prerequisite ids] from every edge whose
// kind propagates a forward dependency (data, control, conditional, loop);
// error edges are excluded since they activate only on failure.
func dependencyMap(def *GraphDefinition) map[string][]string {
	deps := make(map[string][]string, len(def.Nodes))
	for id := range def.Nodes {
		deps[id] = nil
	}
	for _, e := range def.Edges {
		if !e.Kind.propagatesDependency() {
			continue
		}
		deps[e.To] = append(deps[e.To], e.From)
	}
	for id := range deps {
		sort.Strings(deps[id])
	}
	return deps
}

// topologicalSort runs Kahn's algorithm over deps, tie-breaking the ready
// frontier by ascending node priority then node id.
func topologicalSort(def *GraphDefinition, deps map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(def.Nodes))
	for id, prereqs := range deps {
		indegree[id] = len(prereqs)
	}

	successors := map[string][]string{}
	for to, prereqs := range deps {
		for _, from := range prereqs {
			successors[from] = append(successors[from], to)
		}
	}

	ready := readyFrontier(def, indegree)
	var sorted []string
	remaining := len(def.Nodes)

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ni, nj := def.Nodes[ready[i]], def.Nodes[ready[j]]
			if ni.Priority != nj.Priority {
				return ni.Priority < nj.Priority
			}
			return ready[i] < ready[j]
		})
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, next)
		remaining--

		for _, succ := range successors[next] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if remaining != 0 {
		return nil, NewError(ErrValidationFailed, "graph contains a cycle", ErrorContext{GraphID: def.ID})
	}
	return sorted, nil
}

func readyFrontier(def *GraphDefinition, indegree map[string]int) []string {
	var ready []string
	for _, id := range sortedNodeIDs(def) {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// buildExecutionPlan peels zero-indegree layers (maximal antichains) into
// phases and reports the longest path by estimated duration as the critical
// path, for monitoring only.
func buildExecutionPlan(def *GraphDefinition, deps map[string][]string) ExecutionPlan {
	indegree := make(map[string]int, len(def.Nodes))
	for id, prereqs := range deps {
		indegree[id] = len(prereqs)
	}
	successors := map[string][]string{}
	for to, prereqs := range deps {
		for _, from := range prereqs {
			successors[from] = append(successors[from], to)
		}
	}

	var phases [][]string
	remaining := map[string]bool{}
	for id := range def.Nodes {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		var layer []string
		for _, id := range sortedNodeIDs(def) {
			if remaining[id] && indegree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Residual cycle (should not happen post-validation); stop to
			// avoid an infinite loop.
			break
		}
		phases = append(phases, layer)
		for _, id := range layer {
			delete(remaining, id)
			for _, succ := range successors[id] {
				indegree[succ]--
			}
		}
	}

	duration := func(id string) float64 {
		n := def.Nodes[id]
		if n.Timeout > 0 {
			return float64(n.Timeout.Milliseconds())
		}
		return 0
	}

	longest := map[string]float64{}
	longestPrev := map[string]string{}
	var topo []string
	for _, phase := range phases {
		topo = append(topo, phase...)
	}
	for _, id := range topo {
		longest[id] = duration(id)
	}
	for _, id := range topo {
		for _, succ := range successors[id] {
			candidate := longest[id] + duration(succ)
			if candidate > longest[succ] {
				longest[succ] = candidate
				longestPrev[succ] = id
			}
		}
	}
	var best string
	var bestVal float64
	for _, id := range topo {
		if longest[id] >= bestVal {
			bestVal = longest[id]
			best = id
		}
	}
	var criticalPath []string
	for cur := best; cur != ""; {
		criticalPath = append([]string{cur}, criticalPath...)
		cur = longestPrev[cur]
	}

	return ExecutionPlan{
		Phases:          phases,
		CriticalPath:    criticalPath,
		EstimatedMillis: bestVal,
	}
}
