package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowforge/graphrun/graph"
)

// Registry is an in-memory Tool lookup and dispatcher. It implements
// graph.ToolInvoker (`context.tools`), the narrow capability `tool`-kind
// node handlers call through.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under its own Name, replacing any existing tool of that
// name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Execute implements graph.ToolInvoker.
func (r *Registry) Execute(ctx context.Context, toolName string, params map[string]any) (graph.ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return graph.ToolResult{}, fmt.Errorf("tool %q not registered", toolName)
	}
	output, err := t.Call(ctx, params)
	if err != nil {
		return graph.ToolResult{}, err
	}
	return graph.ToolResult{Output: output}, nil
}

// List implements graph.ToolInvoker, returning registered tool names sorted
// for deterministic output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
