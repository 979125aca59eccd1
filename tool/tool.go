// Package tool provides executable tools that `tool`-kind graph nodes can
// invoke through a Registry, which is also the graph.ToolInvoker adapter
// that threads those tools into node handlers.
package tool

import "context"

// Tool is the interface every invocable tool implements: a stable Name used
// for dispatch and lookup in ToolSpec, and Call to run it.
type Tool interface {
	// Name returns the unique identifier used to register and invoke this
	// tool, e.g. "http_request", "get_weather".
	Name() string

	// Call executes the tool. input may be nil for parameterless tools;
	// the returned map becomes the tool node's output as is.
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}
