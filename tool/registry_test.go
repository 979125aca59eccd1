package tool

import (
	"context"
	"testing"
)

func TestRegistry_ExecuteDispatchesToRegisteredTool(t *testing.T) {
	r := NewRegistry()
	mock := &MockTool{ToolName: "echo", Responses: []map[string]any{{"echoed": true}}}
	r.Register(mock)

	result, err := r.Execute(context.Background(), "echo", map[string]any{"input": "hi"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out, ok := result.Output.(map[string]any)
	if !ok || out["echoed"] != true {
		t.Errorf("unexpected output: %v", result.Output)
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockTool{ToolName: "zeta"})
	r.Register(&MockTool{ToolName: "alpha"})

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("List() = %v, want [alpha zeta]", names)
	}
}
