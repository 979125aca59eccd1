package graph

import (
	"encoding/json"
	"sort"
	"testing"
)

func TestBuilder_AddNode_Errors(t *testing.T) {
	b := NewBuilder("g1")

	t.Run("missing id", func(t *testing.T) {
		err := b.AddNode(Node{Kind: KindInput})
		assertConfigInvalid(t, err)
	})
	t.Run("missing kind", func(t *testing.T) {
		err := b.AddNode(Node{ID: "a"})
		assertConfigInvalid(t, err)
	})
	t.Run("duplicate id", func(t *testing.T) {
		if err := b.AddNode(Node{ID: "a", Kind: KindInput}); err != nil {
			t.Fatalf("first AddNode: %v", err)
		}
		err := b.AddNode(Node{ID: "a", Kind: KindOutput})
		assertConfigInvalid(t, err)
	})
}

func TestBuilder_AddEdge_Errors(t *testing.T) {
	b := NewBuilder("g1")
	if err := b.AddInputNode("in", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AddOutputNode("out"); err != nil {
		t.Fatal(err)
	}

	t.Run("missing endpoints", func(t *testing.T) {
		assertConfigInvalid(t, b.AddEdge(Edge{From: "", To: "out"}))
		assertConfigInvalid(t, b.AddEdge(Edge{From: "in", To: ""}))
	})
	t.Run("unknown endpoint", func(t *testing.T) {
		assertConfigInvalid(t, b.AddEdge(Edge{From: "in", To: "ghost"}))
		assertConfigInvalid(t, b.AddEdge(Edge{From: "ghost", To: "out"}))
	})
	t.Run("duplicate pair", func(t *testing.T) {
		if err := b.AddEdge(Edge{From: "in", To: "out"}); err != nil {
			t.Fatalf("first AddEdge: %v", err)
		}
		assertConfigInvalid(t, b.AddEdge(Edge{From: "in", To: "out"}))
	})
	t.Run("default kind and id", func(t *testing.T) {
		e, ok := b.edges["in->out"]
		if !ok {
			t.Fatalf("expected default edge id %q, have %v", "in->out", keysOf(b.edges))
		}
		if e.Kind != EdgeData {
			t.Errorf("default edge kind = %q, want %q", e.Kind, EdgeData)
		}
	})
}

func TestBuilder_RemoveNode_RemovesIncidentEdges(t *testing.T) {
	b := NewBuilder("g1")
	_ = b.AddInputNode("in", nil)
	_ = b.AddOutputNode("out")
	_ = b.AddEdge(Edge{From: "in", To: "out"})

	if err := b.RemoveNode("in"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if _, ok := b.nodes["in"]; ok {
		t.Error("node still present after RemoveNode")
	}
	if len(b.edges) != 0 {
		t.Errorf("incident edge survived RemoveNode: %v", b.edges)
	}
	if err := b.RemoveNode("in"); err == nil {
		t.Error("expected error removing an already-removed node")
	}
}

func TestBuilder_RemoveEdge(t *testing.T) {
	b := NewBuilder("g1")
	_ = b.AddInputNode("in", nil)
	_ = b.AddOutputNode("out")
	_ = b.AddEdge(Edge{From: "in", To: "out"})

	if err := b.RemoveEdge("in", "out"); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if len(b.edges) != 0 {
		t.Errorf("edge map not empty after RemoveEdge: %v", b.edges)
	}
	if err := b.RemoveEdge("in", "out"); err == nil {
		t.Error("expected error removing an unknown edge")
	}
}

// TestBuilder_Build_DeepCopiesDefinition guards against the GraphDefinition
// frozen by Build sharing live maps with the Builder: mutating the builder
// afterward must never be observable through a previously built definition.
func TestBuilder_Build_DeepCopiesDefinition(t *testing.T) {
	b := NewBuilder("g1")
	_ = b.AddInputNode("in", map[string]any{"x": 1})
	_ = b.AddOutputNode("out")
	_ = b.AddEdge(Edge{From: "in", To: "out"})

	def, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(def.Nodes) != 2 || len(def.Edges) != 1 {
		t.Fatalf("unexpected built definition: %+v", def)
	}

	// Mutate the builder after Build: add a node, remove the existing edge,
	// and mutate a node's parameters map in place.
	_ = b.AddNode(Node{ID: "extra", Kind: KindOutput})
	_ = b.RemoveEdge("in", "out")
	inNode := b.nodes["in"]
	inNode.Config.Parameters["x"] = 999
	b.nodes["in"] = inNode

	if len(def.Nodes) != 2 {
		t.Errorf("def.Nodes grew after builder mutation: %v", keysOf(def.Nodes))
	}
	if len(def.Edges) != 1 {
		t.Errorf("def.Edges changed after builder mutation: %v", keysOf(def.Edges))
	}
	if got := def.Nodes["in"].Config.Parameters["x"]; got != 1 {
		t.Errorf("def.Nodes[in].Config.Parameters[x] = %v, want 1 (builder mutation leaked through)", got)
	}
}

// TestBuilder_Build_RejectsCycle is scenario S3: a cyclic graph must fail
// Build with VALIDATION_FAILED and report the cycle in validation metadata.
func TestBuilder_Build_RejectsCycle(t *testing.T) {
	b := NewBuilder("g1")
	_ = b.AddTransformNode("a", func(in any, _ map[string]any) (any, error) { return in, nil }, nil)
	_ = b.AddTransformNode("b", func(in any, _ map[string]any) (any, error) { return in, nil }, nil)
	if err := b.AddEdge(Edge{From: "a", To: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEdge(Edge{From: "b", To: "a"}); err != nil {
		t.Fatal(err)
	}

	_, err := b.Build()
	if err == nil {
		t.Fatal("expected Build to reject a cyclic graph")
	}
	we, ok := err.(*WorkflowError)
	if !ok {
		t.Fatalf("err is %T, want *WorkflowError", err)
	}
	if we.Kind != ErrValidationFailed {
		t.Errorf("Kind = %q, want %q", we.Kind, ErrValidationFailed)
	}
	result, ok := we.Context.AdditionalInfo["validation"].(ValidationResult)
	if !ok {
		t.Fatalf("AdditionalInfo[validation] is %T, want ValidationResult", we.Context.AdditionalInfo["validation"])
	}
	if len(result.Metadata.CyclicPaths) == 0 {
		t.Error("expected a non-empty CyclicPaths in validation metadata")
	}
}

// TestGraphDefinition_JSONRoundTrip is the JSON round trip invariant: after
// marshal/unmarshal the node-id set and edge (from,to) set are unchanged.
func TestGraphDefinition_JSONRoundTrip(t *testing.T) {
	b := NewBuilder("g1")
	_ = b.AddInputNode("in", map[string]any{"greeting": "hi"})
	_ = b.AddOutputNode("out")
	_ = b.AddToolNode("t", "search", map[string]any{"limit": float64(5)})
	_ = b.AddEdge(Edge{From: "in", To: "t"})
	_ = b.AddEdge(Edge{From: "t", To: "out"})

	def, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	raw, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out GraphDefinition
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !sameStringSet(keysOf(def.Nodes), keysOf(out.Nodes)) {
		t.Errorf("node id set changed: before=%v after=%v", keysOf(def.Nodes), keysOf(out.Nodes))
	}
	beforePairs := edgePairs(def.Edges)
	afterPairs := edgePairs(out.Edges)
	if !sameStringSet(beforePairs, afterPairs) {
		t.Errorf("edge (from,to) set changed: before=%v after=%v", beforePairs, afterPairs)
	}
	if out.Nodes["t"].Config.ToolName != "search" {
		t.Errorf("ToolName lost across round trip: %q", out.Nodes["t"].Config.ToolName)
	}
	if out.Nodes["in"].Config.Parameters["greeting"] != "hi" {
		t.Errorf("Parameters lost across round trip: %v", out.Nodes["in"].Config.Parameters)
	}
}

func assertConfigInvalid(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	we, ok := err.(*WorkflowError)
	if !ok {
		t.Fatalf("err is %T, want *WorkflowError", err)
	}
	if we.Kind != ErrConfigurationInvalid {
		t.Errorf("Kind = %q, want %q", we.Kind, ErrConfigurationInvalid)
	}
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func edgePairs(edges map[string]Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.From+"->"+e.To)
	}
	sort.Strings(out)
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
