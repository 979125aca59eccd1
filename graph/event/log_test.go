package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func TestLogEmitter_TextOutput(t *testing.T) {
	t.Run("emits step with all fields", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(graph.ExecutionStep{
			Kind:     graph.StepNodeComplete,
			NodeID:   "fetch",
			Status:   "ok",
			Metadata: map[string]any{"key": "value"},
		})

		output := buf.String()
		if output == "" {
			t.Fatal("expected output, got empty string")
		}
		if !strings.Contains(output, "fetch") {
			t.Errorf("expected output to contain nodeID 'fetch', got: %s", output)
		}
		if !strings.Contains(output, "node_complete") {
			t.Errorf("expected output to contain kind 'node_complete', got: %s", output)
		}
	})

	t.Run("emits multiple steps", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeStart, NodeID: "a"})
		emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeComplete, NodeID: "a"})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Errorf("expected 2 lines of output, got %d", len(lines))
		}
	})
}

func TestLogEmitter_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(graph.ExecutionStep{Kind: graph.StepNodeError, NodeID: "b", Status: "failed"})

	var decoded map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v (line: %s)", err, line)
	}
	if decoded["nodeID"] != "b" {
		t.Errorf("expected nodeID 'b', got %v", decoded["nodeID"])
	}
	if decoded["kind"] != "node_error" {
		t.Errorf("expected kind 'node_error', got %v", decoded["kind"])
	}
}

func TestLogEmitter_NilWriterDefaultsToStdout(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	if emitter.writer == nil {
		t.Fatal("expected NewLogEmitter(nil, ...) to default writer to os.Stdout")
	}
}

func TestLogEmitter_FlushIsNoop(t *testing.T) {
	emitter := NewLogEmitter(&bytes.Buffer{}, false)
	if err := emitter.Flush(); err != nil {
		t.Errorf("expected nil error from Flush, got %v", err)
	}
}
