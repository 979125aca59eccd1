package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowforge/graphrun/graph"
)

func simpleGraphDefinition(t *testing.T) graph.GraphDefinition {
	t.Helper()
	b := graph.NewBuilder("greet")
	if err := b.AddInputNode("in", nil); err != nil {
		t.Fatalf("AddInputNode: %v", err)
	}
	if err := b.AddOutputNode("out"); err != nil {
		t.Fatalf("AddOutputNode: %v", err)
	}
	if err := b.AddEdge(graph.Edge{ID: "in-out", From: "in", To: "out", Kind: graph.EdgeData}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	def, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return *def
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	executor, err := graph.NewExecutor()
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return NewServer(executor)
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleValidate_ValidGraph(t *testing.T) {
	srv := newTestServer(t)
	def := simpleGraphDefinition(t)

	rec := postJSON(t, srv, "/graphs/validate", def)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result graph.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid graph, got errors: %+v", result.Errors)
	}
}

func TestHandleExecute_RunsToCompletion(t *testing.T) {
	srv := newTestServer(t)
	req := executeRequest{
		Graph: simpleGraphDefinition(t),
		Input: graph.ExecutionInput{SessionID: "s1", Data: map[string]any{"hello": "world"}},
	}

	rec := postJSON(t, srv, "/executions", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out graph.ExecutionOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Success {
		t.Errorf("expected a successful execution, got: %+v", out)
	}
}

func TestHandleExecute_InvalidGraphReturnsUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	req := executeRequest{
		Graph: graph.GraphDefinition{ID: "broken", Nodes: map[string]graph.Node{"a": {ID: "a", Kind: "not-a-real-kind"}}},
		Input: graph.ExecutionInput{SessionID: "s1", Data: "x"},
	}

	rec := postJSON(t, srv, "/executions", req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}
}

func TestHandleExecuteStream_ReportsExecutionIDImmediately(t *testing.T) {
	srv := newTestServer(t)
	req := executeRequest{
		Graph: simpleGraphDefinition(t),
		Input: graph.ExecutionInput{SessionID: "s1", Data: "x"},
	}

	rec := postJSON(t, srv, "/executions/stream", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp["executionId"] == "" {
		t.Fatal("expected a non-empty executionId in the response")
	}

	srv.mu.Lock()
	_, registered := srv.streams[resp["executionId"]]
	srv.mu.Unlock()
	if !registered {
		t.Fatal("expected the stream broker to be registered under the reported execution id")
	}
}

func TestHandleGetExecution_UnknownIDReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/executions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandlePauseResumeCancel_UnknownExecutionReturnsNotOK(t *testing.T) {
	// Pause/resume/cancel against an execution id that never ran just
	// exercise the "ok: false" path without a live execution.
	srv := newTestServer(t)
	for _, path := range []string{"/executions/none/pause", "/executions/none/resume", "/executions/none/cancel"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		var resp map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: Unmarshal: %v", path, err)
		}
		if resp["ok"] {
			t.Errorf("%s: ok = true, want false for an unknown execution", path)
		}
	}
}

func TestServeHTTP_ValidateRespondsWithoutBindingPort(t *testing.T) {
	srv := newTestServer(t)
	// Exercise buildRouter via ServeHTTP rather than actually binding a port.
	req := httptest.NewRequest(http.MethodPost, "/graphs/validate", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	start := time.Now()
	srv.ServeHTTP(rec, req)
	if time.Since(start) > time.Second {
		t.Fatal("handler took unexpectedly long")
	}
}
