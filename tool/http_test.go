package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPTool_Name(t *testing.T) {
	tool := NewHTTPTool()
	if tool.Name() != "http_request" {
		t.Errorf("Name() = %q, want %q", tool.Name(), "http_request")
	}
}

func TestHTTPTool_GETSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tool := NewHTTPTool()
	result, err := tool.Call(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result["status_code"] != http.StatusOK {
		t.Errorf("status_code = %v, want %d", result["status_code"], http.StatusOK)
	}
	if result["body"] != `{"ok":true}` {
		t.Errorf("body = %v, want %q", result["body"], `{"ok":true}`)
	}
}

func TestHTTPTool_POSTWithHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-Test"); got != "value" {
			t.Errorf("X-Test header = %q, want %q", got, "value")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tool := NewHTTPTool()
	result, err := tool.Call(context.Background(), map[string]any{
		"method":  "post",
		"url":     server.URL,
		"body":    "payload",
		"headers": map[string]any{"X-Test": "value"},
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result["status_code"] != http.StatusCreated {
		t.Errorf("status_code = %v, want %d", result["status_code"], http.StatusCreated)
	}
}

func TestHTTPTool_MissingURL(t *testing.T) {
	tool := NewHTTPTool()
	if _, err := tool.Call(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing url parameter")
	}
}

func TestHTTPTool_UnsupportedMethod(t *testing.T) {
	tool := NewHTTPTool()
	_, err := tool.Call(context.Background(), map[string]any{"url": "http://example.com", "method": "DELETE"})
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
