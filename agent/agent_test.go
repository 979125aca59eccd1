package agent

import (
	"context"
	"testing"

	"github.com/flowforge/graphrun/graph"
)

func TestModelAgent_Execute_StringInputBecomesUserMessage(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "Paris"}}}
	a := NewModelAgent(mock)

	result, err := a.Execute(context.Background(), graph.AgentExecutionContext{Input: "capital of France?"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out, ok := result.Output.(ChatOut)
	if !ok || out.Text != "Paris" {
		t.Errorf("Output = %v, want ChatOut{Text: Paris}", result.Output)
	}

	if len(mock.Calls) != 1 || len(mock.Calls[0].Messages) != 1 {
		t.Fatalf("unexpected call history: %v", mock.Calls)
	}
	if mock.Calls[0].Messages[0].Role != RoleUser || mock.Calls[0].Messages[0].Content != "capital of France?" {
		t.Errorf("unexpected message: %v", mock.Calls[0].Messages[0])
	}
}

func TestModelAgent_Execute_SystemPromptPrepended(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	a := NewModelAgent(mock)

	_, err := a.Execute(context.Background(), graph.AgentExecutionContext{
		Input:      "hello",
		Parameters: map[string]any{"system_prompt": "Be terse."},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got := mock.Calls[0].Messages
	if len(got) != 2 || got[0].Role != RoleSystem || got[0].Content != "Be terse." {
		t.Errorf("messages = %v, want system prompt first", got)
	}
}

func TestModelAgent_Execute_ExplicitMessagesOverrideInput(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
	a := NewModelAgent(mock)

	explicit := []Message{{Role: RoleUser, Content: "explicit"}}
	_, err := a.Execute(context.Background(), graph.AgentExecutionContext{
		Input:      "ignored",
		Parameters: map[string]any{"messages": explicit},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(mock.Calls[0].Messages) != 1 || mock.Calls[0].Messages[0].Content != "explicit" {
		t.Errorf("messages = %v, want only the explicit message", mock.Calls[0].Messages)
	}
}

func TestModelAgent_Execute_UnsupportedInputType(t *testing.T) {
	a := NewModelAgent(&MockChatModel{})
	_, err := a.Execute(context.Background(), graph.AgentExecutionContext{Input: 42})
	if err == nil {
		t.Fatal("expected error for unsupported input type")
	}
}

func TestModelAgent_Execute_PropagatesModelError(t *testing.T) {
	a := NewModelAgent(&MockChatModel{Err: context.DeadlineExceeded})
	_, err := a.Execute(context.Background(), graph.AgentExecutionContext{Input: "hi"})
	if err == nil {
		t.Fatal("expected propagated model error")
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	r := NewRegistry()
	r.Register("summarizer", NewModelAgent(&MockChatModel{}))
	r.Register("critic", NewModelAgent(&MockChatModel{}))

	if _, ok := r.Get("summarizer"); !ok {
		t.Fatal("expected summarizer to be registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing agent to be absent")
	}

	names := r.List()
	if len(names) != 2 || names[0] != "critic" || names[1] != "summarizer" {
		t.Errorf("List() = %v, want sorted [critic summarizer]", names)
	}
}

var _ graph.Agent = (*ModelAgent)(nil)
var _ graph.AgentLookup = (*Registry)(nil)
