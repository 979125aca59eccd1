package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowforge/graphrun/agent"
)

type mockOpenAIClient struct {
	response  string
	err       error
	callCount int
}

func (c *mockOpenAIClient) createChatCompletion(ctx context.Context, messages []agent.Message, tools []agent.ToolSpec) (agent.ChatOut, error) {
	c.callCount++
	if c.err != nil {
		return agent.ChatOut{}, c.err
	}
	return agent.ChatOut{Text: c.response}, nil
}

func TestNewChatModel_DefaultsModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != "gpt-4o" {
		t.Errorf("modelName = %q, want gpt-4o", m.modelName)
	}
}

func TestChatModel_Chat_Success(t *testing.T) {
	mock := &mockOpenAIClient{response: "hello"}
	m := &ChatModel{client: mock, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []agent.Message{{Role: agent.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "hello" {
		t.Errorf("Text = %q, want hello", out.Text)
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1", mock.callCount)
	}
}

func TestChatModel_Chat_NonTransientErrorDoesNotRetry(t *testing.T) {
	mock := &mockOpenAIClient{err: errors.New("invalid api key")}
	m := &ChatModel{client: mock, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	_, err := m.Chat(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (no retries for non-transient errors)", mock.callCount)
	}
}

func TestChatModel_Chat_RetriesTransientError(t *testing.T) {
	mock := &mockOpenAIClient{err: errors.New("connection timeout")}
	m := &ChatModel{client: mock, modelName: "gpt-4o", maxRetries: 2, retryDelay: time.Millisecond}

	_, err := m.Chat(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if mock.callCount != 3 {
		t.Errorf("callCount = %d, want 3 (1 + 2 retries)", mock.callCount)
	}
}

func TestChatModel_Chat_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &ChatModel{client: &mockOpenAIClient{}, maxRetries: 3, retryDelay: time.Millisecond}
	_, err := m.Chat(ctx, nil, nil)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestParseToolInput(t *testing.T) {
	got := parseToolInput(`{"location":"Paris"}`)
	if got["location"] != "Paris" {
		t.Errorf("parseToolInput = %v, want location=Paris", got)
	}
}

func TestParseToolInput_Empty(t *testing.T) {
	if got := parseToolInput(""); got != nil {
		t.Errorf("parseToolInput(\"\") = %v, want nil", got)
	}
}
