package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/flowforge/graphrun/agent"
)

type mockAnthropicClient struct {
	systemPrompt string
	response     agent.ChatOut
	err          error
	callCount    int
}

func (c *mockAnthropicClient) createMessage(ctx context.Context, systemPrompt string, messages []agent.Message, tools []agent.ToolSpec) (agent.ChatOut, error) {
	c.callCount++
	c.systemPrompt = systemPrompt
	if c.err != nil {
		return agent.ChatOut{}, c.err
	}
	return c.response, nil
}

func TestNewChatModel_DefaultsModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != "claude-sonnet-4-5-20250929" {
		t.Errorf("modelName = %q, want claude-sonnet-4-5-20250929", m.modelName)
	}
}

func TestExtractSystemPrompt(t *testing.T) {
	messages := []agent.Message{
		{Role: agent.RoleSystem, Content: "Be helpful."},
		{Role: agent.RoleUser, Content: "Hi"},
	}
	system, conversation := extractSystemPrompt(messages)
	if system != "Be helpful." {
		t.Errorf("system = %q", system)
	}
	if len(conversation) != 1 || conversation[0].Content != "Hi" {
		t.Errorf("conversation = %v", conversation)
	}
}

func TestExtractSystemPrompt_ConcatenatesMultiple(t *testing.T) {
	messages := []agent.Message{
		{Role: agent.RoleSystem, Content: "First."},
		{Role: agent.RoleSystem, Content: "Second."},
	}
	system, _ := extractSystemPrompt(messages)
	if system != "First.\n\nSecond." {
		t.Errorf("system = %q", system)
	}
}

func TestChatModel_Chat_PassesSystemPromptToClient(t *testing.T) {
	mock := &mockAnthropicClient{response: agent.ChatOut{Text: "ok"}}
	m := &ChatModel{client: mock}

	out, err := m.Chat(context.Background(), []agent.Message{
		{Role: agent.RoleSystem, Content: "Be terse."},
		{Role: agent.RoleUser, Content: "Hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("Text = %q", out.Text)
	}
	if mock.systemPrompt != "Be terse." {
		t.Errorf("systemPrompt = %q", mock.systemPrompt)
	}
}

func TestChatModel_Chat_TranslatesAnthropicError(t *testing.T) {
	mock := &mockAnthropicClient{err: &anthropicError{Type: "rate_limit_error", Message: "slow down"}}
	m := &ChatModel{client: mock}

	_, err := m.Chat(context.Background(), nil, nil)
	var apiErr *anthropicError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *anthropicError, got %v", err)
	}
	if apiErr.Type != "rate_limit_error" {
		t.Errorf("Type = %q", apiErr.Type)
	}
}
