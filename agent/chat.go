// Package agent adapts chat-completion model providers into graph.Agent
// implementations usable by agent-kind nodes.
package agent

import "context"

// ChatModel abstracts a provider's chat-completion call: convert Message/ToolSpec
// into the provider's wire format, call it, and convert the result back to ChatOut.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation. Role is one of the Role* constants.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool offered to the model, in JSON Schema form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model's response: generated text, requested tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation the model is requesting.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
