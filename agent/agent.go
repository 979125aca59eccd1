package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowforge/graphrun/graph"
)

// ModelAgent adapts a ChatModel into a graph.Agent. AgentExecutionContext.Input
// becomes a user message; Parameters["system_prompt"] becomes an optional
// leading system message and Parameters["tools"] are passed through to the
// model unchanged.
type ModelAgent struct {
	Model ChatModel
}

// NewModelAgent wraps model as a graph.Agent.
func NewModelAgent(model ChatModel) *ModelAgent {
	return &ModelAgent{Model: model}
}

func (a *ModelAgent) Execute(ctx context.Context, execCtx graph.AgentExecutionContext) (graph.AgentResult, error) {
	messages, err := buildMessages(execCtx)
	if err != nil {
		return graph.AgentResult{}, err
	}
	tools := toolsFromParameters(execCtx.Parameters)

	out, err := a.Model.Chat(ctx, messages, tools)
	if err != nil {
		return graph.AgentResult{}, err
	}
	return graph.AgentResult{Output: out}, nil
}

func buildMessages(execCtx graph.AgentExecutionContext) ([]Message, error) {
	if raw, ok := execCtx.Parameters["messages"]; ok {
		messages, ok := raw.([]Message)
		if !ok {
			return nil, fmt.Errorf("agent: parameters[\"messages\"] must be []agent.Message, got %T", raw)
		}
		return messages, nil
	}

	var messages []Message
	if system, ok := execCtx.Parameters["system_prompt"].(string); ok && system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}

	switch in := execCtx.Input.(type) {
	case string:
		messages = append(messages, Message{Role: RoleUser, Content: in})
	case Message:
		messages = append(messages, in)
	case []Message:
		messages = append(messages, in...)
	case nil:
	default:
		return nil, fmt.Errorf("agent: unsupported input type %T; expected string, agent.Message, or []agent.Message", in)
	}

	return messages, nil
}

func toolsFromParameters(parameters map[string]any) []ToolSpec {
	raw, ok := parameters["tools"]
	if !ok {
		return nil
	}
	tools, ok := raw.([]ToolSpec)
	if !ok {
		return nil
	}
	return tools
}

// Registry implements graph.AgentLookup over a fixed set of named agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]graph.Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]graph.Agent)}
}

// Register adds or replaces the agent under id.
func (r *Registry) Register(id string, a graph.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = a
}

func (r *Registry) Get(agentID string) (graph.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
