package graph

import (
	"context"
	"fmt"
	"time"
)

// HandlerContext threads the narrow external-collaborator capabilities
// (§6.1) through to node handlers without handlers importing the agent/tool
// packages directly.
type HandlerContext struct {
	Agents AgentLookup
	Tools  ToolInvoker
}

// Handler is the uniform `(config, assembledInput, context) -> output`
// contract every node kind implements (§4.3). The closed NodeKind -> Handler
// mapping realizes this as a table, not a class hierarchy, per §9.
type Handler interface {
	Handle(ctx context.Context, cfg NodeConfig, input map[string]any, hctx *HandlerContext) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, cfg NodeConfig, input map[string]any, hctx *HandlerContext) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, cfg NodeConfig, input map[string]any, hctx *HandlerContext) (any, error) {
	return f(ctx, cfg, input, hctx)
}

// defaultHandlers is the closed NodeKind -> Handler table used by a fresh
// Executor unless overridden.
func defaultHandlers() map[NodeKind]Handler {
	return map[NodeKind]Handler{
		KindInput:      HandlerFunc(inputHandler),
		KindOutput:     HandlerFunc(outputHandler),
		KindAgent:      HandlerFunc(agentHandler),
		KindTool:       HandlerFunc(toolHandler),
		KindTransform:  HandlerFunc(transformHandler),
		KindCondition:  HandlerFunc(conditionHandler),
		KindDelay:      HandlerFunc(delayHandler),
		KindParallel:   HandlerFunc(passthroughHandler),
		KindSequential: HandlerFunc(passthroughHandler),
		KindMerge:      HandlerFunc(passthroughHandler),
		KindSplit:      HandlerFunc(passthroughHandler),
		KindLoop:       HandlerFunc(passthroughHandler),
		KindCustom:     HandlerFunc(passthroughHandler),
	}
}

// inputHandler returns input._globalInput if present, else config.parameters.
func inputHandler(_ context.Context, cfg NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	if gi, ok := input["_globalInput"]; ok {
		return gi, nil
	}
	return cfg.Parameters, nil
}

// outputHandler returns the assembled input — predecessor outputs already
// merged by the dispatch algorithm.
func outputHandler(_ context.Context, _ NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	return input, nil
}

// agentHandler looks up the configured agent and invokes it with the
// assembled input, failing if the agent is missing.
func agentHandler(ctx context.Context, cfg NodeConfig, input map[string]any, hctx *HandlerContext) (any, error) {
	if hctx == nil || hctx.Agents == nil {
		return nil, fmt.Errorf("agent node requires an AgentLookup capability")
	}
	agent, ok := hctx.Agents.Get(cfg.AgentID)
	if !ok {
		return nil, fmt.Errorf("agent %q not found", cfg.AgentID)
	}
	result, err := agent.Execute(ctx, AgentExecutionContext{Input: input, Parameters: cfg.Parameters})
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// toolHandler calls context.tools.execute(toolName, {...input, ...parameters}).
func toolHandler(ctx context.Context, cfg NodeConfig, input map[string]any, hctx *HandlerContext) (any, error) {
	if hctx == nil || hctx.Tools == nil {
		return nil, fmt.Errorf("tool node requires a ToolInvoker capability")
	}
	params := make(map[string]any, len(input)+len(cfg.Parameters))
	for k, v := range input {
		params[k] = v
	}
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	result, err := hctx.Tools.Execute(ctx, cfg.ToolName, params)
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// transformHandler runs the configured function, or the named expression if
// the implementation declares one; absent an expression engine, it returns
// input unchanged (§9's identity fallback).
func transformHandler(_ context.Context, cfg NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	spec := cfg.Transform
	if spec == nil {
		return input, nil
	}
	if spec.Kind == "function" && spec.Function != nil {
		return spec.Function(input, cfg.Parameters)
	}
	// Expression kind with no declared engine: identity.
	return input, nil
}

// conditionHandler evaluates the predicate and returns {condition, input}.
func conditionHandler(_ context.Context, cfg NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	spec := cfg.Condition
	result := true
	if spec != nil && spec.Kind == "function" && spec.Function != nil {
		ok, err := spec.Function(input, cfg.Parameters)
		if err != nil {
			return nil, err
		}
		result = ok
	}
	// Expression kind with no declared engine: unconditionally true (§9).
	return map[string]any{"condition": result, "input": input}, nil
}

// delayHandler sleeps for parameters.delay milliseconds (default 1000), then
// returns input unchanged. The sleep is cancellable via ctx.
func delayHandler(ctx context.Context, cfg NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	millis := 1000
	if v, ok := cfg.Parameters["delay"]; ok {
		switch n := v.(type) {
		case int:
			millis = n
		case float64:
			millis = int(n)
		}
	}
	select {
	case <-time.After(time.Duration(millis) * time.Millisecond):
		return input, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// passthroughHandler is the specified minimally valid fallback for
// `parallel`, `sequential`, `merge`, `split`, `loop`, and `custom` nodes.
func passthroughHandler(_ context.Context, _ NodeConfig, input map[string]any, _ *HandlerContext) (any, error) {
	return input, nil
}
