package react

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/intercept"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/metrics"
	"github.com/dshills/agentgraph/state"
	"github.com/dshills/agentgraph/tool"
)

// ErrToolExecution wraps any error a tool call raises; the engine surfaces
// it as a terminating RunError rather than retrying (retry is the sole
// province of tool interceptors).
var ErrToolExecution = fmt.Errorf("react: tool execution failed")

// RemoveByHashKey is the delta key under which the tool node records
// assistantHash of the answered assistant message on partial tool re-entry.
// It is reduced with Replace and no reducer reads it: the assistant message
// and the earlier tool responses stay in the message history.
const RemoveByHashKey = "_REMOVE_BY_HASH_"

// ReturnDirectKey is set on the delta when every executed tool call in this
// turn returned DirectReturn; makeToolToModel reads it to route straight to
// exit instead of back to the model.
const ReturnDirectKey = "_TOOL_RETURN_DIRECT_"

// ToolNodeConfig configures a tool node (component H).
type ToolNodeConfig struct {
	Registry     *tool.Registry
	Interceptors []intercept.ToolInterceptor

	// Metrics, if set, receives a counted outcome for every tool call this
	// node dispatches.
	Metrics *metrics.Collector
}

// ToolNode returns an ActionFactory implementing the tool-node operation
// from §4.H: execute outstanding tool calls from the last assistant message
// (or the remaining ones on partial re-entry), append one RoleTool message
// per executed call (there is no single aggregated tool-response message),
// and merge any accumulator state the tools collected along the way.
func ToolNode(cfg ToolNodeConfig) graph.ActionFactory {
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			msgs, ok := state.Value[[]llm.Message](st, MessagesKey)
			if !ok || len(msgs) == 0 {
				return graph.Result{}, fmt.Errorf("react: tool node requires a non-empty %q key", MessagesKey)
			}

			assistant, assistantIdx, ok := lastAssistantWithCalls(msgs)
			if !ok {
				return graph.Result{}, fmt.Errorf("react: tool node found no assistant message with pending tool calls")
			}
			pending := outstandingCalls(assistant, msgs[assistantIdx+1:])
			if len(pending) == 0 {
				return graph.Result{}, fmt.Errorf("react: tool node has no outstanding tool calls to execute")
			}

			acc := newAccumulator()
			base := baseToolHandler(cfg.Registry, st, rc, acc)
			handler := intercept.ChainTool(cfg.Interceptors, base)

			responses := make([]toolResult, len(pending))
			var wg sync.WaitGroup
			for i, call := range pending {
				wg.Add(1)
				go func(i int, call llm.ToolCall) {
					defer wg.Done()
					req := intercept.ToolCallRequest{CallID: call.ID, Name: call.Name, Input: call.Input, Context: map[string]any{}}
					resp, err := handler(ctx, req)
					direct := false
					if t, ok := cfg.Registry.Lookup(call.Name); ok {
						if dr, ok := t.(tool.DirectReturn); ok {
							direct = dr.ReturnDirect()
						}
					}
					if cfg.Metrics != nil {
						status := "success"
						if err != nil {
							status = "error"
						}
						cfg.Metrics.IncToolCall(call.Name, status)
					}
					responses[i] = toolResult{call: call, resp: resp, err: err, direct: direct}
				}(i, call)
			}
			wg.Wait()

			allDirect := true
			for _, r := range responses {
				if r.err != nil {
					return graph.Result{}, fmt.Errorf("%w: tool %q: %v", ErrToolExecution, r.call.Name, r.err)
				}
				if !r.direct {
					allDirect = false
				}
			}

			toolMsgs := make([]llm.Message, len(responses))
			for i, r := range responses {
				toolMsgs[i] = llm.Message{Role: llm.RoleTool, ToolCallID: r.call.ID, Name: r.call.Name, Content: r.resp.Content}
			}

			delta := graph.Delta{MessagesKey: toolMsgs}
			if assistantIdx != len(msgs)-1 {
				// Partial re-entry: only the outstanding calls get tool
				// messages; the assistant's hash is recorded, but the
				// assistant message itself is not removed from the history.
				delta[RemoveByHashKey] = assistantHash(assistant)
			}
			delta[ReturnDirectKey] = allDirect
			for k, v := range acc.snapshot() {
				delta[k] = v
			}

			return graph.Result{Delta: delta}, nil
		}
	}
}

type toolResult struct {
	call   llm.ToolCall
	resp   intercept.ToolCallResponse
	err    error
	direct bool
}

// accumulator is the deltaAccumulator a tool's invocation context exposes
// (§4.H.2): extra state a tool collects alongside its direct result, merged
// into the node's delta once every call completes.
type accumulator struct {
	mu   sync.Mutex
	data map[string]any
}

func newAccumulator() *accumulator {
	return &accumulator{data: make(map[string]any)}
}

func (a *accumulator) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = value
}

func (a *accumulator) snapshot() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.data))
	for k, v := range a.data {
		out[k] = v
	}
	return out
}

func baseToolHandler(registry *tool.Registry, st *state.State, rc *graph.RunnableConfig, acc *accumulator) intercept.ToolHandler {
	return func(ctx context.Context, req intercept.ToolCallRequest) (intercept.ToolCallResponse, error) {
		t, ok := registry.Lookup(req.Name)
		if !ok {
			return intercept.ToolCallResponse{}, fmt.Errorf("react: no tool registered under name %q", req.Name)
		}
		text, err := registry.Call(ctx, req.Name, req.Input)
		if err != nil {
			return intercept.ToolCallResponse{}, err
		}
		if contributor, ok := t.(accumulatorAware); ok {
			contributor.CollectState(acc)
		}
		return intercept.ToolCallResponse{Content: text}, nil
	}
}

// accumulatorAware is implemented by a tool needing to contribute extra
// state beyond its direct text result; CollectState is invoked with the
// shared per-turn accumulator after a successful call.
type accumulatorAware interface {
	CollectState(acc *accumulator)
}

func lastAssistantWithCalls(msgs []llm.Message) (llm.Message, int, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			return msgs[i], i, true
		}
		if msgs[i].Role == llm.RoleTool {
			continue
		}
		break
	}
	return llm.Message{}, -1, false
}

// outstandingCalls returns assistant's tool calls not yet answered by any
// RoleTool message in tail (the messages after assistant in the log).
func outstandingCalls(assistant llm.Message, tail []llm.Message) []llm.ToolCall {
	answered := make(map[string]bool, len(tail))
	for _, m := range tail {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var pending []llm.ToolCall
	for _, call := range assistant.ToolCalls {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// assistantHash identifies an assistant message by its content and the
// concatenation of its call ids; the tool node stores it under
// RemoveByHashKey on partial re-entry.
func assistantHash(assistant llm.Message) string {
	h := assistant.Content
	for _, call := range assistant.ToolCalls {
		h += "|" + call.ID
	}
	return h
}
