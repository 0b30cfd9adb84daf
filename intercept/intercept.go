// Package intercept implements the interceptor chain (component F): ordered
// middleware around model and tool calls. Each interceptor may inspect or
// rewrite the request, decide whether to call the next link, and inspect or
// rewrite the response. The engine never retries; an interceptor is the
// only layer permitted to.
package intercept

import (
	"context"

	"github.com/dshills/agentgraph/llm"
)

// ModelRequest is what a ModelInterceptor chain sees and may rewrite before
// the base handler invokes the external chat client.
type ModelRequest struct {
	Messages      []llm.Message
	SystemMessage string
	Tools         []llm.ToolSpec
	Stream        bool
	// Context carries run-scoped metadata (thread id, agent name) available
	// to interceptors without threading extra parameters through.
	Context map[string]any
}

// ModelResponse is what a ModelInterceptor chain produces.
type ModelResponse struct {
	Output llm.ChatOut
	Chunks <-chan llm.ChatChunk
}

// ModelHandler is the next link in a model interceptor chain, terminating
// in a base handler that calls the external chat client.
type ModelHandler func(ctx context.Context, req ModelRequest) (ModelResponse, error)

// ModelInterceptor wraps a ModelHandler with request/response middleware.
type ModelInterceptor func(ctx context.Context, req ModelRequest, next ModelHandler) (ModelResponse, error)

// ToolCallRequest is what a ToolInterceptor chain sees before the base
// handler invokes a tool.
type ToolCallRequest struct {
	CallID  string
	Name    string
	Input   map[string]any
	Context map[string]any
}

// ToolCallResponse is what a ToolInterceptor chain produces.
type ToolCallResponse struct {
	Content string
	Err     error
}

// ToolHandler is the next link in a tool interceptor chain.
type ToolHandler func(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error)

// ToolInterceptor wraps a ToolHandler with request/response middleware.
type ToolInterceptor func(ctx context.Context, req ToolCallRequest, next ToolHandler) (ToolCallResponse, error)

// ChainModel composes interceptors right-to-left over base, so the first
// interceptor in the slice is outermost: ChainModel([i0,i1], base) runs as
// i0(req, i1(req, base)).
func ChainModel(interceptors []ModelInterceptor, base ModelHandler) ModelHandler {
	handler := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := handler
		handler = func(ctx context.Context, req ModelRequest) (ModelResponse, error) {
			return interceptor(ctx, req, next)
		}
	}
	return handler
}

// ChainTool composes tool interceptors the same way ChainModel does.
func ChainTool(interceptors []ToolInterceptor, base ToolHandler) ToolHandler {
	handler := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := handler
		handler = func(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
			return interceptor(ctx, req, next)
		}
	}
	return handler
}
