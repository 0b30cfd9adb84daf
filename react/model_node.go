// Package react implements the ReAct message model and node types
// (components G, H) and the composer that wires them into a looping graph
// (component I).
package react

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/intercept"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/metrics"
	"github.com/dshills/agentgraph/state"
)

// MessagesKey is the well-known state key conversation history lives under;
// its reduction strategy must be state.Append.
const MessagesKey = "messages"

// TokenUsageKey names a state key for token usage. The model node does not
// put it in its delta; usage is reported only to ModelNodeConfig.Metrics.
const TokenUsageKey = "_TOKEN_USAGE_"

// IterationKey counts model-node invocations for observability.
const IterationKey = "_MODEL_ITERATION_"

// ModelNodeConfig configures a model node (component G).
type ModelNodeConfig struct {
	Model         llm.ChatModel
	SystemMessage string
	Tools         []llm.ToolSpec
	Interceptors  []intercept.ModelInterceptor
	OutputSchema  string
	OutputKey     string

	// Metrics, if set, receives the token usage and estimated cost of every
	// model call made by this node.
	Metrics *metrics.Collector
}

// ModelNode returns an ActionFactory implementing the model-node operation
// from §4.G: render instructions, inject the output schema, stream or call
// the model through the interceptor chain, and return the resulting
// assistant message as a delta.
func ModelNode(cfg ModelNodeConfig) graph.ActionFactory {
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			msgs, ok := state.Value[[]llm.Message](st, MessagesKey)
			if !ok || len(msgs) == 0 {
				return graph.Result{}, fmt.Errorf("react: model node requires a non-empty %q key", MessagesKey)
			}

			msgs, err := injectOutputSchema(msgs, cfg.OutputSchema)
			if err != nil {
				return graph.Result{}, err
			}
			msgs, err = renderInstructions(msgs, st)
			if err != nil {
				return graph.Result{}, err
			}

			streaming := true
			if rc != nil {
				if v, ok := rc.Metadata[graph.MetaStream]; ok {
					if b, ok := v.(bool); ok {
						streaming = b
					}
				}
			}

			req := intercept.ModelRequest{
				Messages:      msgs,
				SystemMessage: cfg.SystemMessage,
				Tools:         cfg.Tools,
				Stream:        streaming,
				Context:       map[string]any{},
			}

			base := baseModelHandler(cfg.Model)
			handler := intercept.ChainModel(cfg.Interceptors, base)
			resp, err := handler(ctx, req)
			if err != nil {
				return graph.Result{}, err
			}

			iteration, _ := state.Value[int](st, IterationKey)
			iteration++

			if streaming && resp.Chunks != nil {
				return graph.Result{Streams: []<-chan graph.StreamChunk{modelStream(resp.Chunks, cfg.OutputKey, iteration, cfg.Metrics)}}, nil
			}

			recordUsage(cfg.Metrics, resp.Output)

			assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Output.Text, ToolCalls: resp.Output.ToolCalls}
			delta := graph.Delta{
				MessagesKey:  []llm.Message{assistant},
				IterationKey: iteration,
			}
			if cfg.OutputKey != "" {
				delta[cfg.OutputKey] = assistant
			}
			return graph.Result{Delta: delta}, nil
		}
	}
}

func baseModelHandler(model llm.ChatModel) intercept.ModelHandler {
	return func(ctx context.Context, req intercept.ModelRequest) (intercept.ModelResponse, error) {
		messages := req.Messages
		if req.SystemMessage != "" {
			messages = withSystemMessage(messages, req.SystemMessage)
		}
		if req.Stream {
			streamer := llm.AsStreaming(model)
			chunks, err := streamer.ChatStream(ctx, messages, req.Tools)
			if err != nil {
				return intercept.ModelResponse{}, err
			}
			return intercept.ModelResponse{Chunks: chunks}, nil
		}
		out, err := model.Chat(ctx, messages, req.Tools)
		if err != nil {
			return intercept.ModelResponse{}, err
		}
		return intercept.ModelResponse{Output: out}, nil
	}
}

// withSystemMessage copies the system message to the front of messages
// unless one is already present there.
func withSystemMessage(messages []llm.Message, system string) []llm.Message {
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		return messages
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	out = append(out, messages...)
	return out
}

// modelStream adapts a chat-client chunk stream into the node-level
// StreamChunk protocol the engine drains: partial text forwarded as it
// arrives, terminated by a Done chunk carrying the accumulated delta.
func modelStream(chunks <-chan llm.ChatChunk, outputKey string, iteration int, collector *metrics.Collector) <-chan graph.StreamChunk {
	out := make(chan graph.StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		var toolCalls []llm.ToolCall
		var final llm.ChatOut
		for chunk := range chunks {
			if chunk.Err != nil {
				out <- graph.StreamChunk{Err: chunk.Err}
				return
			}
			if chunk.ToolCallDelta != nil {
				toolCalls = append(toolCalls, *chunk.ToolCallDelta)
			}
			if chunk.Delta != "" {
				text.WriteString(chunk.Delta)
				out <- graph.StreamChunk{Output: chunk.Delta}
			}
			if chunk.Done {
				final = chunk.Final
			}
		}
		recordUsage(collector, final)
		assistant := llm.Message{Role: llm.RoleAssistant, Content: firstNonEmpty(final.Text, text.String()), ToolCalls: mergeToolCalls(final.ToolCalls, toolCalls)}
		delta := graph.Delta{MessagesKey: []llm.Message{assistant}, IterationKey: iteration}
		if outputKey != "" {
			delta[outputKey] = assistant
		}
		out <- graph.StreamChunk{Done: true, Delta: delta}
	}()
	return out
}

// recordUsage reports a completed chat call's token usage to collector, if
// one is configured.
func recordUsage(collector *metrics.Collector, out llm.ChatOut) {
	if collector == nil {
		return
	}
	collector.RecordTokenUsage(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func mergeToolCalls(final, accumulated []llm.ToolCall) []llm.ToolCall {
	if len(final) > 0 {
		return final
	}
	return accumulated
}

// injectOutputSchema appends schema text to the last User or AgentInstruction
// message, idempotently (substring check), or appends a new user message
// carrying it if none is found.
func injectOutputSchema(msgs []llm.Message, schema string) ([]llm.Message, error) {
	if schema == "" {
		return msgs, nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := &msgs[i]
		if m.Role != llm.RoleUser {
			continue
		}
		if strings.Contains(m.Content, schema) {
			return msgs, nil
		}
		m.Content = m.Content + "\n\n" + schema
		return msgs, nil
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: schema}), nil
}

// renderInstructions renders every AgentInstruction message's Content as a
// text/template against state's values, replacing it with the result.
func renderInstructions(msgs []llm.Message, st *state.State) ([]llm.Message, error) {
	hasInstruction := false
	for _, m := range msgs {
		if m.Instruction {
			hasInstruction = true
			break
		}
	}
	if !hasInstruction {
		return msgs, nil
	}

	data := make(map[string]any, len(st.Keys()))
	for _, k := range st.Keys() {
		if v, ok := st.Get(k); ok {
			data[k] = v
		}
	}

	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if !m.Instruction {
			continue
		}
		tpl, err := template.New("instruction").Parse(m.Content)
		if err != nil {
			return nil, fmt.Errorf("react: invalid instruction template: %w", err)
		}
		var sb strings.Builder
		if err := tpl.Execute(&sb, data); err != nil {
			return nil, fmt.Errorf("react: failed to render instruction: %w", err)
		}
		m.Content = sb.String()
		m.Instruction = false
		out[i] = m
	}
	return out, nil
}
