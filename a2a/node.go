package a2a

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/metrics"
	"github.com/dshills/agentgraph/react"
	"github.com/dshills/agentgraph/state"
)

// NodeConfig configures an a2a.Node (§4.L): a graph node that proxies the
// conversation so far to a remote agent and folds its reply back in as an
// Assistant message.
type NodeConfig struct {
	Client *Client
	// ThreadIDKey, if set, names the state key holding the thread id to
	// forward as request metadata; otherwise no thread id is sent.
	ThreadIDKey string
	// UserIDKey, if set, names the state key holding the user id to
	// forward as request metadata.
	UserIDKey string
	// Stream dispatches via Client.Stream and concatenates the fragments
	// instead of a single Client.Send call.
	Stream bool
	// Metrics, if set, receives the remote call's outcome as a tool call
	// metric labeled "a2a".
	Metrics *metrics.Collector
}

// Node returns an ActionFactory implementing the A2A proxy operation: it
// renders react.MessagesKey's conversation into a single text prompt (the
// remote agent has no notion of this repo's message schema), sends it, and
// appends the reply as a react.MessagesKey Assistant message.
func Node(cfg NodeConfig) graph.ActionFactory {
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			msgs, ok := state.Value[[]llm.Message](st, react.MessagesKey)
			if !ok || len(msgs) == 0 {
				return graph.Result{}, fmt.Errorf("a2a: node requires a non-empty %q key", react.MessagesKey)
			}

			params := Params{Text: renderPrompt(msgs)}
			if cfg.ThreadIDKey != "" {
				if v, ok := state.Value[string](st, cfg.ThreadIDKey); ok {
					params.ThreadID = v
				}
			}
			if cfg.UserIDKey != "" {
				if v, ok := state.Value[string](st, cfg.UserIDKey); ok {
					params.UserID = v
				}
			}

			text, err := cfg.dispatch(ctx, params)
			status := "success"
			if err != nil {
				status = "error"
			}
			if cfg.Metrics != nil {
				cfg.Metrics.IncToolCall("a2a", status)
			}
			if err != nil {
				return graph.Result{}, err
			}

			assistant := llm.Message{Role: llm.RoleAssistant, Content: text}
			return graph.Result{Delta: graph.Delta{react.MessagesKey: []llm.Message{assistant}}}, nil
		}
	}
}

func (cfg NodeConfig) dispatch(ctx context.Context, params Params) (string, error) {
	if !cfg.Stream {
		return cfg.Client.Send(ctx, params)
	}
	chunks, err := cfg.Client.Stream(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

// renderPrompt flattens the conversation into a single prompt a remote
// agent (which shares no message schema with this graph) can consume:
// role-prefixed lines, oldest first.
func renderPrompt(msgs []llm.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
