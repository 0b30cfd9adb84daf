package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/react"
	"github.com/dshills/agentgraph/state"
)

func TestNode_ProxiesConversationAndAppendsReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Params.Message.Parts[0].Text != "user: what's the weather" {
			t.Errorf("forwarded prompt = %q", req.Params.Message.Parts[0].Text)
		}
		_ = json.NewEncoder(w).Encode(rpcResponse{
			Result: json.RawMessage(`{"parts":[{"kind":"text","text":"sunny"}]}`),
		})
	}))
	defer server.Close()

	strategies := map[string]state.Strategy{react.MessagesKey: state.Append}
	st, err := state.Create(strategies, map[string]any{
		react.MessagesKey: []llm.Message{{Role: llm.RoleUser, Content: "what's the weather"}},
	})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}

	factory := Node(NodeConfig{Client: NewClient(server.URL, nil)})
	action := factory()
	res, err := action(context.Background(), st, &graph.RunnableConfig{})
	if err != nil {
		t.Fatalf("action() error = %v", err)
	}

	msgs, ok := res.Delta[react.MessagesKey].([]llm.Message)
	if !ok || len(msgs) != 1 {
		t.Fatalf("delta[%q] = %#v, want one message", react.MessagesKey, res.Delta[react.MessagesKey])
	}
	if msgs[0].Role != llm.RoleAssistant || msgs[0].Content != "sunny" {
		t.Errorf("reply = %+v, want Assistant %q", msgs[0], "sunny")
	}
}

func TestNode_RequiresNonEmptyMessages(t *testing.T) {
	strategies := map[string]state.Strategy{react.MessagesKey: state.Append}
	st, err := state.Create(strategies, nil)
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}

	factory := Node(NodeConfig{Client: NewClient("http://unused.invalid", nil)})
	if _, err := factory()(context.Background(), st, &graph.RunnableConfig{}); err == nil {
		t.Fatal("action() error = nil, want non-nil")
	}
}
