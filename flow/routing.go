package flow

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/intercept"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/state"
)

const classifierNodeID = "__classifier__"

// DecisionKey is the state key the classifier node writes its chosen route
// label under; the routing edge reads it back to pick a sub-agent.
const DecisionKey = "_ROUTE_DECISION_"

// RoutingConfig configures an LLM-based Routing composer: a classifier
// node that writes a decision label into state, followed by a conditional
// edge mapping labels to sub-agents (§4.J).
type RoutingConfig struct {
	Name          string
	Strategies    map[string]state.Strategy
	Model         llm.ChatModel
	SystemMessage string
	// Routes maps a decision label to the sub-agent handling it.
	Routes map[string]Agent
	// PromptKey is the state key holding the text to classify.
	PromptKey string
}

// Routing builds a classifier node followed by a conditional edge to one
// of Routes' sub-agents, keyed by the label the classifier writes.
func Routing(cfg RoutingConfig) (*graph.StateGraph, error) {
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("flow: routing composer requires at least one route")
	}
	strategies := make(map[string]state.Strategy, len(cfg.Strategies)+1)
	for k, v := range cfg.Strategies {
		strategies[k] = v
	}
	if _, ok := strategies[DecisionKey]; !ok {
		strategies[DecisionKey] = state.Replace
	}

	g := graph.NewStateGraph(cfg.Name, strategies)
	g.AddNode(classifierNodeID, classifierFactory(cfg))

	mapping := make(map[string]string, len(cfg.Routes))
	for label, agent := range cfg.Routes {
		g.AddSubGraphNode(agent.ID, agent.Graph)
		g.AddEdge(agent.ID, graph.To(graph.END))
		mapping[label] = agent.ID
	}
	g.AddEdge(classifierNodeID, graph.Branch(routeEdge(), mapping))
	g.SetEntry(classifierNodeID)
	return g, nil
}

func classifierFactory(cfg RoutingConfig) graph.ActionFactory {
	labels := make([]string, 0, len(cfg.Routes))
	for label := range cfg.Routes {
		labels = append(labels, label)
	}
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			prompt, _ := state.Value[string](st, cfg.PromptKey)
			req := intercept.ModelRequest{
				Messages:      []llm.Message{{Role: llm.RoleUser, Content: classifierPrompt(labels, prompt)}},
				SystemMessage: cfg.SystemMessage,
			}
			out, err := cfg.Model.Chat(ctx, req.Messages, nil)
			if err != nil {
				return graph.Result{}, err
			}
			return graph.Result{Delta: graph.Delta{DecisionKey: out.Text}}, nil
		}
	}
}

func classifierPrompt(labels []string, prompt string) string {
	msg := "Classify the following input into exactly one of these labels: "
	for i, l := range labels {
		if i > 0 {
			msg += ", "
		}
		msg += l
	}
	msg += ". Respond with only the label.\n\n" + prompt
	return msg
}

func routeEdge() graph.EdgeAction {
	return func(st *state.State) (string, error) {
		label, ok := state.Value[string](st, DecisionKey)
		if !ok || label == "" {
			return "", fmt.Errorf("flow: routing classifier produced no decision under %q", DecisionKey)
		}
		return label, nil
	}
}
