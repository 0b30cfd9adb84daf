// Package flow implements the multi-agent flow composers (component J):
// Sequential, Parallel, and Routing graph builders that wire whole
// sub-agents (themselves compiled or composed graphs) into one larger
// graph via graph.StateGraph's sub-graph nodes.
package flow

import (
	"fmt"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/state"
)

// Agent names one sub-graph participating in a flow composer.
type Agent struct {
	ID    string
	Graph *graph.StateGraph
}

// Sequential builds a chain S0 -> S1 -> ... -> Sn where each Si is a
// sub-agent exposed as a sub-graph node; state flows left to right through
// the shared strategy table (§4.J).
func Sequential(name string, strategies map[string]state.Strategy, agents []Agent) (*graph.StateGraph, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("flow: sequential composer requires at least one agent")
	}
	g := graph.NewStateGraph(name, strategies)
	for _, a := range agents {
		g.AddSubGraphNode(a.ID, a.Graph)
	}
	for i, a := range agents {
		if i+1 < len(agents) {
			g.AddEdge(a.ID, graph.To(agents[i+1].ID))
		} else {
			g.AddEdge(a.ID, graph.To(graph.END))
		}
	}
	g.SetEntry(agents[0].ID)
	return g, nil
}
